package serial

import (
	"fmt"
	"strings"
	"time"
)

// MQTT message types exchanged between the serial bridge and its MQTT consumers.

// ProtocolName identifies this bridge in topics and payloads.
const ProtocolName = "serial"

// MaxCommandTimeout caps the acknowledgment timeout a manual command may request.
const MaxCommandTimeout = time.Hour

// CommandMessage asks the bridge to send a routed command to a device.
// Topic: graylogic/command/serial/{device_id}
type CommandMessage struct {
	// ID correlates the command with its outcome. Generated when empty.
	ID string `json:"id,omitempty"`

	// Metric is the metric name written in the routed command.
	Metric string `json:"metric"`

	// Value is the value written in the routed command.
	Value string `json:"value"`

	// TimeoutMS overrides the acknowledgment timeout. Zero uses the default.
	TimeoutMS int64 `json:"timeout_ms,omitempty"`
}

// Validate checks that the command can be written to the wire.
func (m CommandMessage) Validate() error {
	if m.Metric == "" {
		return fmt.Errorf("%w: metric is required", ErrInvalidField)
	}
	if err := ValidateField("metric", m.Metric); err != nil {
		return err
	}
	if err := ValidateField("value", m.Value); err != nil {
		return err
	}
	if m.TimeoutMS < 0 {
		return fmt.Errorf("%w: timeout_ms must not be negative", ErrInvalidField)
	}
	if m.TimeoutMS > MaxCommandTimeout.Milliseconds() {
		return fmt.Errorf("%w: timeout_ms must not exceed %d", ErrInvalidField, MaxCommandTimeout.Milliseconds())
	}
	return nil
}

// Timeout returns the requested timeout, or zero for the default.
func (m CommandMessage) Timeout() time.Duration {
	return time.Duration(m.TimeoutMS) * time.Millisecond
}

// OutcomeMessage reports the result of a routed command.
// Topic: graylogic/ack/serial/{device_id}
type OutcomeMessage struct {
	RequestID string        `json:"request_id,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	DeviceID  string        `json:"device_id"`
	Origin    string        `json:"origin,omitempty"`
	Metric    string        `json:"metric"`
	Value     string        `json:"value,omitempty"`
	Status    OutcomeStatus `json:"status"`
	Source    string        `json:"source,omitempty"`
	LatencyMS int64         `json:"latency_ms,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// NewOutcomeMessage converts an engine outcome to its MQTT form.
func NewOutcomeMessage(o Outcome) OutcomeMessage {
	msg := OutcomeMessage{
		RequestID: o.Request.ID,
		Timestamp: o.At.UTC(),
		DeviceID:  o.DeviceID,
		Origin:    o.Request.OriginDeviceID,
		Metric:    o.MetricName,
		Value:     o.Request.Value,
		Status:    o.Status,
		Source:    o.Request.Source,
		LatencyMS: o.Elapsed.Milliseconds(),
	}
	if o.Err != nil {
		msg.Error = o.Err.Error()
	}
	return msg
}

// StateMessage carries one sensor reading.
// Topic: graylogic/state/serial/{device_id}
type StateMessage struct {
	DeviceID  string    `json:"device_id"`
	Timestamp time.Time `json:"timestamp"`
	Metric    string    `json:"metric"`
	Value     string    `json:"value"`
	Protocol  string    `json:"protocol"`
}

// NewStateMessage creates a state message for a reading.
func NewStateMessage(deviceID, metric, value string, at time.Time) StateMessage {
	return StateMessage{
		DeviceID:  deviceID,
		Timestamp: at.UTC(),
		Metric:    metric,
		Value:     value,
		Protocol:  ProtocolName,
	}
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates every port session is connected.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates some sessions are closed or MQTT is down.
	HealthDegraded HealthStatus = "degraded"

	// HealthUnhealthy indicates no session is connected.
	HealthUnhealthy HealthStatus = "unhealthy"

	// HealthOffline is the last-will status published by the broker.
	HealthOffline HealthStatus = "offline"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports bridge status.
// Topic: graylogic/health/serial
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge          string          `json:"bridge"`
	Timestamp       time.Time       `json:"timestamp"`
	Status          HealthStatus    `json:"status"`
	Version         string          `json:"version,omitempty"`
	UptimeSeconds   int64           `json:"uptime_seconds"`
	Sessions        []SessionHealth `json:"sessions,omitempty"`
	PendingCommands int             `json:"pending_commands"`
	Reason          string          `json:"reason,omitempty"`
}

// SessionHealth summarises one port session.
type SessionHealth struct {
	DeviceID     string    `json:"device_id"`
	State        string    `json:"state"`
	FramesRx     uint64    `json:"frames_rx"`
	FramesTx     uint64    `json:"frames_tx"`
	DecodeErrors uint64    `json:"decode_errors"`
	SinkErrors   uint64    `json:"sink_errors"`
	LastActivity time.Time `json:"last_activity"`
}

// NewSessionHealth converts session stats to the health form.
func NewSessionHealth(s SessionStats) SessionHealth {
	return SessionHealth{
		DeviceID:     s.DeviceID,
		State:        s.State.String(),
		FramesRx:     s.FramesRx,
		FramesTx:     s.FramesTx,
		DecodeErrors: s.DecodeErrors,
		SinkErrors:   s.SinkErrors,
		LastActivity: s.LastActivity.UTC(),
	}
}

// NewLWTMessage creates the Last Will and Testament message.
func NewLWTMessage(bridgeID string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}

// Topic helpers

// TopicPrefix is the base topic for all Gray Logic messages.
const TopicPrefix = "graylogic"

// CommandTopic returns the manual command topic for a device.
// Example: graylogic/command/serial/ele_001
func CommandTopic(deviceID string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, ProtocolName, deviceID)
}

// AckTopic returns the outcome topic for a device.
// Example: graylogic/ack/serial/ele_001
func AckTopic(deviceID string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefix, ProtocolName, deviceID)
}

// StateTopic returns the reading topic for a device.
// Example: graylogic/state/serial/temp_001
func StateTopic(deviceID string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, ProtocolName, deviceID)
}

// HealthTopic returns the bridge health topic.
// Example: graylogic/health/serial
func HealthTopic() string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, ProtocolName)
}

// CommandSubscribeTopic returns the subscription pattern for manual commands.
// Example: graylogic/command/serial/+
func CommandSubscribeTopic() string {
	return fmt.Sprintf("%s/command/%s/+", TopicPrefix, ProtocolName)
}

// DeviceFromCommandTopic extracts the device ID from a command topic.
func DeviceFromCommandTopic(topic string) (string, bool) {
	prefix := fmt.Sprintf("%s/command/%s/", TopicPrefix, ProtocolName)
	id, ok := strings.CutPrefix(topic, prefix)
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}
