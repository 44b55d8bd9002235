package serial

import (
	"context"
	"encoding/json"
	"fmt"
)

// MQTT QoS levels used by the bridge.
const (
	qosAtMostOnce  byte = 0
	qosAtLeastOnce byte = 1
)

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests; main adapts the infrastructure client.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// Publisher mirrors readings and command outcomes onto MQTT.
//
// It is a Sink for readings and an OutcomeObserver for outcomes. Publishing
// blocks on the broker, so register it with the engine through an
// AsyncObserver.
type Publisher struct {
	client MQTTClient
	clock  Clock
	logger Logger
}

// Ensure Publisher implements Sink and OutcomeObserver.
var (
	_ Sink            = (*Publisher)(nil)
	_ OutcomeObserver = (*Publisher)(nil)
)

// NewPublisher creates a publisher on client.
func NewPublisher(client MQTTClient, logger Logger) *Publisher {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Publisher{client: client, clock: systemClock{}, logger: logger}
}

// Record publishes a reading to the device state topic.
func (p *Publisher) Record(ctx context.Context, deviceID, _, metricName, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(NewStateMessage(deviceID, metricName, value, p.clock.Now()))
	if err != nil {
		return fmt.Errorf("marshal state message: %w", err)
	}
	if err := p.client.Publish(StateTopic(deviceID), payload, qosAtMostOnce, false); err != nil {
		return fmt.Errorf("publish state for %s: %w", deviceID, err)
	}
	return nil
}

// OnOutcome publishes an outcome to the device ack topic.
func (p *Publisher) OnOutcome(o Outcome) {
	payload, err := json.Marshal(NewOutcomeMessage(o))
	if err != nil {
		p.logger.Error("failed to marshal outcome", "error", err)
		return
	}
	if err := p.client.Publish(AckTopic(o.DeviceID), payload, qosAtLeastOnce, false); err != nil {
		p.logger.Warn("failed to publish outcome",
			"device", o.DeviceID,
			"status", string(o.Status),
			"error", err,
		)
	}
}
