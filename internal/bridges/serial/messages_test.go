package serial

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopics(t *testing.T) {
	assert.Equal(t, "graylogic/command/serial/ele_001", CommandTopic("ele_001"))
	assert.Equal(t, "graylogic/ack/serial/ele_001", AckTopic("ele_001"))
	assert.Equal(t, "graylogic/state/serial/temp_001", StateTopic("temp_001"))
	assert.Equal(t, "graylogic/health/serial", HealthTopic())
	assert.Equal(t, "graylogic/command/serial/+", CommandSubscribeTopic())
}

func TestDeviceFromCommandTopic(t *testing.T) {
	tests := []struct {
		topic string
		want  string
		ok    bool
	}{
		{"graylogic/command/serial/ele_001", "ele_001", true},
		{"graylogic/command/serial/", "", false},
		{"graylogic/command/serial/a/b", "", false},
		{"graylogic/command/knx/ele_001", "", false},
	}
	for _, tt := range tests {
		got, ok := DeviceFromCommandTopic(tt.topic)
		assert.Equal(t, tt.ok, ok, tt.topic)
		assert.Equal(t, tt.want, got, tt.topic)
	}
}

func TestCommandMessage(t *testing.T) {
	var cmd CommandMessage
	require.NoError(t, json.Unmarshal([]byte(`{"metric":"ele","value":"ON","timeout_ms":1500}`), &cmd))
	require.NoError(t, cmd.Validate())
	assert.Equal(t, 1500*time.Millisecond, cmd.Timeout())

	assert.ErrorIs(t, CommandMessage{Value: "ON"}.Validate(), ErrInvalidField)
	assert.ErrorIs(t, CommandMessage{Metric: "ele", Value: "O\nN"}.Validate(), ErrInvalidField)
	assert.ErrorIs(t, CommandMessage{Metric: "ele", TimeoutMS: -1}.Validate(), ErrInvalidField)
	assert.ErrorIs(t, CommandMessage{Metric: "ele", TimeoutMS: math.MaxInt64}.Validate(), ErrInvalidField)
	assert.ErrorIs(t, CommandMessage{Metric: "ele", TimeoutMS: MaxCommandTimeout.Milliseconds() + 1}.Validate(), ErrInvalidField)
	assert.NoError(t, CommandMessage{Metric: "ele", TimeoutMS: MaxCommandTimeout.Milliseconds()}.Validate())
	assert.Zero(t, CommandMessage{Metric: "ele"}.Timeout())
}

func TestNewOutcomeMessage(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	req := NewRequest("controller_001", "ele_001", "ele", "ON", time.Second, at, SourceDevice)

	msg := NewOutcomeMessage(Outcome{
		Status:     StatusAcknowledged,
		Request:    req,
		DeviceID:   "ele_001",
		MetricName: "ele",
		Elapsed:    250 * time.Millisecond,
		At:         at,
	})
	assert.Equal(t, req.ID, msg.RequestID)
	assert.Equal(t, "controller_001", msg.Origin)
	assert.Equal(t, StatusAcknowledged, msg.Status)
	assert.Equal(t, int64(250), msg.LatencyMS)
	assert.Empty(t, msg.Error)

	failed := NewOutcomeMessage(Outcome{Status: StatusSendFailed, Err: errBoom, At: at})
	assert.Equal(t, "boom", failed.Error)

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"status":"acknowledged"`)
}

func TestNewStateMessage(t *testing.T) {
	msg := NewStateMessage("temp_001", "temp", "21.5", time.Now())
	assert.Equal(t, ProtocolName, msg.Protocol)
	assert.Equal(t, time.UTC, msg.Timestamp.Location())
}

func TestNewLWTMessage(t *testing.T) {
	msg := NewLWTMessage("serial")
	assert.Equal(t, HealthOffline, msg.Status)
	assert.Equal(t, "serial", msg.Bridge)
}
