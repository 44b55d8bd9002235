package logstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-serial/internal/bridges/serial"
)

type influxPoint struct {
	deviceID, dataType, metric, value, status string
	latency                                   time.Duration
	acked                                     bool
	ts                                        time.Time
}

type fakeInflux struct {
	readings []influxPoint
	commands []influxPoint
	err      error
}

func (f *fakeInflux) WriteReading(deviceID, dataType, metric, value string, ts time.Time) error {
	f.readings = append(f.readings, influxPoint{deviceID: deviceID, dataType: dataType, metric: metric, value: value, ts: ts})
	return f.err
}

func (f *fakeInflux) WriteCommandOutcome(deviceID, metric, status string, latency time.Duration, acked bool, ts time.Time) error {
	f.commands = append(f.commands, influxPoint{deviceID: deviceID, metric: metric, status: status, latency: latency, acked: acked, ts: ts})
	return f.err
}

func TestInfluxStore_Record(t *testing.T) {
	client := &fakeInflux{}
	store := NewInfluxStore(client)
	store.now = func() time.Time { return testEpoch }

	require.NoError(t, store.Record(context.Background(), "ele_001", "reading", "temperature", "21.5"))

	require.Len(t, client.readings, 1)
	assert.Equal(t, influxPoint{deviceID: "ele_001", dataType: "reading", metric: "temperature", value: "21.5", ts: testEpoch}, client.readings[0])
}

func TestInfluxStore_OnOutcome(t *testing.T) {
	client := &fakeInflux{}
	store := NewInfluxStore(client)

	store.OnOutcome(ackOutcome("req-1", 200*time.Millisecond))
	store.OnOutcome(serial.Outcome{Status: serial.StatusUnexpectedAck, DeviceID: "ele_002", MetricName: "ele_002", At: testEpoch})

	require.Len(t, client.commands, 2)
	assert.True(t, client.commands[0].acked)
	assert.Equal(t, 200*time.Millisecond, client.commands[0].latency)
	assert.Equal(t, "unexpected_ack", client.commands[1].status)
	assert.False(t, client.commands[1].acked)
}
