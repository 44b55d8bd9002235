package logstore

import (
	"context"
	"time"

	"github.com/nerrad567/gray-logic-serial/internal/bridges/serial"
)

// InfluxWriter is the subset of *influxdb.Client the store uses.
type InfluxWriter interface {
	WriteReading(deviceID, dataType, metric, value string, ts time.Time) error
	WriteCommandOutcome(deviceID, metric, status string, latency time.Duration, acked bool, ts time.Time) error
}

// InfluxStore writes readings and command outcomes as InfluxDB points.
// Writes are batched by the client; failures surface through its error callback.
type InfluxStore struct {
	client InfluxWriter
	now    func() time.Time
}

// NewInfluxStore wraps a connected client.
func NewInfluxStore(client InfluxWriter) *InfluxStore {
	return &InfluxStore{client: client, now: time.Now}
}

// Record queues one reading point.
func (s *InfluxStore) Record(_ context.Context, deviceID, dataType, metricName, value string) error {
	return s.client.WriteReading(deviceID, dataType, metricName, value, s.now())
}

// OnOutcome queues one serial_command point, including unexpected ACKs.
func (s *InfluxStore) OnOutcome(o serial.Outcome) {
	acked := o.Status == serial.StatusAcknowledged
	_ = s.client.WriteCommandOutcome(o.DeviceID, o.MetricName, string(o.Status), o.Elapsed, acked, o.At) //nolint:errcheck // closed client drops points
}
