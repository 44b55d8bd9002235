package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the bridge.
const (
	MeasurementReading = "serial_reading"
	MeasurementCommand = "serial_command"
)

// WriteReading records one device frame.
//
// Values that parse as a float go to the "value" field so they can be
// aggregated; anything else is kept as the "text" field.
//
// Example:
//
//	client.WriteReading("ele_001", "reading", "temperature", "21.5", time.Now())
func (c *Client) WriteReading(deviceID, dataType, metric, value string, ts time.Time) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementReading,
		map[string]string{
			"device_id": deviceID,
			"data_type": dataType,
			"metric":    metric,
		},
		readingFields(value),
		ts,
	))
	return nil
}

func readingFields(value string) map[string]any {
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return map[string]any{"value": f}
	}
	return map[string]any{"text": value}
}

// WriteCommandOutcome records how a routed command finished.
// latency is omitted for outcomes that never got an ACK.
func (c *Client) WriteCommandOutcome(deviceID, metric, status string, latency time.Duration, acked bool, ts time.Time) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	fields := map[string]any{"count": 1}
	if acked {
		fields["latency_ms"] = float64(latency) / float64(time.Millisecond)
	}

	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementCommand,
		map[string]string{
			"device_id": deviceID,
			"metric":    metric,
			"status":    status,
		},
		fields,
		ts,
	))
	return nil
}
