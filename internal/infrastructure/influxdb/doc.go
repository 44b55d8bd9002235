// Package influxdb writes serial bridge telemetry to InfluxDB v2.
//
// Two measurements are written:
//   - serial_reading: one point per frame, tagged device_id/data_type/metric
//   - serial_command: one point per routed command outcome, tagged by status
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	client.WriteReading("ele_001", "reading", "temperature", "21.5", time.Now())
//
// Writes are batched per batch_size and flush_interval. Write failures are
// delivered asynchronously to the SetOnError callback.
package influxdb
