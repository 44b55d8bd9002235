// Package logstore persists what the serial bridge sees.
//
// Every store implements the bridge's reading sink,
//
//	Record(ctx, deviceID, dataType, metricName, value) error
//
// and the SQL and InfluxDB stores also observe routed command outcomes:
//
//   - SQLiteStore   logs + command_log tables in the local database
//   - PostgresStore logs + command_log tables on a PostgreSQL server
//   - InfluxStore   serial_reading and serial_command measurements
//   - MultiSink     fans a reading out to several stores
//
// SQL stores ping and retry once when a write fails, so a dropped server
// connection costs one reading at most rather than every reading after it.
package logstore
