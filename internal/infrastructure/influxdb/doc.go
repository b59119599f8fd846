// Package influxdb records voice bridge telemetry in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched non-blocking writes and health monitoring.
//
// # Measurements
//
//   - voice_exchange: one point per device exchange, tagged by device_id
//     and outcome, with chunk count, duration, audio byte counts and cost
//   - bridge_stats: periodic snapshot of session and request counters
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteExchange("kitchen", "completed", 42, 1830.5, 64000, 96000, 0)
//
// # Error Handling
//
// Writes are batched according to batch_size and flush_interval and never
// block the caller. Asynchronous write failures are delivered to the
// SetOnError callback. Connection and health check errors are returned
// directly. A nil or closed *Client silently drops writes, so callers may
// pass it where telemetry is optional.
package influxdb
