package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementExchange    = "voice_exchange"
	MeasurementBridgeStats = "bridge_stats"
)

// WriteExchange records one finished device exchange. outcome is a low
// cardinality tag ("completed", "failed", "rejected").
//
// Example:
//
//	client.WriteExchange("kitchen", "completed", 42, 1830.5, 64000, 96000, 0.0021)
func (c *Client) WriteExchange(deviceID, outcome string, chunks int, durationMS float64, bytesIn, bytesOut int, cost float64) {
	if !c.IsConnected() {
		return
	}

	fields := map[string]interface{}{
		"chunks":      chunks,
		"duration_ms": durationMS,
		"bytes_in":    bytesIn,
		"bytes_out":   bytesOut,
	}
	if cost > 0 {
		fields["cost_usd"] = cost
	}

	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementExchange,
		map[string]string{
			"device_id": deviceID,
			"outcome":   outcome,
		},
		fields,
		time.Now(),
	))
}

// WriteBridgeStats records a snapshot of the bridge counters. It is called
// from the periodic health report.
func (c *Client) WriteBridgeStats(active int, processed, sent, errors uint64) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementBridgeStats,
		nil,
		map[string]interface{}{
			"active_sessions":    active,
			"requests_processed": processed,
			"responses_sent":     sent,
			"errors":             errors,
		},
		time.Now(),
	))
}

// WritePoint writes a custom point with full control over tags and fields.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a custom point with an explicit timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
}
