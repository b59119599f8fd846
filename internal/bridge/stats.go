package bridge

import "sync/atomic"

// Stats is a point-in-time copy of the bridge counters. Counters only grow
// and are reset only by a process restart.
type Stats struct {
	// RequestsProcessed counts audio requests that completed successfully.
	RequestsProcessed uint64 `json:"requests_processed"`

	// ResponsesSent counts audio response chunks published.
	ResponsesSent uint64 `json:"responses_sent"`

	// Errors counts failed or rejected requests and undecodable messages.
	Errors uint64 `json:"errors"`

	// Dropped counts messages rejected because the bridge had no room to
	// queue them. Each is also counted in Errors.
	Dropped uint64 `json:"dropped"`
}

// asMap renders the counters for health system_info.
func (s Stats) asMap() map[string]any {
	return map[string]any{
		"requests_processed": s.RequestsProcessed,
		"responses_sent":     s.ResponsesSent,
		"errors":             s.Errors,
		"dropped":            s.Dropped,
	}
}

type counters struct {
	requestsProcessed atomic.Uint64
	responsesSent     atomic.Uint64
	errors            atomic.Uint64
	dropped           atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		RequestsProcessed: c.requestsProcessed.Load(),
		ResponsesSent:     c.responsesSent.Load(),
		Errors:            c.errors.Load(),
		Dropped:           c.dropped.Load(),
	}
}
