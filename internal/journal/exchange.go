package journal

import (
	"context"
	"errors"
	"time"
)

// Exchange outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeRejected  = "rejected"
)

// Query limits.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// ErrInvalidExchange is returned by Record for an exchange missing required
// fields.
var ErrInvalidExchange = errors.New("journal: invalid exchange")

// Exchange is one audio request and its outcome.
type Exchange struct {
	ID            string    `json:"id"`
	DeviceID      string    `json:"device_id"`
	SessionID     string    `json:"session_id"`
	RequestID     string    `json:"request_id"`
	Outcome       string    `json:"outcome"`
	ErrorCode     string    `json:"error_code,omitempty"`
	Chunks        int       `json:"chunks"`
	AudioBytesIn  int       `json:"audio_bytes_in"`
	AudioBytesOut int       `json:"audio_bytes_out"`
	Transcript    string    `json:"transcript,omitempty"`
	DurationMS    float64   `json:"duration_ms"`
	CostEstimate  float64   `json:"cost_estimate"`
	CreatedAt     time.Time `json:"created_at"`
}

// Repository stores exchanges.
type Repository interface {
	// Record inserts an exchange. A missing ID is generated.
	Record(ctx context.Context, ex Exchange) error

	// Recent returns the newest exchanges across all devices.
	Recent(ctx context.Context, limit int) ([]Exchange, error)

	// ByDevice returns the newest exchanges for one device.
	ByDevice(ctx context.Context, deviceID string, limit int) ([]Exchange, error)

	// Prune deletes exchanges created before olderThan and returns how many
	// were removed.
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
}

// clampLimit applies DefaultLimit to non-positive values and caps at MaxLimit.
func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

func validOutcome(outcome string) bool {
	switch outcome {
	case OutcomeCompleted, OutcomeFailed, OutcomeRejected:
		return true
	default:
		return false
	}
}
