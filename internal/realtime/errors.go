package realtime

import (
	"errors"
	"fmt"
)

// Sentinel errors. Callers classify failures with errors.Is.
var (
	// ErrConnectionFailed is returned when every connection strategy failed.
	ErrConnectionFailed = errors.New("realtime: connection failed")

	// ErrNegotiationFailed is returned when the backend did not confirm the
	// session configuration.
	ErrNegotiationFailed = errors.New("realtime: session negotiation failed")

	// ErrSendFailed is returned when audio could not be submitted.
	ErrSendFailed = errors.New("realtime: send failed")

	// ErrBackend wraps error events reported by the backend.
	ErrBackend = errors.New("realtime: backend error")

	// ErrTimeout is returned when the backend went silent mid-response.
	ErrTimeout = errors.New("realtime: timed out waiting for backend")

	// ErrClosed is returned when the connection closed mid-response or the
	// session was used after Close.
	ErrClosed = errors.New("realtime: connection closed")

	// ErrInvalidTransition is returned for an operation not allowed in the
	// current state.
	ErrInvalidTransition = errors.New("realtime: invalid state transition")
)

// BackendError is an error event received from the backend.
type BackendError struct {
	Type    string
	Code    string
	Message string
}

func (e *BackendError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("backend error %s: %s", e.Code, e.Message)
	}
	return "backend error: " + e.Message
}

// Unwrap lets errors.Is(err, ErrBackend) match.
func (e *BackendError) Unwrap() error {
	return ErrBackend
}
