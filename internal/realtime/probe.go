package realtime

import "context"

// Probe checks backend reachability: it connects, negotiates a session with
// the configured defaults and closes again. A nil error means the backend
// accepted a session.
func Probe(ctx context.Context, cfg Config, opts ...Option) error {
	s := New(cfg, opts...)
	defer s.Close() //nolint:errcheck // probe connection is discarded

	if err := s.Connect(ctx); err != nil {
		return err
	}
	return s.Negotiate(ctx, Options{})
}
