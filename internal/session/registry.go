package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// mirrorTimeout bounds each mirror call so a slow redis never stalls a request.
const mirrorTimeout = 2 * time.Second

// Release reasons passed to OnRelease.
const (
	ReasonCompleted = "completed"
	ReasonReleased  = "released"
	ReasonIdle      = "idle"
	ReasonShutdown  = "shutdown"
)

// Logger is the logging surface used by the registry.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Mirror receives a copy of registry membership, for example to expose
// active sessions to other processes. Mirror failures never affect admission.
type Mirror interface {
	Add(ctx context.Context, snap Snapshot) error
	Remove(ctx context.Context, key Key) error
}

// Snapshot is a read-only view of one session.
type Snapshot struct {
	DeviceID   string        `json:"device_id"`
	SessionID  string        `json:"session_id"`
	CreatedAt  time.Time     `json:"created_at"`
	Age        time.Duration `json:"age"`
	IdleFor    time.Duration `json:"idle_for"`
	Holders    int           `json:"holders"`
	HasBackend bool          `json:"has_backend"`
}

// Options configures a Registry.
type Options struct {
	// MaxSessions caps the number of distinct active keys. Must be >= 1.
	MaxSessions int

	// IdleTimeout releases sessions with no activity for this long when the
	// reaper runs. Zero disables reaping.
	IdleTimeout time.Duration

	// Mirror is optional.
	Mirror Mirror

	// Logger is optional.
	Logger Logger

	// OnAdmit is called after a new key is inserted. Optional.
	OnAdmit func(Key)

	// OnRelease is called after a key leaves the registry. Optional.
	OnRelease func(key Key, reason string)
}

// Registry tracks active sessions and enforces the concurrency cap.
//
// Admission and removal happen under a single mutex so the capacity check and
// the insert are atomic: concurrent Admit calls can never together exceed
// MaxSessions.
//
// A session removed by Release, Reap or CloseAll while requests still hold
// leases on it is parked until the last lease is dropped. Admitting the same
// key in the meantime revives the parked session instead of creating a new
// one, so a key never has two flow locks at once.
//
// Thread Safety: All methods are safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	sessions map[Key]*Session

	// detached holds removed sessions that still have holders.
	detached map[Key]*Session

	max         int
	idleTimeout time.Duration
	mirror      Mirror
	logger      Logger
	onAdmit     func(Key)
	onRelease   func(Key, string)

	now func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) (*Registry, error) {
	if opts.MaxSessions < 1 {
		return nil, fmt.Errorf("max sessions must be at least 1, got %d", opts.MaxSessions)
	}
	return &Registry{
		sessions:    make(map[Key]*Session),
		detached:    make(map[Key]*Session),
		max:         opts.MaxSessions,
		idleTimeout: opts.IdleTimeout,
		mirror:      opts.Mirror,
		logger:      opts.Logger,
		onAdmit:     opts.OnAdmit,
		onRelease:   opts.OnRelease,
		now:         time.Now,
	}, nil
}

// Admit returns a lease on the session for (deviceID, sessionID), creating it
// if needed. An existing key is always admitted so multi-chunk exchanges can
// continue; a new key is rejected with ErrCapacityExceeded when the registry
// is full.
func (r *Registry) Admit(ctx context.Context, deviceID, sessionID string) (*Lease, error) {
	if deviceID == "" {
		return nil, ErrInvalidKey
	}
	key := Key{DeviceID: deviceID, SessionID: sessionID}
	now := r.now()

	r.mu.Lock()
	s, exists := r.sessions[key]
	if !exists {
		if len(r.sessions) >= r.max {
			r.mu.Unlock()
			return nil, fmt.Errorf("%w: %d of %d sessions active", ErrCapacityExceeded, r.max, r.max)
		}
		if parked, ok := r.detached[key]; ok {
			delete(r.detached, key)
			s = parked
		} else {
			s = newSession(key, now)
		}
		r.sessions[key] = s
	}
	s.holders++
	s.lastActive.Store(now.UnixNano())
	snap := r.snapshotLocked(s, now)
	r.mu.Unlock()

	if !exists {
		r.logDebug("session admitted", "device_id", deviceID, "session_id", sessionID)
		r.mirrorAdd(ctx, snap)
		if r.onAdmit != nil {
			r.onAdmit(key)
		}
	}

	return &Lease{registry: r, session: s}, nil
}

// Release removes the key regardless of outstanding leases and closes its
// backend. Flows still holding the session fail on the closed backend; a
// later Admit for the key waits for them on the same flow lock. Releasing an
// absent key is a no-op.
func (r *Registry) Release(deviceID, sessionID string) {
	key := Key{DeviceID: deviceID, SessionID: sessionID}

	r.mu.Lock()
	s, ok := r.sessions[key]
	if ok {
		r.detachLocked(s)
	}
	r.mu.Unlock()

	if ok {
		r.finish(s, ReasonReleased)
	}
}

// Count returns the number of active keys.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Capacity returns the configured maximum.
func (r *Registry) Capacity() int {
	return r.max
}

// Contains reports whether the key is active.
func (r *Registry) Contains(deviceID, sessionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[Key{DeviceID: deviceID, SessionID: sessionID}]
	return ok
}

// Snapshot returns all active sessions, oldest first.
func (r *Registry) Snapshot() []Snapshot {
	now := r.now()

	r.mu.RLock()
	out := make([]Snapshot, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, r.snapshotLocked(s, now))
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Reap releases sessions idle for longer than the idle timeout and returns
// how many were released.
func (r *Registry) Reap(now time.Time) int {
	if r.idleTimeout <= 0 {
		return 0
	}
	cutoff := now.Add(-r.idleTimeout)

	var stale []*Session
	r.mu.Lock()
	for _, s := range r.sessions {
		if s.LastActive().Before(cutoff) {
			stale = append(stale, s)
			r.detachLocked(s)
		}
	}
	r.mu.Unlock()

	for _, s := range stale {
		r.logWarn("reaping idle session",
			"device_id", s.key.DeviceID,
			"session_id", s.key.SessionID,
			"idle_for", now.Sub(s.LastActive()).String())
		r.finish(s, ReasonIdle)
	}
	return len(stale)
}

// RunReaper calls Reap every interval until ctx is cancelled. It returns
// immediately when reaping is disabled.
func (r *Registry) RunReaper(ctx context.Context, interval time.Duration) {
	if r.idleTimeout <= 0 || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Reap(r.now()); n > 0 {
				r.logDebug("idle sessions reaped", "count", n, "remaining", r.Count())
			}
		}
	}
}

// CloseAll releases every session. Used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	for _, s := range all {
		r.detachLocked(s)
	}
	r.mu.Unlock()

	for _, s := range all {
		r.finish(s, ReasonShutdown)
	}
}

// dropHolder is the lease release path.
func (r *Registry) dropHolder(s *Session) {
	r.mu.Lock()
	s.holders--
	current, ok := r.sessions[s.key]
	remove := ok && current == s && s.holders <= 0
	if remove {
		delete(r.sessions, s.key)
	}
	parked := r.detached[s.key] == s && s.holders <= 0
	if parked {
		delete(r.detached, s.key)
	}
	r.mu.Unlock()

	switch {
	case remove:
		r.finish(s, ReasonCompleted)
	case parked:
		// A flow may have attached a backend after the session was
		// released; nothing else will close it.
		if err := s.closeBackend(); err != nil {
			r.logWarn("closing detached session backend",
				"device_id", s.key.DeviceID,
				"session_id", s.key.SessionID,
				"error", err)
		}
	}
}

// detachLocked removes s from the active set, parking it while leases remain.
// Must be called with r.mu held.
func (r *Registry) detachLocked(s *Session) {
	delete(r.sessions, s.key)
	if s.holders > 0 {
		r.detached[s.key] = s
	}
}

// finish runs teardown for a session that has already left the map. Removal
// stands even if closing the backend fails.
func (r *Registry) finish(s *Session, reason string) {
	if err := s.closeBackend(); err != nil {
		r.logWarn("closing session backend",
			"device_id", s.key.DeviceID,
			"session_id", s.key.SessionID,
			"error", err)
	}
	r.mirrorRemove(s.key)
	r.logDebug("session released",
		"device_id", s.key.DeviceID,
		"session_id", s.key.SessionID,
		"reason", reason)
	if r.onRelease != nil {
		r.onRelease(s.key, reason)
	}
}

// snapshotLocked must be called with r.mu held.
func (r *Registry) snapshotLocked(s *Session, now time.Time) Snapshot {
	return Snapshot{
		DeviceID:   s.key.DeviceID,
		SessionID:  s.key.SessionID,
		CreatedAt:  s.createdAt,
		Age:        now.Sub(s.createdAt),
		IdleFor:    now.Sub(s.LastActive()),
		Holders:    s.holders,
		HasBackend: s.Backend() != nil,
	}
}

func (r *Registry) mirrorAdd(ctx context.Context, snap Snapshot) {
	if r.mirror == nil {
		return
	}
	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), mirrorTimeout)
	defer cancel()
	if err := r.mirror.Add(mctx, snap); err != nil {
		r.logWarn("session mirror add failed", "device_id", snap.DeviceID, "error", err)
	}
}

func (r *Registry) mirrorRemove(key Key) {
	if r.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()
	if err := r.mirror.Remove(ctx, key); err != nil {
		r.logWarn("session mirror remove failed", "device_id", key.DeviceID, "error", err)
	}
}

func (r *Registry) logDebug(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Debug(msg, args...)
	}
}

func (r *Registry) logWarn(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Warn(msg, args...)
	}
}
