package session

import (
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// Key identifies a session by device and session id.
type Key struct {
	DeviceID  string
	SessionID string
}

// String returns "device/session".
func (k Key) String() string {
	return k.DeviceID + "/" + k.SessionID
}

// Session is one admitted (device, session) pair.
//
// Request flows that share a key share the Session. A flow must hold the
// session lock (Lock/Unlock) while it drives the backend, so two requests
// for the same key never run against the backend at the same time.
type Session struct {
	key       Key
	createdAt time.Time

	// flow serialises request flows on this session.
	flow sync.Mutex

	backendMu sync.Mutex
	backend   io.Closer

	// lastActive is unix nanoseconds.
	lastActive atomic.Int64

	// holders is guarded by the owning Registry's mutex.
	holders int
}

func newSession(key Key, now time.Time) *Session {
	s := &Session{key: key, createdAt: now}
	s.lastActive.Store(now.UnixNano())
	return s
}

// Key returns the session's key.
func (s *Session) Key() Key { return s.key }

// CreatedAt returns when the session was first admitted.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Lock acquires exclusive use of the session for one request flow.
func (s *Session) Lock() { s.flow.Lock() }

// Unlock releases the flow lock.
func (s *Session) Unlock() { s.flow.Unlock() }

// Touch records activity, postponing idle reaping.
func (s *Session) Touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

// LastActive returns the time of the most recent activity.
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

// Attach stores the backend handle owned by this session. Any previous
// handle is returned so the caller can close it.
func (s *Session) Attach(backend io.Closer) io.Closer {
	s.backendMu.Lock()
	defer s.backendMu.Unlock()
	prev := s.backend
	s.backend = backend
	return prev
}

// Backend returns the attached backend handle, or nil.
func (s *Session) Backend() io.Closer {
	s.backendMu.Lock()
	defer s.backendMu.Unlock()
	return s.backend
}

// closeBackend detaches and closes the backend handle.
func (s *Session) closeBackend() error {
	s.backendMu.Lock()
	backend := s.backend
	s.backend = nil
	s.backendMu.Unlock()

	if backend == nil {
		return nil
	}
	return backend.Close()
}

// Lease is one request's hold on a session. Release it exactly once when the
// request completes; further calls are no-ops.
type Lease struct {
	registry *Registry
	session  *Session
	once     sync.Once
}

// Session returns the leased session.
func (l *Lease) Session() *Session { return l.session }

// Release drops this request's hold. When the last hold is dropped the
// session leaves the registry and its backend is closed.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.registry.dropHolder(l.session)
	})
}
