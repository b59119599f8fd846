// Package session tracks active (device, session) pairs and enforces the
// bridge's concurrency cap.
//
// A request obtains a Lease with Registry.Admit and releases it when done.
// Requests for a key that is already active share its Session and serialise
// on the session lock; the backend connection attached to the Session is
// closed when the last lease is released. The registry is the only cache of
// backend connections.
//
// Sessions idle for longer than the configured timeout are released by the
// reaper. An optional Mirror (RedisMirror) exposes membership to other
// processes.
package session
