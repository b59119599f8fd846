// Package journal keeps an audit log of audio exchanges in SQLite.
//
// Every request handled by the bridge, successful or not, is recorded with
// its outcome, error code, chunk and byte counts, the concatenated
// transcript and the cost estimate. The log backs the exchanges API and is
// pruned by age.
//
// The exchanges table is created by the embedded migrations; see the
// migrations package.
package journal
