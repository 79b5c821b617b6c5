// Package session provides the session event log: an append-only,
// strictly ordered stream of events per interaction scope (a chat, an
// assessment run, a workout), plus the context window derived from it.
//
// Sequence numbers are assigned by the store, monotonically and without
// gaps, under a session row lock; a (session_id, seq) unique constraint
// backstops the lock. Events are immutable once written and sessions are
// never hard-deleted, so any session's history can be replayed for
// debugging.
//
// The context window is a content-relevance filter over the stream from
// the session's context start sequence forward. It advances only through
// an explicit checkpoint, never by window size; token budgeting, if any,
// is applied downstream by the reasoning-engine caller.
//
// Thread Safety: Store is safe for concurrent use. Same-session appends
// are serialized at the storage layer; cross-session operations run in
// parallel.
package session
