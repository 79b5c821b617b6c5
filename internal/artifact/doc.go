// Package artifact provides the versioned artifact store for coaching
// documents: goal contracts, training programs, and workout instances.
//
// A lineage is one logical document; every edit produces a new immutable
// version row, never an in-place update. Versions move through
// draft → approved → active → archived (goal contracts may also be
// deferred). An append-only audit trail records every transition.
//
// Activation swaps the active-version pointer: a single row per owner
// per artifact class naming the canonical version. The swap is guarded
// by optimistic concurrency: the caller presents the pointer it last
// read, and activation fails with ErrPointerMoved if someone else
// activated in between. A partial unique index additionally enforces
// at most one active version per owner per class.
//
// Thread Safety: Store is safe for concurrent use; all coordination is
// done through database row locks and conditional writes.
package artifact
