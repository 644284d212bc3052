package nest

import "errors"

// Sentinel errors returned by the core components. Callers distinguish
// them with errors.Is.
var (
	// ErrNotFound means a path does not resolve to a live node.
	ErrNotFound = errors.New("not found")

	// ErrHashCollision means two different payloads produced the same
	// content hash (same hash, different size). This is fatal: it
	// indicates digest or storage corruption and is never retried.
	ErrHashCollision = errors.New("content hash collision")

	// ErrLockUnavailable means the exclusive section over the collection
	// set could not be acquired within the configured timeout. The
	// operation did not start; it is safe to retry.
	ErrLockUnavailable = errors.New("exclusive section unavailable")

	// ErrCorruptTree means the renester cannot terminate because of
	// cyclic or dangling parent references. Requires manual repair.
	ErrCorruptTree = errors.New("collection tree is corrupt")

	// ErrMoveFailed means a failure occurred while applying a move's
	// merge plan. The transaction was rolled back; nothing changed.
	ErrMoveFailed = errors.New("move failed")
)
