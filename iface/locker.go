package iface

// Locker is a mutual-exclusion lock backed by the remote Redis
// server. Locks created with the same key serialize their critical
// sections across every client and every process sharing that server,
// not only within one process.
type Locker interface {
	// Acquire blocks until the lock is held or the configured acquire
	// timeout elapses.
	Acquire() error

	// Release drops the lock if this locker still holds it. Releasing
	// a lock that has already expired is a no-op, not an error.
	Release() error
}
