package iface

import (
	"context"
	"time"
)

// SubscribeFunc is invoked once per data message received on a
// subscribed channel. Callbacks run sequentially and the next message
// is not read from the server until the previous callback returns.
type SubscribeFunc func(payload string)

// Client is a cheap handle scoped to a single namespace. A client
// holds one dedicated connection borrowed from a shared pool for its
// entire lifetime, and a Redis-backed lock that serializes mutating
// operations (Set, SAdd) across every process using the same
// namespace. Read and broadcast operations are lock-free.
type Client interface {
	// Init borrows a dedicated connection from the pool and creates
	// the namespace lock. Operations invoked before a successful Init
	// fail with ErrNotInitialized. Calling Init on a ready client is
	// a no-op.
	Init() error

	// Close returns the dedicated connection to the pool. Closing an
	// already-closed client is a silent no-op. Close never affects
	// other clients sharing the same pool.
	Close() error

	// Set stores a value under the given key. A non-zero ttl attaches
	// an expiration to the key. The namespace lock is held for the
	// duration of the command.
	Set(key string, value interface{}, ttl time.Duration) error

	// Get returns the value stored under the given key. The second
	// return value is false if the key does not exist.
	Get(key string) (string, bool, error)

	// Keys returns the keys matching the given glob-style pattern, in
	// no particular order. Pattern matching is performed remotely.
	Keys(pattern string) ([]string, error)

	// SAdd adds the given values to the set stored under the given
	// key and returns the number of members that were not already
	// present. The namespace lock is held for the duration of the
	// command.
	SAdd(key string, values ...interface{}) (int, error)

	// Publish sends a message to the given channel.
	Publish(channel string, message interface{}) error

	// Subscribe reads messages from the given channel and invokes the
	// callback once per data message, in arrival order. Control
	// replies such as subscription confirmations never reach the
	// callback. The loop runs until the context is cancelled or the
	// message stream ends; on cancellation the channel is
	// unsubscribed and the connection remains usable for further
	// operations.
	Subscribe(ctx context.Context, channel string, callback SubscribeFunc) error
}
