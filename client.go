package keyspace

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/bradhe/stopwatch"
	"github.com/efritz/backoff"
	"github.com/efritz/glock"
	"github.com/gomodule/redigo/redis"

	"github.com/efritz/keyspace/iface"
)

type (
	// Client is a cheap handle scoped to a single namespace, holding
	// one dedicated connection borrowed from a shared pool.
	Client = iface.Client

	// SubscribeFunc is invoked once per data message received on a
	// subscribed channel.
	SubscribeFunc = iface.SubscribeFunc

	// ErrorPolicy controls what a client does with errors returned
	// by the remote Redis server during an operation.
	ErrorPolicy int

	client struct {
		namespace     string
		pool          Pool
		policy        ErrorPolicy
		borrowTimeout *time.Duration
		lockExpiry    time.Duration
		lockTimeout   *time.Duration
		lockBackoff   backoff.Backoff
		clock         glock.Clock
		logger        Logger
		conn          Conn
		lock          Locker
		state         clientState
		mutex         sync.Mutex
	}

	clientState int

	clientConfig struct {
		policy        ErrorPolicy
		borrowTimeout *time.Duration
		lockExpiry    time.Duration
		lockTimeout   *time.Duration
		lockBackoff   backoff.Backoff
		clock         glock.Clock
		logger        Logger
	}

	// ClientConfigFunc is a function used to initialize a new client.
	ClientConfigFunc func(*clientConfig)
)

const (
	// PolicyPropagate returns Redis errors to the caller.
	PolicyPropagate ErrorPolicy = iota

	// PolicySoften logs Redis errors and degrades the result to an
	// absent value, an empty sequence, a zero count, or a no-op.
	// Lifecycle errors (ErrNotInitialized, ErrClosed, and
	// ErrNoConnection) are returned regardless of policy.
	PolicySoften
)

const (
	stateUninitialized clientState = iota
	stateReady
	stateClosed
)

var (
	// ErrNoConnection is returned when the borrow timeout elapses.
	ErrNoConnection = errors.New("no connection available in pool")

	// ErrNotInitialized is returned when an operation is invoked on a
	// client before Init.
	ErrNotInitialized = errors.New("client not initialized")

	// ErrClosed is returned when an operation is invoked on a client
	// after Close.
	ErrClosed = errors.New("client closed")
)

// NewClient creates an uninitialized client bound to the given
// namespace and pool. No I/O occurs until Init.
func NewClient(namespace string, pool Pool, configs ...ClientConfigFunc) Client {
	config := &clientConfig{
		policy:      PolicyPropagate,
		lockExpiry:  time.Second * 30,
		lockBackoff: backoff.NewConstantBackoff(time.Millisecond * 100),
		clock:       glock.NewRealClock(),
		logger:      &defaultLogger{},
	}

	for _, f := range configs {
		f(config)
	}

	return &client{
		namespace:     namespace,
		pool:          pool,
		policy:        config.policy,
		borrowTimeout: config.borrowTimeout,
		lockExpiry:    config.lockExpiry,
		lockTimeout:   config.lockTimeout,
		lockBackoff:   config.lockBackoff,
		clock:         config.clock,
		logger:        config.logger,
	}
}

// OpenClient creates a client and initializes it.
func OpenClient(namespace string, pool Pool, configs ...ClientConfigFunc) (Client, error) {
	c := NewClient(namespace, pool, configs...)
	if err := c.Init(); err != nil {
		return nil, err
	}

	return c, nil
}

// WithErrorPolicy sets what the client does with errors returned by
// the remote server during an operation (default is PolicyPropagate).
func WithErrorPolicy(policy ErrorPolicy) ClientConfigFunc {
	return func(c *clientConfig) { c.policy = policy }
}

// WithBorrowTimeout sets the maximum time Init will block waiting for
// a connection to become available in the pool (the default blocks
// indefinitely).
func WithBorrowTimeout(timeout time.Duration) ClientConfigFunc {
	return func(c *clientConfig) { c.borrowTimeout = &timeout }
}

// WithLockExpiry sets the expiration attached to the namespace lock
// so that a crashed holder cannot wedge the namespace (default is 30
// seconds). A zero value creates a non-expiring lock.
func WithLockExpiry(expiry time.Duration) ClientConfigFunc {
	return func(c *clientConfig) { c.lockExpiry = expiry }
}

// WithLockAcquireTimeout bounds the time a mutating operation will
// wait for the namespace lock (the default waits indefinitely).
func WithLockAcquireTimeout(timeout time.Duration) ClientConfigFunc {
	return func(c *clientConfig) { c.lockTimeout = &timeout }
}

// WithLockBackoff sets the interval generator used between attempts
// to acquire a contended namespace lock (the default retries on a
// constant 100ms interval).
func WithLockBackoff(b backoff.Backoff) ClientConfigFunc {
	return func(c *clientConfig) { c.lockBackoff = b }
}

// WithClientLogger sets the logger instance (the default will use
// Go's builtin logging library).
func WithClientLogger(logger Logger) ClientConfigFunc {
	return func(c *clientConfig) { c.logger = logger }
}

func withClientClock(clock glock.Clock) ClientConfigFunc {
	return func(c *clientConfig) { c.clock = clock }
}

//
// Client Lifecycle

func (c *client) Init() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	switch c.state {
	case stateReady:
		return nil
	case stateClosed:
		return ErrClosed
	}

	conn, ok := c.timedBorrow()
	if !ok {
		c.logger.Printf("Could not initialize client for namespace %s", c.namespace)
		return ErrNoConnection
	}

	// The connection and the lock materialize together; a client is
	// never left holding one without the other.
	c.conn = conn
	c.lock = newLock(
		c.command,
		lockKey(c.namespace),
		c.lockExpiry,
		c.lockTimeout,
		c.lockBackoff,
		c.clock,
		c.logger,
	)

	c.state = stateReady
	c.logger.Printf("Initialized connection for namespace %s", c.namespace)
	return nil
}

func (c *client) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.state != stateReady {
		// Closing twice (or before init) is a silent no-op.
		c.state = stateClosed
		return nil
	}

	c.pool.Release(c.conn)
	c.conn = nil
	c.lock = nil
	c.state = stateClosed

	c.logger.Printf("Closed connection for namespace %s", c.namespace)
	return nil
}

//
// Client Operations

func (c *client) Set(key string, value interface{}, ttl time.Duration) error {
	lock, err := c.locker()
	if err != nil {
		return err
	}

	if err := lock.Acquire(); err != nil {
		return err
	}
	defer c.release(lock)

	args := redis.Args{}.Add(key, value)
	if ttl > 0 {
		args = args.Add("PX", ttl.Milliseconds())
	}

	if _, err := c.command("SET", args...); err != nil {
		return c.opError(err, "Error setting key %s in namespace %s", key, c.namespace)
	}

	c.logger.Printf("Set key %s in namespace %s", key, c.namespace)
	return nil
}

func (c *client) Get(key string) (string, bool, error) {
	value, err := redis.String(c.command("GET", key))
	if err == redis.ErrNil {
		return "", false, nil
	}
	if err != nil {
		return "", false, c.opError(err, "Error getting key %s in namespace %s", key, c.namespace)
	}

	c.logger.Printf("Got key %s in namespace %s", key, c.namespace)
	return value, true, nil
}

func (c *client) Keys(pattern string) ([]string, error) {
	keys, err := redis.Strings(c.command("KEYS", pattern))
	if err != nil {
		return nil, c.opError(err, "Error getting keys matching pattern %s in namespace %s", pattern, c.namespace)
	}

	c.logger.Printf("Got keys matching pattern %s in namespace %s", pattern, c.namespace)
	return keys, nil
}

func (c *client) SAdd(key string, values ...interface{}) (int, error) {
	if len(values) == 0 {
		return 0, nil
	}

	lock, err := c.locker()
	if err != nil {
		return 0, err
	}

	if err := lock.Acquire(); err != nil {
		return 0, err
	}
	defer c.release(lock)

	added, err := redis.Int(c.command("SADD", redis.Args{}.Add(key).Add(values...)...))
	if err != nil {
		return 0, c.opError(err, "Error adding values to set %s in namespace %s", key, c.namespace)
	}

	c.logger.Printf("Added %d values to set %s in namespace %s", added, key, c.namespace)
	return added, nil
}

func (c *client) Publish(channel string, message interface{}) error {
	if _, err := c.command("PUBLISH", channel, message); err != nil {
		return c.opError(err, "Error publishing message to channel %s in namespace %s", channel, c.namespace)
	}

	c.logger.Printf("Published message to channel %s in namespace %s", channel, c.namespace)
	return nil
}

//
// Client Helper Functions

// Invoke a command on the dedicated connection. If the connection
// went stale while pooled (the TCP connection to the remote Redis
// server may have been reaped by a proxy, depending on your network
// topology), close it, replace it with a fresh borrow, and try again.
func (c *client) command(command string, args ...interface{}) (interface{}, error) {
	return c.retryableCommand(true, command, args)
}

// A command that fails with a connection-level error is retried at
// most once on a fresh connection. If the server is flapping hard
// enough to kill two connections in a row, surface the error instead
// of hammering the pool.
func (c *client) retryableCommand(retry bool, command string, args []interface{}) (interface{}, error) {
	c.mutex.Lock()
	err := c.ready()
	conn := c.conn
	c.mutex.Unlock()

	if err != nil {
		return nil, err
	}

	result, err := conn.Do(command, args...)

	if err != nil && retry && shouldRetry(err) {
		c.logger.Printf("Connection for namespace %s was stale, redialing", c.namespace)

		if err := c.redial(conn); err != nil {
			return nil, err
		}

		return c.retryableCommand(false, command, args)
	}

	return result, err
}

// Replace the client's stale connection with a fresh borrow from the
// pool. The stale connection never goes back to the pool live (if we
// did not release a nil value in its place, the capacity of the pool
// would permanently decrease).
func (c *client) redial(stale Conn) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if err := c.ready(); err != nil {
		return err
	}

	if c.conn != stale {
		// Someone else already replaced the connection.
		return nil
	}

	if err := stale.Close(); err != nil {
		c.logger.Printf("Could not close stale connection (%s)", err.Error())
	}
	c.pool.Release(nil)

	conn, ok := c.timedBorrow()
	if !ok {
		// Drop back to uninitialized so that a later Init can revive
		// the client instead of leaving a half-ready handle around.
		c.conn = nil
		c.lock = nil
		c.state = stateUninitialized
		return ErrNoConnection
	}

	c.conn = conn
	return nil
}

// Borrows and logs the time it took to return from blocking on the
// pool's borrow method.
func (c *client) timedBorrow() (Conn, bool) {
	start := stopwatch.Start()
	conn, ok := c.borrow()
	elapsed := start.Stop().Milliseconds()

	if ok {
		c.logger.Printf("Received connection after %vms", elapsed)
	} else {
		c.logger.Printf("Could not borrow connection after %vms", elapsed)
	}

	return conn, ok
}

// Borrows from the pool using the correct method (depending on if
// a borrow timeout was configured on this client).
func (c *client) borrow() (Conn, bool) {
	if c.borrowTimeout == nil {
		return c.pool.Borrow()
	}

	return c.pool.BorrowTimeout(*c.borrowTimeout)
}

// Must be called with the client mutex held.
func (c *client) ready() error {
	switch c.state {
	case stateUninitialized:
		return ErrNotInitialized
	case stateClosed:
		return ErrClosed
	}

	return nil
}

func (c *client) locker() (Locker, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if err := c.ready(); err != nil {
		return nil, err
	}

	return c.lock, nil
}

func (c *client) release(lock Locker) {
	if err := lock.Release(); err != nil {
		c.logger.Printf("Error releasing lock for namespace %s (%s)", c.namespace, err.Error())
	}
}

// opError logs the error and applies the client's error policy:
// under PolicySoften the error is reported as handled so the caller
// degrades to an empty result. Lifecycle errors always propagate.
func (c *client) opError(err error, format string, args ...interface{}) error {
	if isLifecycleError(err) {
		return err
	}

	c.logger.Printf(format+" (%s)", append(args, err.Error())...)

	if c.policy == PolicySoften {
		return nil
	}

	return err
}

func isLifecycleError(err error) bool {
	return err == ErrNotInitialized || err == ErrClosed || err == ErrNoConnection
}

// Given an error, determine if we should try to re-invoke the
// command on another (possibly fresh) connection.
func shouldRetry(err error) bool {
	if _, ok := err.(connErr); ok {
		return true
	}

	return err == io.EOF || err == io.ErrUnexpectedEOF
}
