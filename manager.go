package keyspace

import (
	"sync"
	"time"

	"github.com/efritz/glock"
	"github.com/efritz/overcurrent"
)

type (
	// Manager owns the connection pool shared by every client talking
	// to the same Redis server. Construct one in the process entry
	// point and pass its pool to each client.
	Manager struct {
		pool      Pool
		logger    Logger
		closeOnce sync.Once
	}

	managerConfig struct {
		password       string
		database       int
		connectTimeout time.Duration
		readTimeout    time.Duration
		writeTimeout   time.Duration
		maxConnections int
		breakerFunc    BreakerFunc
		clock          glock.Clock
		logger         Logger
		dialerFactory  DialerFactory
	}

	// ConfigFunc is a function used to initialize a new manager.
	ConfigFunc func(*managerConfig)
)

// NewManager creates a manager whose pool dials the Redis server at
// the given address.
func NewManager(addr string, configs ...ConfigFunc) *Manager {
	config := &managerConfig{
		password:       "",
		database:       0,
		connectTimeout: time.Second * 5,
		readTimeout:    time.Second * 5,
		writeTimeout:   time.Second * 5,
		maxConnections: 10,
		breakerFunc:    noopBreakerFunc,
		clock:          glock.NewRealClock(),
		logger:         &defaultLogger{},
	}

	for _, f := range configs {
		f(config)
	}

	dialer := config.dialerFactory
	if dialer == nil {
		dialer = func(addr string) DialFunc {
			return makeDialer(addr, config)
		}
	}

	return &Manager{
		pool: NewPool(
			dialer(addr),
			config.maxConnections,
			config.logger,
			config.breakerFunc,
			config.clock,
		),
		logger: config.logger,
	}
}

// WithPassword sets the password (default is "").
func WithPassword(password string) ConfigFunc {
	return func(c *managerConfig) { c.password = password }
}

// WithDatabase sets the database index (default is 0).
func WithDatabase(database int) ConfigFunc {
	return func(c *managerConfig) { c.database = database }
}

// WithConnectTimeout sets the connect timeout for new connections
// (default is 5 seconds).
func WithConnectTimeout(timeout time.Duration) ConfigFunc {
	return func(c *managerConfig) { c.connectTimeout = timeout }
}

// WithReadTimeout sets the read timeout for all connections in the
// pool (default is 5 seconds). Pushed messages on a subscribed
// connection are exempt from this deadline.
func WithReadTimeout(timeout time.Duration) ConfigFunc {
	return func(c *managerConfig) { c.readTimeout = timeout }
}

// WithWriteTimeout sets the write timeout for all connections in the
// pool (default is 5 seconds).
func WithWriteTimeout(timeout time.Duration) ConfigFunc {
	return func(c *managerConfig) { c.writeTimeout = timeout }
}

// WithMaxConnections sets the maximum number of concurrent
// connections that can be in use at once (default is 10).
func WithMaxConnections(maxConnections int) ConfigFunc {
	return func(c *managerConfig) { c.maxConnections = maxConnections }
}

// WithBreaker sets the circuit breaker instance to use around new
// connections. The default uses a no-op circuit breaker.
func WithBreaker(breaker overcurrent.CircuitBreaker) ConfigFunc {
	return func(c *managerConfig) { c.breakerFunc = breaker.Call }
}

// WithBreakerRegistry sets the overcurrent registry to use and the
// name of the circuit breaker config to use around new connections.
// The default uses a no-op circuit breaker.
func WithBreakerRegistry(registry overcurrent.Registry, name string) ConfigFunc {
	return func(c *managerConfig) {
		c.breakerFunc = func(f overcurrent.BreakerFunc) error {
			return registry.Call(name, f, nil)
		}
	}
}

// WithLogger sets the logger instance (the default will use Go's
// builtin logging library).
func WithLogger(logger Logger) ConfigFunc {
	return func(c *managerConfig) { c.logger = logger }
}

// WithDialerFactory sets the factory used to create the pool's dial
// function. The default dials the Redis server over TCP.
func WithDialerFactory(factory DialerFactory) ConfigFunc {
	return func(c *managerConfig) { c.dialerFactory = factory }
}

func withClock(clock glock.Clock) ConfigFunc {
	return func(c *managerConfig) { c.clock = clock }
}

//
// Manager Implementation

// Pool returns the shared pool handle. This performs no I/O and
// never fails.
func (m *Manager) Pool() Pool {
	return m.pool
}

// Close drains the pool and closes every live connection. Only the
// first call has an effect; closing an already-closed manager is a
// no-op.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.pool.Close()
		m.logger.Printf("Closed connection pool")
	})
}

var (
	sharedManager *Manager
	sharedOnce    sync.Once
)

// SharedManager returns the process-wide manager, creating it on
// first call. The address and config values are honored only by the
// call that creates the instance; every later call returns the same
// manager and silently ignores its arguments. Prefer NewManager and
// explicit injection in new code.
func SharedManager(addr string, configs ...ConfigFunc) *Manager {
	sharedOnce.Do(func() {
		sharedManager = NewManager(addr, configs...)
	})

	return sharedManager
}
