package keyspace

import (
	"github.com/gomodule/redigo/redis"

	"github.com/efritz/keyspace/iface"
)

type (
	// Conn abstracts a single, feature-minimal connection to Redis.
	Conn = iface.Conn

	redigoShim struct {
		conn redis.Conn
	}

	connErr struct{ error }

	// DialFunc creates a connection to Redis or returns an error.
	DialFunc func() (Conn, error)

	// DialerFactory creates a DialFunc for the given address.
	DialerFactory func(addr string) DialFunc
)

func makeDialer(addr string, config *managerConfig) DialFunc {
	return func() (Conn, error) {
		conn, err := redis.Dial(
			"tcp",
			addr,
			redis.DialPassword(config.password),
			redis.DialDatabase(config.database),
			redis.DialConnectTimeout(config.connectTimeout),
			redis.DialReadTimeout(config.readTimeout),
			redis.DialWriteTimeout(config.writeTimeout),
		)

		if err != nil {
			return nil, err
		}

		return &redigoShim{conn}, nil
	}
}

func (s *redigoShim) Close() error {
	return s.conn.Close()
}

func (s *redigoShim) Do(command string, args ...interface{}) (interface{}, error) {
	result, err := s.conn.Do(command, args...)
	return result, s.wrapError(err)
}

func (s *redigoShim) Send(command string, args ...interface{}) error {
	return s.wrapError(s.conn.Send(command, args...))
}

func (s *redigoShim) Flush() error {
	return s.wrapError(s.conn.Flush())
}

// Receive reads the next pushed reply. The connection's read timeout
// is suppressed so that a subscribed connection can park here between
// messages without tripping the deadline.
func (s *redigoShim) Receive() (interface{}, error) {
	if cwt, ok := s.conn.(redis.ConnWithTimeout); ok {
		reply, err := cwt.ReceiveWithTimeout(0)
		return reply, s.wrapError(err)
	}

	reply, err := s.conn.Receive()
	return reply, s.wrapError(err)
}

func (s *redigoShim) wrapError(err error) error {
	// If there's an error on the connection, wrap it and return that
	// so we can flag the retry loop in the client to retry instead of
	// returning the error on this attempt.

	if s.conn.Err() != nil {
		return connErr{s.conn.Err()}
	}

	return err
}
