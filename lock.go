package keyspace

import (
	"errors"
	"time"

	"github.com/efritz/backoff"
	"github.com/efritz/glock"
	"github.com/gomodule/redigo/redis"

	"github.com/efritz/keyspace/iface"
)

type (
	// Locker is a mutual-exclusion lock backed by the remote Redis
	// server, serializing critical sections across processes.
	Locker = iface.Locker

	lock struct {
		run     commandFunc
		key     string
		token   string
		expiry  time.Duration
		timeout *time.Duration
		backoff backoff.Backoff
		clock   glock.Clock
		logger  Logger
	}

	commandFunc func(command string, args ...interface{}) (interface{}, error)
)

// ErrLockTimeout is returned when the namespace lock cannot be
// acquired within the configured bound.
var ErrLockTimeout = errors.New("timed out waiting for lock")

// Compare-and-delete so that a client never releases a lock held by
// another client (ours may have expired and been reacquired).
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`

func newLock(
	run commandFunc,
	key string,
	expiry time.Duration,
	timeout *time.Duration,
	b backoff.Backoff,
	clock glock.Clock,
	logger Logger,
) Locker {
	return &lock{
		run:     run,
		key:     key,
		token:   newToken(),
		expiry:  expiry,
		timeout: timeout,
		backoff: b.Clone(),
		clock:   clock,
		logger:  logger,
	}
}

// Acquire blocks until the lock is held or the acquire timeout
// elapses. A contended lock is retried on the configured backoff
// interval.
func (l *lock) Acquire() error {
	l.backoff.Reset()
	start := l.clock.Now()

	for {
		acquired, err := l.try()
		if err != nil {
			return err
		}

		if acquired {
			return nil
		}

		interval := l.backoff.NextInterval()

		if l.timeout != nil && l.clock.Now().Sub(start)+interval > *l.timeout {
			l.logger.Printf("Could not acquire lock %s", l.key)
			return ErrLockTimeout
		}

		<-l.clock.After(interval)
	}
}

func (l *lock) Release() error {
	_, err := l.run("EVAL", releaseScript, 1, l.key, l.token)
	return err
}

// A single attempt to take the lock. SET NX fails with a nil reply
// when another holder is alive.
func (l *lock) try() (bool, error) {
	args := redis.Args{}.Add(l.key, l.token, "NX")
	if l.expiry > 0 {
		args = args.Add("PX", l.expiry.Milliseconds())
	}

	reply, err := redis.String(l.run("SET", args...))
	if err == redis.ErrNil {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return reply == "OK", nil
}
