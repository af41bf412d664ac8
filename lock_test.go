package keyspace

import (
	"errors"
	"time"

	"github.com/aphistic/sweet"
	"github.com/efritz/backoff"
	"github.com/efritz/glock"
	. "github.com/onsi/gomega"
)

type LockSuite struct{}

func (s *LockSuite) TestLockKeyFormat(t sweet.T) {
	// Shared with other clients of the same server; never change
	Expect(lockKey("sessions")).To(Equal("sessions:lock"))
}

func (s *LockSuite) TestAcquireImmediate(t sweet.T) {
	commands := make(chan commandPair, 1)
	defer close(commands)

	run := func(command string, args ...interface{}) (interface{}, error) {
		commands <- commandPair{command, args}
		return "OK", nil
	}

	lock := makeLock(run, nil, nil)
	Expect(lock.Acquire()).To(BeNil())

	var acquire commandPair
	Expect(commands).To(Receive(&acquire))
	Expect(acquire.command).To(Equal("SET"))
	Expect(acquire.args[0]).To(Equal("ns:lock"))
	Expect(acquire.args[2]).To(Equal("NX"))
	Expect(acquire.args[3]).To(Equal("PX"))
	Expect(acquire.args[4]).To(Equal(int64(30000)))
}

func (s *LockSuite) TestAcquireContended(t sweet.T) {
	var (
		clock = glock.NewMockClock()
		tries = 0
		done  = make(chan error, 1)
	)

	run := func(command string, args ...interface{}) (interface{}, error) {
		tries++
		if tries < 4 {
			// Held by someone else
			return nil, nil
		}

		return "OK", nil
	}

	lock := makeLock(run, nil, clock)

	go func() {
		done <- lock.Acquire()
	}()

	for i := 0; i < 3; i++ {
		clock.BlockingAdvance(time.Millisecond * 100)
	}

	Eventually(done).Should(Receive(BeNil()))
	Expect(tries).To(Equal(4))
}

func (s *LockSuite) TestAcquireTimeout(t sweet.T) {
	var (
		clock   = glock.NewMockClock()
		timeout = time.Second
		done    = make(chan error, 1)
	)

	run := func(command string, args ...interface{}) (interface{}, error) {
		return nil, nil
	}

	lock := makeLock(run, &timeout, clock)

	go func() {
		done <- lock.Acquire()
	}()

	for i := 0; i < 10; i++ {
		clock.BlockingAdvance(time.Millisecond * 100)
	}

	Eventually(done).Should(Receive(Equal(ErrLockTimeout)))
}

func (s *LockSuite) TestAcquireError(t sweet.T) {
	run := func(command string, args ...interface{}) (interface{}, error) {
		return nil, errors.New("utoh")
	}

	lock := makeLock(run, nil, nil)
	Expect(lock.Acquire()).To(MatchError("utoh"))
}

func (s *LockSuite) TestRelease(t sweet.T) {
	commands := make(chan commandPair, 2)
	defer close(commands)

	run := func(command string, args ...interface{}) (interface{}, error) {
		commands <- commandPair{command, args}
		return "OK", nil
	}

	lock := makeLock(run, nil, nil)
	Expect(lock.Acquire()).To(BeNil())
	Expect(lock.Release()).To(BeNil())

	var acquire, release commandPair
	Expect(commands).To(Receive(&acquire))
	Expect(commands).To(Receive(&release))

	// The release script only deletes the key if we still hold it
	Expect(release.command).To(Equal("EVAL"))
	Expect(release.args[0]).To(Equal(releaseScript))
	Expect(release.args[1]).To(Equal(1))
	Expect(release.args[2]).To(Equal("ns:lock"))
	Expect(release.args[3]).To(Equal(acquire.args[1]))
}

func (s *LockSuite) TestDistinctTokens(t sweet.T) {
	run := func(command string, args ...interface{}) (interface{}, error) {
		return "OK", nil
	}

	tokens := map[string]struct{}{}
	for i := 0; i < 100; i++ {
		token := makeLock(run, nil, nil).(*lock).token
		Expect(token).To(HaveLen(32))
		tokens[token] = struct{}{}
	}

	Expect(tokens).To(HaveLen(100))
}

//
// Suite Helper Functions

func makeLock(run commandFunc, timeout *time.Duration, clock glock.Clock) Locker {
	if clock == nil {
		clock = glock.NewRealClock()
	}

	return newLock(
		run,
		lockKey("ns"),
		time.Second*30,
		timeout,
		backoff.NewConstantBackoff(time.Millisecond*100),
		clock,
		testLogger,
	)
}
