package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"raven/internal/market"

	"go.uber.org/zap"
)

type fakeSession struct {
	mu       sync.Mutex
	started  int
	stopped  int
	startErr error
	down     chan struct{}
}

func newFakeSession() *fakeSession {
	return &fakeSession{down: make(chan struct{})}
}

func (s *fakeSession) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return s.startErr
	}
	s.started++
	return nil
}

func (s *fakeSession) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped++
}

func (s *fakeSession) Down() <-chan struct{} {
	return s.down
}

func (s *fakeSession) counts() (started, stopped int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started, s.stopped
}

// clock is a swappable time source for the scheduler under test.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func utcCalendar(t *testing.T) *market.Calendar {
	t.Helper()
	cal, err := market.NewCalendar("UTC", "09:15", "15:30")
	if err != nil {
		t.Fatalf("calendar: %v", err)
	}
	return cal
}

var (
	mondayOpen   = time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC) // Monday mid-session
	mondayClosed = time.Date(2025, 6, 2, 18, 0, 0, 0, time.UTC) // Monday after close
	saturday     = time.Date(2025, 6, 7, 12, 0, 0, 0, time.UTC)
)

func newTestScheduler(t *testing.T, newSession func() Session, c *clock) *Scheduler {
	t.Helper()
	s := NewScheduler(utcCalendar(t), newSession, zap.NewNop())
	s.PollInterval = time.Millisecond
	s.MaxSleep = time.Millisecond
	s.RetryDelay = time.Millisecond
	s.now = c.now
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// go test -v --run TestSchedulerConnectsDuringMarketHours
func TestSchedulerConnectsDuringMarketHours(t *testing.T) {
	c := &clock{t: mondayOpen}
	sess := newFakeSession()
	s := newTestScheduler(t, func() Session { return sess }, c)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	waitFor(t, "connect", func() bool { return s.State() == Connected })
	started, _ := sess.counts()
	if started != 1 {
		t.Fatalf("expected one session start, got %d", started)
	}

	cancel()
	<-done
	_, stopped := sess.counts()
	if stopped == 0 {
		t.Fatal("session must be stopped on shutdown")
	}
	if s.State() != Stopped {
		t.Fatalf("expected Stopped after shutdown, got %s", s.State())
	}
}

// go test -v --run TestSchedulerDisconnectsAtMarketClose
func TestSchedulerDisconnectsAtMarketClose(t *testing.T) {
	c := &clock{t: mondayOpen}
	sess := newFakeSession()
	s := newTestScheduler(t, func() Session { return sess }, c)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	waitFor(t, "connect", func() bool { return s.State() == Connected })

	c.set(mondayClosed)
	waitFor(t, "disconnect", func() bool { return s.State() == Stopped })

	_, stopped := sess.counts()
	if stopped != 1 {
		t.Fatalf("expected one session stop at market close, got %d", stopped)
	}
}

// go test -v --run TestSchedulerStaysStoppedOnWeekend
func TestSchedulerStaysStoppedOnWeekend(t *testing.T) {
	c := &clock{t: saturday}
	sess := newFakeSession()
	s := newTestScheduler(t, func() Session { return sess }, c)

	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)

	time.Sleep(20 * time.Millisecond)
	cancel()

	started, _ := sess.counts()
	if started != 0 {
		t.Fatalf("no session may start on a weekend, got %d starts", started)
	}
	if s.State() != Stopped {
		t.Fatalf("expected Stopped, got %s", s.State())
	}
}

// go test -v --run TestSchedulerRecoversFromTerminalFailure
func TestSchedulerRecoversFromTerminalFailure(t *testing.T) {
	c := &clock{t: mondayOpen}

	var mu sync.Mutex
	var sessions []*fakeSession
	newSession := func() Session {
		mu.Lock()
		defer mu.Unlock()
		sess := newFakeSession()
		sessions = append(sessions, sess)
		return sess
	}

	s := newTestScheduler(t, newSession, c)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	waitFor(t, "first connect", func() bool { return s.State() == Connected })

	// Terminal feed failure: scheduler stops the session, then re-attempts
	// on the next eligible check.
	mu.Lock()
	first := sessions[0]
	mu.Unlock()
	close(first.down)

	waitFor(t, "reconnect cycle", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(sessions) >= 2
	})
}

// go test -v --run TestSchedulerRetriesFailedConnect
func TestSchedulerRetriesFailedConnect(t *testing.T) {
	c := &clock{t: mondayOpen}

	var mu sync.Mutex
	attempts := 0
	newSession := func() Session {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		sess := newFakeSession()
		if attempts == 1 {
			sess.startErr = errors.New("dial failed")
		}
		return sess
	}

	s := newTestScheduler(t, newSession, c)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	waitFor(t, "connect after retry", func() bool { return s.State() == Connected })

	mu.Lock()
	defer mu.Unlock()
	if attempts < 2 {
		t.Fatalf("expected a retry after failed connect, got %d attempts", attempts)
	}
}
