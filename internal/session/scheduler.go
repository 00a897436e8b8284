// Package session schedules the feed connection around the trading
// calendar: connect when the market opens, disconnect when it closes or the
// feed fails terminally, sleep while closed.
package session

import (
	"context"
	"sync"
	"time"

	"raven/internal/market"

	"go.uber.org/zap"
)

// State of the connection lifecycle.
type State int

const (
	Stopped State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "Stopped"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	}
	return "Unknown"
}

// Session is one connection cycle: started when the market opens, stopped
// when it closes. Down is signaled if the feed fails terminally mid-session.
type Session interface {
	Start(ctx context.Context) error
	Stop()
	Down() <-chan struct{}
}

// Scheduler drives Sessions off the market calendar. A fresh Session is
// built per cycle; the scheduler itself holds no feed state.
type Scheduler struct {
	calendar   *market.Calendar
	newSession func() Session
	logger     *zap.Logger

	// Tunables, defaulted by NewScheduler. Tests shrink them.
	PollInterval time.Duration // cadence of open/connected checks
	MaxSleep     time.Duration // cap on closed-market sleep (DST/calendar safety)
	RetryDelay   time.Duration // wait after a failed connect

	now func() time.Time

	mu    sync.Mutex
	state State
}

func NewScheduler(calendar *market.Calendar, newSession func() Session, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		calendar:     calendar,
		newSession:   newSession,
		logger:       logger,
		PollInterval: 5 * time.Second,
		MaxSleep:     time.Hour,
		RetryDelay:   30 * time.Second,
		now:          time.Now,
	}
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Run loops until ctx is cancelled. Errors never escape a cycle: a failed
// connect retries after RetryDelay, a terminal feed failure stops the
// session and the outer loop re-attempts on the next eligible check, since
// resumption within market hours is expected to eventually succeed.
func (s *Scheduler) Run(ctx context.Context) {
	var sess Session

	stop := func() {
		if sess != nil {
			sess.Stop()
			sess = nil
		}
		s.setState(Stopped)
	}
	defer stop()

	for {
		if ctx.Err() != nil {
			return
		}

		now := s.now()
		open := s.calendar.IsOpen(now)

		switch {
		case open && sess == nil:
			s.logger.Info("market open, connecting feed")
			s.setState(Connecting)

			next := s.newSession()
			if err := next.Start(ctx); err != nil {
				s.logger.Error("failed to start session, retrying", zap.Error(err))
				s.setState(Stopped)
				if !sleep(ctx, s.RetryDelay) {
					return
				}
				continue
			}
			sess = next
			s.setState(Connected)

		case open && sess != nil:
			select {
			case <-ctx.Done():
				return
			case <-sess.Down():
				s.logger.Error("session reported terminal failure, stopping")
				stop()
			case <-time.After(s.PollInterval):
			}

		case !open && sess != nil:
			s.logger.Info("market closed, stopping feed")
			stop()

		default: // closed and stopped: sleep toward the next open
			nextOpen := s.calendar.NextOpen(now)
			wait := nextOpen.Sub(now)
			if wait > s.MaxSleep {
				wait = s.MaxSleep
			}
			s.logger.Info("market closed, sleeping",
				zap.Time("next_open", nextOpen), zap.Duration("sleep", wait))
			if !sleep(ctx, wait) {
				return
			}
		}
	}
}

// sleep waits d or until ctx is done; false means the context ended.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
