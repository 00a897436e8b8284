// Package stream wires the tick feed to the candle aggregator and drives the
// threshold evaluator off a periodic flush timer.
package stream

import (
	"context"
	"sync"
	"time"

	"raven/internal/market"
	"raven/pkg/feed"
	"raven/pkg/storage/postgres"

	"go.uber.org/zap"
)

// InstrumentLoader is the slice of the persistence collaborator the manager
// needs: the instrument universe, loaded once per connection cycle.
type InstrumentLoader interface {
	LoadInstruments(ctx context.Context) ([]postgres.Instrument, error)
}

// Evaluator consumes one completed candle for one instrument.
type Evaluator interface {
	Evaluate(ctx context.Context, instrument postgres.Instrument, candle market.Candle)
}

// Manager owns one connection cycle: it registers the feed handlers, keeps
// the token->instrument mapping, and runs the flush loop that drains
// completed candles into the evaluator.
//
// Two goroutines touch the aggregator: the feed's delivery callback (OnTicks)
// and the flush ticker. The aggregator serializes them internally; everything
// downstream of a drain runs on copies, outside any lock.
type Manager struct {
	feed          feed.Feed
	agg           *market.Aggregator
	evaluator     Evaluator
	store         InstrumentLoader
	calendar      *market.Calendar
	flushInterval time.Duration
	logger        *zap.Logger

	// ConnectFailureHook, when set, is invoked with the error from a failed
	// initial connect before Start returns it.
	ConnectFailureHook func(err error)

	mu          sync.RWMutex
	instruments map[int64]postgres.Instrument
	skippedOOH  int // ticks dropped for arriving outside trading hours

	cancelFlush context.CancelFunc
	flushDone   chan struct{}

	downOnce sync.Once
	down     chan struct{}
}

func NewManager(f feed.Feed, agg *market.Aggregator, evaluator Evaluator,
	store InstrumentLoader, calendar *market.Calendar,
	flushInterval time.Duration, logger *zap.Logger) *Manager {
	if flushInterval <= 0 {
		flushInterval = time.Second
	}
	return &Manager{
		feed:          f,
		agg:           agg,
		evaluator:     evaluator,
		store:         store,
		calendar:      calendar,
		flushInterval: flushInterval,
		logger:        logger,
		instruments:   make(map[int64]postgres.Instrument),
		down:          make(chan struct{}),
	}
}

// Start connects the feed and starts the flush loop. Handlers are registered
// on the concrete feed by the caller via Handlers(); Start assumes that has
// happened.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.feed.Connect(ctx); err != nil {
		if m.ConnectFailureHook != nil {
			m.ConnectFailureHook(err)
		}
		return err
	}

	flushCtx, cancel := context.WithCancel(context.Background())
	m.cancelFlush = cancel
	m.flushDone = make(chan struct{})
	go m.flushLoop(flushCtx)
	return nil
}

// Stop cancels the flush timer and closes the feed. A flush already in
// progress completes before the loop exits, so no candle is left
// half-processed.
func (m *Manager) Stop() {
	if m.cancelFlush != nil {
		m.cancelFlush()
		<-m.flushDone
	}
	if err := m.feed.Close(); err != nil {
		m.logger.Warn("error closing feed", zap.Error(err))
	}
}

// Down is signaled once when the feed reports a terminal failure. The
// session scheduler observes it and transitions to Stopped.
func (m *Manager) Down() <-chan struct{} {
	return m.down
}

// Handlers returns the feed callback set for this connection cycle.
func (m *Manager) Handlers() feed.Handlers {
	return feed.Handlers{
		OnTicks:              m.onTicks,
		OnConnect:            m.onConnect,
		OnClose:              m.onClose,
		OnError:              m.onError,
		OnReconnect:          m.onReconnect,
		OnReconnectExhausted: m.onReconnectExhausted,
	}
}

// onTicks runs on the feed's delivery goroutine. It filters unknown
// instruments and ticks outside trading hours, then hands the rest to the
// aggregator. Nothing here blocks beyond the aggregator's lock hold.
func (m *Manager) onTicks(ticks []market.Tick) {
	for _, tick := range ticks {
		m.mu.RLock()
		_, tracked := m.instruments[tick.InstrumentToken]
		m.mu.RUnlock()
		if !tracked {
			continue
		}

		// Ticks stamped outside trading hours never enter a candle.
		if !m.calendar.IsOpen(tick.Time) {
			m.mu.Lock()
			m.skippedOOH++
			m.mu.Unlock()
			m.logger.Debug("skipping tick outside trading hours",
				zap.Int64("token", tick.InstrumentToken), zap.Time("at", tick.Time))
			continue
		}

		if err := m.agg.Ingest(tick); err != nil {
			m.logger.Warn("tick rejected",
				zap.Int64("token", tick.InstrumentToken), zap.Error(err))
		}
	}
}

func (m *Manager) onConnect() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	instruments, err := m.store.LoadInstruments(ctx)
	if err != nil {
		m.logger.Error("failed to load instruments", zap.Error(err))
		return
	}
	if len(instruments) == 0 {
		m.logger.Warn("no instruments to subscribe to")
		return
	}

	byToken := make(map[int64]postgres.Instrument, len(instruments))
	tokens := make([]int64, 0, len(instruments))
	for _, inst := range instruments {
		byToken[inst.InstrumentToken] = inst
		tokens = append(tokens, inst.InstrumentToken)
	}

	m.mu.Lock()
	m.instruments = byToken
	m.mu.Unlock()

	if err := m.feed.Subscribe(tokens); err != nil {
		m.logger.Error("failed to subscribe", zap.Error(err))
		return
	}
	if err := m.feed.SetFullMode(tokens); err != nil {
		m.logger.Error("failed to set full mode", zap.Error(err))
		return
	}
	m.logger.Info("subscribed to instruments", zap.Int("count", len(tokens)))
}

func (m *Manager) onClose(code int, reason string) {
	m.logger.Warn("feed connection closed", zap.Int("code", code), zap.String("reason", reason))
}

func (m *Manager) onError(code int, reason string) {
	// Transient: the feed retries transparently. Terminal failure arrives
	// through onReconnectExhausted.
	m.logger.Error("feed error", zap.Int("code", code), zap.String("reason", reason))
}

func (m *Manager) onReconnect(attempt int) {
	m.logger.Info("feed reconnecting", zap.Int("attempt", attempt))
}

func (m *Manager) onReconnectExhausted() {
	m.logger.Error("feed reconnect attempts exhausted")
	m.signalDown()
}

func (m *Manager) signalDown() {
	m.downOnce.Do(func() { close(m.down) })
}

// flushLoop drains completed candles every flush interval and evaluates
// each one. A failure on one candle is logged and skipped; it never aborts
// the batch.
func (m *Manager) flushLoop(ctx context.Context) {
	defer close(m.flushDone)

	ticker := time.NewTicker(m.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.flush(now)
		}
	}
}

func (m *Manager) flush(now time.Time) {
	candles := m.agg.DrainCompleted(now)
	for _, candle := range candles {
		m.mu.RLock()
		instrument, ok := m.instruments[candle.InstrumentToken]
		m.mu.RUnlock()
		if !ok {
			m.logger.Warn("drained candle for unknown instrument",
				zap.Int64("token", candle.InstrumentToken))
			continue
		}

		// Deliberately not derived from the loop context: a flush in
		// progress completes even while the session is stopping.
		evalCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		m.evaluator.Evaluate(evalCtx, instrument, candle)
		cancel()

		m.logger.Debug("processed completed candle",
			zap.String("symbol", instrument.Symbol),
			zap.String("candle", candle.String()))
	}
}

// SkippedOutsideHours reports how many ticks were dropped for arriving
// outside trading hours.
func (m *Manager) SkippedOutsideHours() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.skippedOOH
}
