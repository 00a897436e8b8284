package market

import (
	"errors"
	"sync"
	"time"
)

// ErrBadTick reports a tick with unusable fields (non-positive price or
// negative volume). Callers count it and keep going.
var ErrBadTick = errors.New("tick has invalid price or volume")

// Aggregator buckets unordered concurrent ticks into fixed-width candles,
// one in-progress candle per instrument.
//
// Two execution contexts touch the aggregator: the feed delivery callback
// (Ingest) and the periodic flush timer (DrainCompleted). A single mutex
// serializes both; it is held only for the map read-modify-write, never
// across evaluation or I/O.
type Aggregator struct {
	window time.Duration
	loc    *time.Location

	mu       sync.Mutex
	current  map[int64]*Candle
	pending  []Candle // completed by rollover in Ingest, awaiting drain
	history  map[int64][]Candle
	historyN int
	badTicks int
}

// NewAggregator creates an aggregator producing candles of the given window
// size, with window boundaries aligned in loc. historyN bounds the number of
// completed candles retained per instrument for diagnostics.
func NewAggregator(window time.Duration, loc *time.Location, historyN int) *Aggregator {
	if historyN <= 0 {
		historyN = 20
	}
	return &Aggregator{
		window:   window,
		loc:      loc,
		current:  make(map[int64]*Candle),
		history:  make(map[int64][]Candle),
		historyN: historyN,
	}
}

// Window returns the configured candle window size.
func (a *Aggregator) Window() time.Duration {
	return a.window
}

// Ingest appends one tick to the in-progress candle for its instrument.
//
// A new candle is opened when none exists or when the tick's floored window
// is newer than the current one; the displaced candle moves to the pending
// set so the next drain still evaluates it. Ticks whose event time floors to
// an older window fold into the current candle regardless; already-drained
// windows are never reopened.
func (a *Aggregator) Ingest(tick Tick) error {
	if tick.Price <= 0 || tick.Volume < 0 {
		a.mu.Lock()
		a.badTicks++
		a.mu.Unlock()
		return ErrBadTick
	}

	start := WindowStart(tick.Time, a.window, a.loc)

	a.mu.Lock()
	defer a.mu.Unlock()

	cur, ok := a.current[tick.InstrumentToken]
	if !ok || start.After(cur.WindowStart) {
		if ok {
			a.pending = append(a.pending, *cur)
		}
		cur = &Candle{
			InstrumentToken: tick.InstrumentToken,
			WindowStart:     start,
			Open:            tick.Price,
			High:            tick.Price,
			Low:             tick.Price,
		}
		a.current[tick.InstrumentToken] = cur
	}

	if tick.Price > cur.High {
		cur.High = tick.Price
	}
	if tick.Price < cur.Low {
		cur.Low = tick.Price
	}
	cur.Close = tick.Price
	cur.Volume += tick.Volume
	cur.TickCount++
	return nil
}

// DrainCompleted removes and returns every candle whose window has closed as
// of now, plus any candles displaced by rollover since the last drain. Each
// drained candle is appended to its instrument's bounded history. Returned
// candles are copies; a window with zero ticks never exists as a candle.
func (a *Aggregator) DrainCompleted(now time.Time) []Candle {
	a.mu.Lock()
	defer a.mu.Unlock()

	done := a.pending
	a.pending = nil

	for token, c := range a.current {
		if !c.WindowEnd(a.window).After(now) {
			done = append(done, *c)
			delete(a.current, token)
		}
	}

	for _, c := range done {
		h := append(a.history[c.InstrumentToken], c)
		if len(h) > a.historyN {
			h = h[len(h)-a.historyN:]
		}
		a.history[c.InstrumentToken] = h
	}
	return done
}

// History returns a copy of the retained completed candles for an instrument,
// oldest first.
func (a *Aggregator) History(token int64) []Candle {
	a.mu.Lock()
	defer a.mu.Unlock()
	h := a.history[token]
	out := make([]Candle, len(h))
	copy(out, h)
	return out
}

// BadTickCount reports how many ticks were rejected at ingestion.
func (a *Aggregator) BadTickCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.badTicks
}

// CandleStat describes one in-progress candle for diagnostics.
type CandleStat struct {
	Candle     Candle
	AgeSeconds float64
}

// Stats snapshots all in-progress candles keyed by instrument token.
func (a *Aggregator) Stats(now time.Time) map[int64]CandleStat {
	a.mu.Lock()
	defer a.mu.Unlock()

	stats := make(map[int64]CandleStat, len(a.current))
	for token, c := range a.current {
		stats[token] = CandleStat{
			Candle:     *c,
			AgeSeconds: now.Sub(c.WindowStart).Seconds(),
		}
	}
	return stats
}
