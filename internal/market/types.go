package market

import (
	"fmt"
	"time"
)

// Tick represents a single price observation for an instrument,
// normalized from the feed's wire format.
type Tick struct {
	InstrumentToken int64     // Feed-assigned instrument identifier
	Price           float64   // Last traded price
	Volume          float64   // Traded volume carried by this tick (may be 0)
	Time            time.Time // Exchange event time of the observation
}

// Candle is the OHLCV summary of all ticks for one instrument within
// one fixed time window. Mutable only inside the Aggregator; callers
// receive copies.
type Candle struct {
	InstrumentToken int64
	WindowStart     time.Time // Floored to the window size in the calendar timezone
	Open            float64
	High            float64
	Low             float64
	Close           float64
	Volume          float64
	TickCount       int
}

// WindowEnd returns the first instant past the candle's window.
func (c Candle) WindowEnd(window time.Duration) time.Time {
	return c.WindowStart.Add(window)
}

func (c Candle) String() string {
	return fmt.Sprintf("Candle(O:%g H:%g L:%g C:%g V:%g n:%d)",
		c.Open, c.High, c.Low, c.Close, c.Volume, c.TickCount)
}

// WindowStart floors t to the window size in the given location, so window
// boundaries are wall-clock aligned regardless of the caller's timezone.
func WindowStart(t time.Time, window time.Duration, loc *time.Location) time.Time {
	local := t.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	offset := local.Sub(midnight)
	return midnight.Add(offset - offset%window)
}

// WindowMeta holds the config value and label for a candle window size.
type WindowMeta struct {
	Value    string
	Label    string
	Duration time.Duration
}

var validWindows = map[string]WindowMeta{
	"5s":  {Value: "5s", Label: "5s", Duration: 5 * time.Second},
	"10s": {Value: "10s", Label: "10s", Duration: 10 * time.Second},
	"15s": {Value: "15s", Label: "15s", Duration: 15 * time.Second},
	"30s": {Value: "30s", Label: "30s", Duration: 30 * time.Second},
	"1m":  {Value: "1m", Label: "1m", Duration: time.Minute},
	"5m":  {Value: "5m", Label: "5m", Duration: 5 * time.Minute},
	"15m": {Value: "15m", Label: "15m", Duration: 15 * time.Minute},
}

// ParseWindow parses a config window string into its metadata.
func ParseWindow(s string) (WindowMeta, error) {
	meta, ok := validWindows[s]
	if !ok {
		return WindowMeta{}, fmt.Errorf("invalid candle window: %s", s)
	}
	return meta, nil
}
