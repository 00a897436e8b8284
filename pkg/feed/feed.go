// Package feed provides the streaming tick source. The core consumes it
// through the Feed interface and the Handlers callbacks only, so tests can
// swap the websocket implementation for a fake.
package feed

import (
	"context"
	"time"

	"raven/internal/market"
)

// Handlers receives feed lifecycle and data events. Any nil field is simply
// not invoked. OnTicks runs on the feed's own read goroutine; implementations
// must not block it beyond a short lock hold.
type Handlers struct {
	OnTicks              func(ticks []market.Tick)
	OnConnect            func()
	OnClose              func(code int, reason string)
	OnError              func(code int, reason string)
	OnReconnect          func(attempt int)
	OnReconnectExhausted func()
}

// Feed is a subscribable tick stream.
type Feed interface {
	// Connect dials the upstream and starts delivering events to the
	// registered handlers.
	Connect(ctx context.Context) error
	// Subscribe starts tick delivery for the given instrument tokens.
	Subscribe(tokens []int64) error
	// SetFullMode requests full tick payloads (price + volume + event time)
	// for the given tokens.
	SetFullMode(tokens []int64) error
	// Close tears the connection down. Handlers receive a final OnClose.
	Close() error
}

// tickMessage is the wire envelope for a tick batch.
type tickMessage struct {
	Type string        `json:"type"`
	Data []tickPayload `json:"data"`
	Ts   int64         `json:"ts"`
}

// tickPayload is one tick on the wire. Pointer fields distinguish missing
// values from zero; ticks with missing required fields are dropped as
// ingestion errors.
type tickPayload struct {
	InstrumentToken *int64   `json:"instrument_token"`
	LastPrice       *float64 `json:"last_price"`
	Volume          float64  `json:"volume"`
	LastTradeTime   *int64   `json:"last_trade_time"` // ms since epoch
}

// parseTicks converts a wire batch into normalized ticks, skipping payloads
// with missing required fields. It returns the ticks and the dropped count.
func parseTicks(msg tickMessage) ([]market.Tick, int) {
	ticks := make([]market.Tick, 0, len(msg.Data))
	dropped := 0
	for _, d := range msg.Data {
		if d.InstrumentToken == nil || d.LastPrice == nil || d.LastTradeTime == nil {
			dropped++
			continue
		}
		ticks = append(ticks, market.Tick{
			InstrumentToken: *d.InstrumentToken,
			Price:           *d.LastPrice,
			Volume:          d.Volume,
			Time:            time.UnixMilli(*d.LastTradeTime),
		})
	}
	return ticks, dropped
}
