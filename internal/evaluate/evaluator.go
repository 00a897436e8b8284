// Package evaluate runs the alert and zone threshold state machines
// against completed candles.
package evaluate

import (
	"context"
	"time"

	"raven/internal/market"
	"raven/pkg/storage/postgres"

	"go.uber.org/zap"
)

// Store is the persistence collaborator the evaluator consumes. Every call
// is transactional; a failure is retryable and must leave stored state
// unchanged.
type Store interface {
	ActiveAlertsFor(ctx context.Context, instrumentID uint) ([]postgres.Alert, error)
	ActiveZonesFor(ctx context.Context, instrumentID uint) ([]postgres.Zone, error)
	SaveAlert(ctx context.Context, alert *postgres.Alert) error
	SaveZone(ctx context.Context, zone *postgres.Zone) error
	UpdateInstrumentPrice(ctx context.Context, instrumentID uint, price float64, at time.Time) error
}

// Notifier delivers user notifications. Fire-and-forget: failures are the
// notifier's to log, never surfaced here.
type Notifier interface {
	AlertTriggered(user postgres.User, alert postgres.Alert, currentPrice float64)
	ZoneTransition(user postgres.User, zone postgres.Zone)
}

// Evaluator checks one completed candle against all active alerts and zones
// on its instrument. Thresholds are evaluated on candle high/low, not the
// close, so intra-window extremes are not missed.
type Evaluator struct {
	store    Store
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
}

func NewEvaluator(store Store, notifier Notifier, logger *zap.Logger) *Evaluator {
	return &Evaluator{
		store:    store,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// Evaluate persists the candle close as the instrument's last price, then
// runs the alert and zone state machines. A failed persistence write means
// the corresponding transition is not applied; the next candle re-reads
// state from the store and retries naturally.
func (e *Evaluator) Evaluate(ctx context.Context, instrument postgres.Instrument, candle market.Candle) {
	now := e.now()

	if err := e.store.UpdateInstrumentPrice(ctx, instrument.ID, candle.Close, now); err != nil {
		e.logger.Error("failed to update instrument price",
			zap.String("symbol", instrument.Symbol), zap.Error(err))
	}

	e.evaluateAlerts(ctx, instrument, candle, now)
	e.evaluateZones(ctx, instrument, candle, now)
}

func (e *Evaluator) evaluateAlerts(ctx context.Context, instrument postgres.Instrument, candle market.Candle, now time.Time) {
	alerts, err := e.store.ActiveAlertsFor(ctx, instrument.ID)
	if err != nil {
		e.logger.Error("failed to load active alerts",
			zap.String("symbol", instrument.Symbol), zap.Error(err))
		return
	}

	for i := range alerts {
		alert := &alerts[i]
		if !checkAlert(alert, candle, now) {
			continue
		}
		if err := e.store.SaveAlert(ctx, alert); err != nil {
			// Transition not applied: stored status stays Active and the
			// next candle re-evaluates.
			e.logger.Error("failed to persist triggered alert",
				zap.Uint("alert_id", alert.ID), zap.Error(err))
			continue
		}
		e.logger.Info("alert triggered",
			zap.Uint("alert_id", alert.ID),
			zap.String("symbol", alert.Symbol),
			zap.String("direction", alert.Direction),
			zap.Float64("price", alert.Price),
			zap.Float64("close", candle.Close))
		e.notifier.AlertTriggered(alert.User, *alert, candle.Close)
	}
}

func (e *Evaluator) evaluateZones(ctx context.Context, instrument postgres.Instrument, candle market.Candle, now time.Time) {
	zones, err := e.store.ActiveZonesFor(ctx, instrument.ID)
	if err != nil {
		e.logger.Error("failed to load active zones",
			zap.String("symbol", instrument.Symbol), zap.Error(err))
		return
	}

	for i := range zones {
		zone := &zones[i]
		if !transitionZone(zone, candle, now) {
			continue
		}
		if err := e.store.SaveZone(ctx, zone); err != nil {
			e.logger.Error("failed to persist zone transition",
				zap.Uint("zone_id", zone.ID), zap.Error(err))
			continue
		}
		e.logger.Info("zone status changed",
			zap.Uint("zone_id", zone.ID),
			zap.String("symbol", zone.Symbol),
			zap.String("side", zone.Side),
			zap.String("status", zone.Status))
		e.notifier.ZoneTransition(zone.User, *zone)
	}
}

// checkAlert applies the one-shot alert machine to a candle. CrossOver fires
// on candle high, CrossUnder on candle low. Non-Active alerts are a no-op.
func checkAlert(alert *postgres.Alert, candle market.Candle, now time.Time) bool {
	if alert.Status != postgres.AlertActive {
		return false
	}

	var triggered bool
	switch alert.Direction {
	case postgres.DirectionCrossOver:
		triggered = candle.High >= alert.Price
	case postgres.DirectionCrossUnder:
		triggered = candle.Low <= alert.Price
	}
	if !triggered {
		return false
	}

	alert.Status = postgres.AlertTriggered
	at := now
	alert.TriggeredAt = &at
	return true
}

// transitionZone applies at most one zone transition per candle, mutating the
// zone in place and setting exactly one timestamp. The stoploss/failure
// condition is checked before entry/target: when one candle's range spans
// both thresholds, the adverse outcome wins.
func transitionZone(zone *postgres.Zone, candle market.Candle, now time.Time) bool {
	at := now

	switch zone.Status {
	case postgres.ZoneActive:
		if zone.Side == postgres.SideLong {
			if candle.Low <= zone.Stoploss {
				zone.Status = postgres.ZoneFailed
				zone.FailedAt = &at
				return true
			}
			if candle.Low <= zone.Entry {
				zone.Status = postgres.ZoneEntryHit
				zone.EntryAt = &at
				return true
			}
		} else {
			if candle.High >= zone.Stoploss {
				zone.Status = postgres.ZoneFailed
				zone.FailedAt = &at
				return true
			}
			if candle.High >= zone.Entry {
				zone.Status = postgres.ZoneEntryHit
				zone.EntryAt = &at
				return true
			}
		}

	case postgres.ZoneEntryHit:
		if zone.Side == postgres.SideLong {
			if candle.Low <= zone.Stoploss {
				zone.Status = postgres.ZoneStoplossHit
				zone.StoplossAt = &at
				return true
			}
			if candle.High >= zone.Target {
				zone.Status = postgres.ZoneTargetHit
				zone.TargetAt = &at
				return true
			}
		} else {
			if candle.High >= zone.Stoploss {
				zone.Status = postgres.ZoneStoplossHit
				zone.StoplossAt = &at
				return true
			}
			if candle.Low <= zone.Target {
				zone.Status = postgres.ZoneTargetHit
				zone.TargetAt = &at
				return true
			}
		}
	}

	// Terminal states: no transition defined.
	return false
}
