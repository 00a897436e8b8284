package postgres

import (
	"context"
	"time"
)

// LoadInstruments returns every watchable instrument.
func (p *PostgresClient) LoadInstruments(ctx context.Context) ([]Instrument, error) {
	var instruments []Instrument
	err := p.DB.WithContext(ctx).Find(&instruments).Error
	if err != nil {
		return nil, err
	}
	return instruments, nil
}

// ActiveAlertsFor returns the Active alerts on one instrument with their
// owning users preloaded. Lookup is by instrument key, not a table scan.
func (p *PostgresClient) ActiveAlertsFor(ctx context.Context, instrumentID uint) ([]Alert, error) {
	var alerts []Alert
	err := p.DB.WithContext(ctx).
		Preload("User").
		Where("instrument_id = ? AND status = ?", instrumentID, AlertActive).
		Find(&alerts).Error
	if err != nil {
		return nil, err
	}
	return alerts, nil
}

// ActiveZonesFor returns the non-terminal zones on one instrument with their
// owning users preloaded.
func (p *PostgresClient) ActiveZonesFor(ctx context.Context, instrumentID uint) ([]Zone, error) {
	var zones []Zone
	err := p.DB.WithContext(ctx).
		Preload("User").
		Where("instrument_id = ? AND status IN ?", instrumentID, []string{ZoneActive, ZoneEntryHit}).
		Find(&zones).Error
	if err != nil {
		return nil, err
	}
	return zones, nil
}

// UpdateInstrumentPrice records the latest completed-candle close.
func (p *PostgresClient) UpdateInstrumentPrice(ctx context.Context, instrumentID uint, price float64, at time.Time) error {
	return p.DB.WithContext(ctx).
		Model(&Instrument{}).
		Where("id = ?", instrumentID).
		Updates(map[string]interface{}{
			"last_price":   price,
			"last_updated": at,
		}).Error
}

// SaveAlert persists the alert's current status and timestamps.
func (p *PostgresClient) SaveAlert(ctx context.Context, alert *Alert) error {
	return p.DB.WithContext(ctx).
		Model(&Alert{}).
		Where("id = ?", alert.ID).
		Updates(map[string]interface{}{
			"status":       alert.Status,
			"triggered_at": alert.TriggeredAt,
		}).Error
}

// SaveZone persists the zone's current status and transition timestamps.
func (p *PostgresClient) SaveZone(ctx context.Context, zone *Zone) error {
	return p.DB.WithContext(ctx).
		Model(&Zone{}).
		Where("id = ?", zone.ID).
		Updates(map[string]interface{}{
			"status":      zone.Status,
			"entry_at":    zone.EntryAt,
			"stoploss_at": zone.StoplossAt,
			"target_at":   zone.TargetAt,
			"failed_at":   zone.FailedAt,
		}).Error
}

// CreateAlert inserts a new Active alert for a user and instrument.
func (p *PostgresClient) CreateAlert(ctx context.Context, user *User, instrument *Instrument, direction string, price float64) (*Alert, error) {
	alert := &Alert{
		Symbol:       instrument.Symbol,
		Direction:    direction,
		Price:        price,
		Status:       AlertActive,
		UserID:       user.ID,
		InstrumentID: instrument.ID,
	}
	if err := p.DB.WithContext(ctx).Create(alert).Error; err != nil {
		return nil, err
	}
	return alert, nil
}

// CreateZone inserts a new Active zone for a user and instrument.
func (p *PostgresClient) CreateZone(ctx context.Context, user *User, instrument *Instrument, side string, entry, stoploss, target float64) (*Zone, error) {
	zone := &Zone{
		Symbol:       instrument.Symbol,
		Side:         side,
		Status:       ZoneActive,
		Entry:        entry,
		Stoploss:     stoploss,
		Target:       target,
		UserID:       user.ID,
		InstrumentID: instrument.ID,
	}
	if err := p.DB.WithContext(ctx).Create(zone).Error; err != nil {
		return nil, err
	}
	return zone, nil
}

func (p *PostgresClient) DeleteAlert(ctx context.Context, id uint) error {
	return p.DB.WithContext(ctx).Delete(&Alert{}, id).Error
}

func (p *PostgresClient) DeleteZone(ctx context.Context, id uint) error {
	return p.DB.WithContext(ctx).Delete(&Zone{}, id).Error
}

// AdminUsers returns every admin user, used for operational notifications.
func (p *PostgresClient) AdminUsers(ctx context.Context) ([]User, error) {
	var admins []User
	err := p.DB.WithContext(ctx).Where("is_admin = ?", true).Find(&admins).Error
	if err != nil {
		return nil, err
	}
	return admins, nil
}
