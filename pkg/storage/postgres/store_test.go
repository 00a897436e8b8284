package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"raven/config"
	"raven/pkg/storage/postgres"
)

// liveClient connects to a local Postgres for integration tests. Set
// RAVEN_PG_TEST=1 with a local server running to enable them.
func liveClient(t *testing.T) *postgres.PostgresClient {
	t.Helper()
	if os.Getenv("RAVEN_PG_TEST") == "" {
		t.Skip("RAVEN_PG_TEST not set; skipping live Postgres test")
	}

	cfg := config.PostgresConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "yourpw",
		DBName:   "raven_test",
		SSLMode:  "disable",
		TimeZone: "UTC",
	}

	client, err := postgres.InitializeAndMigrate(cfg, "dev", true)
	if err != nil {
		t.Fatalf("failed to connect to DB: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

// go test -v --run TestAlertCRUD
func TestAlertCRUD(t *testing.T) {
	client := liveClient(t)
	ctx := context.Background()

	user := postgres.User{Name: "Test", Email: "alert-crud@example.com", PhoneNumber: "+910000000001"}
	if err := client.DB.WithContext(ctx).Create(&user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	instrument := postgres.Instrument{Symbol: "RELIANCE", Exchange: "NSE", InstrumentToken: 738561, Name: "Reliance Industries"}
	if err := client.DB.WithContext(ctx).Create(&instrument).Error; err != nil {
		t.Fatalf("create instrument: %v", err)
	}
	t.Cleanup(func() {
		client.DB.Unscoped().Delete(&instrument)
		client.DB.Unscoped().Delete(&user)
	})

	alert, err := client.CreateAlert(ctx, &user, &instrument, postgres.DirectionCrossOver, 2500)
	if err != nil {
		t.Fatalf("create alert: %v", err)
	}
	t.Cleanup(func() { client.DeleteAlert(ctx, alert.ID) })

	active, err := client.ActiveAlertsFor(ctx, instrument.ID)
	if err != nil {
		t.Fatalf("active alerts: %v", err)
	}
	if len(active) != 1 || active[0].User.Email != user.Email {
		t.Fatalf("expected the alert with its user preloaded, got %+v", active)
	}

	// Trigger and persist; it must drop out of the active set.
	now := time.Now()
	alert.Status = postgres.AlertTriggered
	alert.TriggeredAt = &now
	if err := client.SaveAlert(ctx, alert); err != nil {
		t.Fatalf("save alert: %v", err)
	}

	active, err = client.ActiveAlertsFor(ctx, instrument.ID)
	if err != nil {
		t.Fatalf("active alerts after trigger: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("triggered alert still reported active: %+v", active)
	}
}

// go test -v --run TestZoneActiveSetExcludesTerminal
func TestZoneActiveSetExcludesTerminal(t *testing.T) {
	client := liveClient(t)
	ctx := context.Background()

	user := postgres.User{Name: "Test", Email: "zone-crud@example.com", PhoneNumber: "+910000000002"}
	if err := client.DB.WithContext(ctx).Create(&user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	instrument := postgres.Instrument{Symbol: "TCS", Exchange: "NSE", InstrumentToken: 2953217, Name: "Tata Consultancy"}
	if err := client.DB.WithContext(ctx).Create(&instrument).Error; err != nil {
		t.Fatalf("create instrument: %v", err)
	}
	t.Cleanup(func() {
		client.DB.Unscoped().Delete(&instrument)
		client.DB.Unscoped().Delete(&user)
	})

	zone, err := client.CreateZone(ctx, &user, &instrument, postgres.SideLong, 100, 95, 110)
	if err != nil {
		t.Fatalf("create zone: %v", err)
	}
	t.Cleanup(func() { client.DeleteZone(ctx, zone.ID) })

	// EntryHit zones are still active.
	now := time.Now()
	zone.Status = postgres.ZoneEntryHit
	zone.EntryAt = &now
	if err := client.SaveZone(ctx, zone); err != nil {
		t.Fatalf("save zone: %v", err)
	}
	active, err := client.ActiveZonesFor(ctx, instrument.ID)
	if err != nil {
		t.Fatalf("active zones: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("EntryHit zone must stay active, got %+v", active)
	}

	// Terminal zones drop out.
	zone.Status = postgres.ZoneTargetHit
	zone.TargetAt = &now
	if err := client.SaveZone(ctx, zone); err != nil {
		t.Fatalf("save zone terminal: %v", err)
	}
	active, err = client.ActiveZonesFor(ctx, instrument.ID)
	if err != nil {
		t.Fatalf("active zones after terminal: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("terminal zone still reported active: %+v", active)
	}
}

// go test -v --run TestUpdateInstrumentPrice
func TestUpdateInstrumentPrice(t *testing.T) {
	client := liveClient(t)
	ctx := context.Background()

	instrument := postgres.Instrument{Symbol: "INFY", Exchange: "NSE", InstrumentToken: 408065, Name: "Infosys"}
	if err := client.DB.WithContext(ctx).Create(&instrument).Error; err != nil {
		t.Fatalf("create instrument: %v", err)
	}
	t.Cleanup(func() { client.DB.Unscoped().Delete(&instrument) })

	at := time.Now().Truncate(time.Second)
	if err := client.UpdateInstrumentPrice(ctx, instrument.ID, 1501.5, at); err != nil {
		t.Fatalf("update price: %v", err)
	}

	instruments, err := client.LoadInstruments(ctx)
	if err != nil {
		t.Fatalf("load instruments: %v", err)
	}
	var found *postgres.Instrument
	for i := range instruments {
		if instruments[i].ID == instrument.ID {
			found = &instruments[i]
		}
	}
	if found == nil || found.LastPrice != 1501.5 || found.LastUpdated == nil {
		t.Fatalf("price update not visible: %+v", found)
	}
}
