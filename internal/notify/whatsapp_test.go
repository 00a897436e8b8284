package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"raven/config"
	"raven/pkg/storage/postgres"

	"go.uber.org/zap"
)

func newTestNotifier(t *testing.T, handler http.HandlerFunc) (*WhatsAppNotifier, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	n := NewWhatsAppNotifier(config.NotifyConfig{
		BaseURL:  srv.URL,
		APIKey:   "test-key",
		UserName: "raven",
		Timeout:  time.Second,
	}, zap.NewNop())
	return n, srv
}

var testUser = postgres.User{Name: "Asha", PhoneNumber: "+911234567890"}

// go test -v --run TestAlertNotificationPayload
func TestAlertNotificationPayload(t *testing.T) {
	var got campaignRequest
	n, _ := newTestNotifier(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("bad payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	})

	alert := postgres.Alert{Symbol: "RELIANCE", Direction: postgres.DirectionCrossOver, Price: 2500}
	n.AlertTriggered(testUser, alert, 2510.5)

	if got.CampaignName != "alertcrossover" {
		t.Errorf("wrong campaign: %s", got.CampaignName)
	}
	if got.Destination != testUser.PhoneNumber {
		t.Errorf("wrong destination: %s", got.Destination)
	}
	if got.APIKey != "test-key" {
		t.Errorf("api key not forwarded")
	}
	want := []string{"RELIANCE", "2500", "2510.5"}
	if len(got.TemplateParams) != 3 {
		t.Fatalf("wrong params: %v", got.TemplateParams)
	}
	for i, p := range want {
		if got.TemplateParams[i] != p {
			t.Errorf("param %d: got %s, want %s", i, got.TemplateParams[i], p)
		}
	}
}

// go test -v --run TestZoneCampaignSelection
func TestZoneCampaignSelection(t *testing.T) {
	cases := []struct {
		side, status, campaign string
	}{
		{postgres.SideLong, postgres.ZoneEntryHit, "entrylong"},
		{postgres.SideLong, postgres.ZoneFailed, "failedlong"},
		{postgres.SideLong, postgres.ZoneStoplossHit, "stoplong"},
		{postgres.SideLong, postgres.ZoneTargetHit, "targetlong"},
		{postgres.SideShort, postgres.ZoneEntryHit, "entryshort"},
		{postgres.SideShort, postgres.ZoneStoplossHit, "stopshort"},
	}

	var campaigns []string
	n, _ := newTestNotifier(t, func(w http.ResponseWriter, r *http.Request) {
		var req campaignRequest
		json.NewDecoder(r.Body).Decode(&req)
		campaigns = append(campaigns, req.CampaignName)
		w.WriteHeader(http.StatusOK)
	})

	for _, tc := range cases {
		zone := postgres.Zone{Symbol: "TCS", Side: tc.side, Status: tc.status,
			Entry: 100, Stoploss: 95, Target: 110}
		n.ZoneTransition(testUser, zone)
	}

	if len(campaigns) != len(cases) {
		t.Fatalf("expected %d sends, got %d", len(cases), len(campaigns))
	}
	for i, tc := range cases {
		if campaigns[i] != tc.campaign {
			t.Errorf("case %d: got campaign %s, want %s", i, campaigns[i], tc.campaign)
		}
	}
}

// go test -v --run TestZoneActiveStatusNotSent
func TestZoneActiveStatusNotSent(t *testing.T) {
	sent := 0
	n, _ := newTestNotifier(t, func(w http.ResponseWriter, r *http.Request) {
		sent++
		w.WriteHeader(http.StatusOK)
	})

	// Active has no campaign; nothing goes out.
	n.ZoneTransition(testUser, postgres.Zone{Side: postgres.SideLong, Status: postgres.ZoneActive})
	if sent != 0 {
		t.Fatalf("Active zone must not notify, got %d sends", sent)
	}
}

// go test -v --run TestProviderErrorIsSwallowed
func TestProviderErrorIsSwallowed(t *testing.T) {
	n, _ := newTestNotifier(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	})

	// Fire-and-forget: provider failure must not panic or propagate.
	n.AlertTriggered(testUser, postgres.Alert{Symbol: "INFY", Direction: postgres.DirectionCrossUnder, Price: 1500}, 1490)
}
