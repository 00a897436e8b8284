// Package notify delivers user notifications through a WhatsApp campaign
// API. Delivery is fire-and-forget: failures are logged and never propagate
// to the evaluation pipeline.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"raven/config"
	"raven/pkg/storage/postgres"

	"go.uber.org/zap"
)

// Campaign template names, one per notification event.
const (
	campaignAlertCrossOver  = "alertcrossover"
	campaignAlertCrossUnder = "alertcrossunder"
	campaignFeedLogin       = "feedloginfailed"
)

var zoneCampaigns = map[string]map[string]string{
	postgres.SideLong: {
		postgres.ZoneEntryHit:    "entrylong",
		postgres.ZoneFailed:      "failedlong",
		postgres.ZoneStoplossHit: "stoplong",
		postgres.ZoneTargetHit:   "targetlong",
	},
	postgres.SideShort: {
		postgres.ZoneEntryHit:    "entryshort",
		postgres.ZoneFailed:      "failedshort",
		postgres.ZoneStoplossHit: "stopshort",
		postgres.ZoneTargetHit:   "targetshort",
	},
}

// WhatsAppNotifier sends campaign messages over the provider's HTTP API.
type WhatsAppNotifier struct {
	baseURL    string
	apiKey     string
	userName   string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewWhatsAppNotifier(cfg config.NotifyConfig, logger *zap.Logger) *WhatsAppNotifier {
	return &WhatsAppNotifier{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		userName:   cfg.UserName,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// AlertTriggered notifies the alert's owner with the threshold and the
// candle close price that tripped it.
func (n *WhatsAppNotifier) AlertTriggered(user postgres.User, alert postgres.Alert, currentPrice float64) {
	campaign := campaignAlertCrossOver
	if alert.Direction == postgres.DirectionCrossUnder {
		campaign = campaignAlertCrossUnder
	}
	params := []string{
		alert.Symbol,
		strconv.FormatFloat(alert.Price, 'f', -1, 64),
		strconv.FormatFloat(currentPrice, 'f', -1, 64),
	}
	n.send(user.PhoneNumber, campaign, params)
}

// ZoneTransition notifies the zone's owner. The zone's own levels are the
// message payload; no separate price argument.
func (n *WhatsAppNotifier) ZoneTransition(user postgres.User, zone postgres.Zone) {
	campaign, ok := zoneCampaigns[zone.Side][zone.Status]
	if !ok {
		n.logger.Warn("no campaign for zone state",
			zap.String("side", zone.Side), zap.String("status", zone.Status))
		return
	}
	params := []string{
		zone.Symbol,
		strconv.FormatFloat(zone.Entry, 'f', -1, 64),
		strconv.FormatFloat(zone.Stoploss, 'f', -1, 64),
		strconv.FormatFloat(zone.Target, 'f', -1, 64),
	}
	n.send(user.PhoneNumber, campaign, params)
}

// FeedLoginFailed alerts every admin that the feed session could not be
// established and needs a fresh login.
func (n *WhatsAppNotifier) FeedLoginFailed(admins []postgres.User) {
	for _, admin := range admins {
		n.send(admin.PhoneNumber, campaignFeedLogin, []string{admin.Name, time.Now().Format(time.RFC822)})
	}
}

type campaignRequest struct {
	APIKey         string   `json:"apiKey"`
	CampaignName   string   `json:"campaignName"`
	Destination    string   `json:"destination"`
	UserName       string   `json:"userName"`
	TemplateParams []string `json:"templateParams"`
}

func (n *WhatsAppNotifier) send(destination, campaign string, params []string) {
	payload := campaignRequest{
		APIKey:         n.apiKey,
		CampaignName:   campaign,
		Destination:    destination,
		UserName:       n.userName,
		TemplateParams: params,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		n.logger.Error("failed to encode campaign payload", zap.Error(err))
		return
	}

	resp, err := n.httpClient.Post(n.baseURL, "application/json", bytes.NewReader(body))
	if err != nil {
		n.logger.Error("failed to send notification",
			zap.String("campaign", campaign), zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		n.logger.Error("notification provider error",
			zap.String("campaign", campaign),
			zap.Int("status", resp.StatusCode),
			zap.String("body", fmt.Sprintf("%.200s", respBody)))
		return
	}

	n.logger.Debug("notification sent",
		zap.String("campaign", campaign), zap.String("destination", destination))
}
