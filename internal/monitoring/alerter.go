package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/enrich-cli/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertFailureRate         AlertType = "enrichment_failure_rate"
	AlertSpendOverrun        AlertType = "spend_overrun"
	AlertVerificationBacklog AlertType = "verification_backlog"
	AlertBreakerOpen         AlertType = "breaker_open"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds and sends
// alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates an Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	// A handful of runs is not a trend.
	finished := snap.Runs.Enriched + snap.Runs.Degraded + snap.Runs.Failed
	if finished >= 10 && a.cfg.FailureRateThreshold > 0 && snap.FailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Enrichment failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished)",
				snap.FailRate*100, a.cfg.FailureRateThreshold*100,
				snap.Runs.Failed, finished,
			),
			Details: map[string]any{
				"fail_rate": snap.FailRate,
				"threshold": a.cfg.FailureRateThreshold,
				"failed":    snap.Runs.Failed,
				"finished":  finished,
			},
			Timestamp: now,
		})
	}

	if a.cfg.SpendThresholdUSD > 0 && snap.TotalSpendUSD > a.cfg.SpendThresholdUSD {
		alerts = append(alerts, Alert{
			Type:     AlertSpendOverrun,
			Severity: "high",
			Message: fmt.Sprintf(
				"Provider spend $%.2f exceeds threshold $%.2f in the rolling window",
				snap.TotalSpendUSD, a.cfg.SpendThresholdUSD,
			),
			Details: map[string]any{
				"spend_usd":         snap.TotalSpendUSD,
				"threshold_usd":     a.cfg.SpendThresholdUSD,
				"spend_by_provider": snap.SpendByProvider,
			},
			Timestamp: now,
		})
	}

	if a.cfg.QueueDepthThreshold > 0 && snap.VerificationBacklog > a.cfg.QueueDepthThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertVerificationBacklog,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Verification backlog %d exceeds threshold %d; the worker is not keeping up",
				snap.VerificationBacklog, a.cfg.QueueDepthThreshold,
			),
			Details: map[string]any{
				"backlog":   snap.VerificationBacklog,
				"threshold": a.cfg.QueueDepthThreshold,
			},
			Timestamp: now,
		})
	}

	var open []string
	for provider, state := range snap.BreakerStates {
		if state == "open" {
			open = append(open, provider)
		}
	}
	if len(open) > 0 {
		sort.Strings(open)
		alerts = append(alerts, Alert{
			Type:     AlertBreakerOpen,
			Severity: "medium",
			Message:  fmt.Sprintf("%d provider circuit(s) open: %v", len(open), open),
			Details: map[string]any{
				"providers": open,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL. Returns the
// number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
