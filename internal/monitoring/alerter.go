package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/basinlabs/catchscan/internal/config"
	"github.com/basinlabs/catchscan/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertGPSAccuracyDegraded AlertType = "gps_accuracy_degraded"
	AlertGPSSilence          AlertType = "gps_silence"
	AlertInertialSilence     AlertType = "inertial_silence"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	retry  resilience.RetryConfig
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = 2
	retry.InitialBackoff = 250 * time.Millisecond
	retry.OnRetry = resilience.RetryLogger("monitoring", "send_webhook")
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		retry:  retry,
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
// Silence is measured against CollectedAt so a fabricated snapshot evaluates
// deterministically.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()
	silence := time.Duration(a.cfg.SilenceThresholdSecs) * time.Second

	// Average accuracy needs a few fixes before it means anything.
	if snap.GPSFixes >= 5 && a.cfg.AccuracyThresholdM > 0 && snap.AvgAccuracy > a.cfg.AccuracyThresholdM {
		alerts = append(alerts, Alert{
			Type:     AlertGPSAccuracyDegraded,
			Severity: "high",
			Message: fmt.Sprintf(
				"GPS average accuracy %.1fm exceeds threshold %.1fm over %d fixes (worst %.1fm)",
				snap.AvgAccuracy, a.cfg.AccuracyThresholdM, snap.GPSFixes, snap.WorstAccuracy,
			),
			Details: map[string]any{
				"avg_accuracy":   snap.AvgAccuracy,
				"worst_accuracy": snap.WorstAccuracy,
				"threshold":      a.cfg.AccuracyThresholdM,
				"fixes":          snap.GPSFixes,
			},
			Timestamp: now,
		})
	}

	if silence > 0 && snap.GPSFixes > 0 && snap.CollectedAt.Sub(snap.LastFixAt) > silence {
		alerts = append(alerts, Alert{
			Type:     AlertGPSSilence,
			Severity: "high",
			Message: fmt.Sprintf(
				"no GPS fix for %.0fs (threshold %.0fs)",
				snap.CollectedAt.Sub(snap.LastFixAt).Seconds(), silence.Seconds(),
			),
			Details: map[string]any{
				"last_fix_at": snap.LastFixAt,
				"threshold_s": silence.Seconds(),
			},
			Timestamp: now,
		})
	}

	if silence > 0 && snap.InertialEvents > 0 && snap.CollectedAt.Sub(snap.LastInertialAt) > silence {
		alerts = append(alerts, Alert{
			Type:     AlertInertialSilence,
			Severity: "medium",
			Message: fmt.Sprintf(
				"no inertial reading for %.0fs (threshold %.0fs)",
				snap.CollectedAt.Sub(snap.LastInertialAt).Seconds(), silence.Seconds(),
			),
			Details: map[string]any{
				"last_inertial_at": snap.LastInertialAt,
				"threshold_s":      silence.Seconds(),
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		alert := alert
		err := resilience.Do(ctx, a.retry, func(ctx context.Context) error {
			return a.sendWebhook(ctx, alert)
		})
		if err != nil {
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

// sendWebhook posts a single alert to the webhook URL.
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
		err := eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(err, resp.StatusCode)
		}
		return err
	}
	return nil
}
