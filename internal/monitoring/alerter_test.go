package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basinlabs/catchscan/internal/config"
)

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		AccuracyThresholdM:   15.0,
		SilenceThresholdSecs: 10,
	})

	now := time.Now().UTC()
	snap := &MetricsSnapshot{
		GPSFixes:       50,
		InertialEvents: 500,
		AvgAccuracy:    4.5,
		WorstAccuracy:  9.0,
		LastFixAt:      now.Add(-1 * time.Second),
		LastInertialAt: now.Add(-1 * time.Second),
		CollectedAt:    now,
	}

	alerts := a.Evaluate(snap)
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_AccuracyDegraded(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		AccuracyThresholdM:   15.0,
		SilenceThresholdSecs: 10,
	})

	now := time.Now().UTC()
	snap := &MetricsSnapshot{
		GPSFixes:      20,
		AvgAccuracy:   22.5,
		WorstAccuracy: 48.0,
		LastFixAt:     now,
		CollectedAt:   now,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertGPSAccuracyDegraded, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "22.5m")
}

func TestAlerter_Evaluate_GPSSilence(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		AccuracyThresholdM:   15.0,
		SilenceThresholdSecs: 10,
	})

	now := time.Now().UTC()
	snap := &MetricsSnapshot{
		GPSFixes:    8,
		AvgAccuracy: 5.0,
		LastFixAt:   now.Add(-30 * time.Second),
		CollectedAt: now,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertGPSSilence, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "no GPS fix")
}

func TestAlerter_Evaluate_InertialSilence(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		AccuracyThresholdM:   15.0,
		SilenceThresholdSecs: 10,
	})

	now := time.Now().UTC()
	snap := &MetricsSnapshot{
		GPSFixes:       8,
		AvgAccuracy:    5.0,
		LastFixAt:      now,
		InertialEvents: 100,
		LastInertialAt: now.Add(-45 * time.Second),
		CollectedAt:    now,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertInertialSilence, alerts[0].Type)
	assert.Equal(t, "medium", alerts[0].Severity)
}

func TestAlerter_Evaluate_MultipleAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		AccuracyThresholdM:   15.0,
		SilenceThresholdSecs: 10,
	})

	now := time.Now().UTC()
	snap := &MetricsSnapshot{
		GPSFixes:       20,
		AvgAccuracy:    30.0,
		LastFixAt:      now.Add(-60 * time.Second),
		InertialEvents: 100,
		LastInertialAt: now.Add(-60 * time.Second),
		CollectedAt:    now,
	}

	alerts := a.Evaluate(snap)
	assert.Len(t, alerts, 3)

	types := make(map[AlertType]bool)
	for _, a := range alerts {
		types[a.Type] = true
	}
	assert.True(t, types[AlertGPSAccuracyDegraded])
	assert.True(t, types[AlertGPSSilence])
	assert.True(t, types[AlertInertialSilence])
}

func TestAlerter_Evaluate_MinimumFixesRequired(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		AccuracyThresholdM:   15.0,
		SilenceThresholdSecs: 10,
	})

	// Only 3 fixes, below the 5-fix minimum for the accuracy alert.
	now := time.Now().UTC()
	snap := &MetricsSnapshot{
		GPSFixes:    3,
		AvgAccuracy: 40.0,
		LastFixAt:   now,
		CollectedAt: now,
	}

	alerts := a.Evaluate(snap)
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_SilenceBeforeFirstEvent(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		AccuracyThresholdM:   15.0,
		SilenceThresholdSecs: 10,
	})

	// No events at all: silence alerts must not fire on zero timestamps.
	snap := &MetricsSnapshot{CollectedAt: time.Now().UTC()}

	alerts := a.Evaluate(snap)
	assert.Empty(t, alerts)
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		err := json.NewDecoder(r.Body).Decode(&alert)
		require.NoError(t, err)
		assert.NotEmpty(t, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: ts.URL,
	})

	alerts := []Alert{
		{Type: AlertGPSAccuracyDegraded, Severity: "high", Message: "test alert 1"},
		{Type: AlertGPSSilence, Severity: "high", Message: "test alert 2"},
	}

	sent := a.SendAlerts(context.Background(), alerts)
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_EmptyURL(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: "",
	})

	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertGPSSilence, Message: "test"},
	})
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_EmptyAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: "http://example.com",
	})

	sent := a.SendAlerts(context.Background(), nil)
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: ts.URL,
	})

	alerts := []Alert{
		{Type: AlertGPSSilence, Message: "test"},
	}

	sent := a.SendAlerts(context.Background(), alerts)
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_RetriesTransientStatus(t *testing.T) {
	var requests atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if requests.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: ts.URL,
	})
	a.retry.InitialBackoff = time.Millisecond

	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertGPSSilence, Message: "test"},
	})
	assert.Equal(t, 1, sent)
	assert.Equal(t, int32(2), requests.Load())
}

func TestAlerter_Evaluate_ZeroAccuracyThreshold(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		AccuracyThresholdM: 0, // disabled
	})

	now := time.Now().UTC()
	snap := &MetricsSnapshot{
		GPSFixes:    100,
		AvgAccuracy: 99.0,
		LastFixAt:   now,
		CollectedAt: now,
	}

	alerts := a.Evaluate(snap)
	assert.Empty(t, alerts)
}
