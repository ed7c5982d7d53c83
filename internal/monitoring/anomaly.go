package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/ayushrajani07/g6-collector/internal/parity"
	"github.com/ayushrajani07/g6-collector/internal/shadow"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertParityAnomaly    AlertType = "parity_anomaly"
	AlertCriticalShadow   AlertType = "critical_shadow_diff"
	AlertProtectedDiverge AlertType = "protected_field_divergence"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// AnomalyConfig controls the parity anomaly alerter.
type AnomalyConfig struct {
	// ScoreThreshold is the weighted diff score above which a
	// parity_anomaly alert fires.
	ScoreThreshold float64 `yaml:"score_threshold" mapstructure:"score_threshold"`
	// WebhookURL receives alerts as JSON POSTs when set.
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// Weights per diff category for the anomaly score. Protected divergences
// dominate; plain value drift barely registers.
const (
	weightProtected  = 10.0
	weightSection    = 5.0
	weightStructural = 5.0
	weightSetSize    = 3.0
	weightDrift      = 1.0
)

// DiffScore collapses a parity diff into one weighted number.
func DiffScore(diffs []parity.DiffEntry, protectedHit bool) float64 {
	var score float64
	for _, d := range diffs {
		switch d.Kind {
		case parity.DiffMissingSection, parity.DiffExtraSection:
			score += weightSection
		case parity.DiffStructuralMismatch:
			score += weightStructural
		case parity.DiffSetSizeMismatch:
			score += weightSetSize
		default:
			score += weightDrift
		}
	}
	if protectedHit {
		score += weightProtected
	}
	return score
}

// Alerter evaluates parity evidence against thresholds and sends alerts
// via webhook when they are breached. All delivery failures are reported
// as errors for the caller to log; they never panic.
type Alerter struct {
	cfg    AnomalyConfig
	client *http.Client
}

// NewAlerter creates an Alerter with the given config.
func NewAlerter(cfg AnomalyConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate produces alerts for one cycle's comparison outcome.
func (a *Alerter) Evaluate(rep *shadow.Report, diffs []parity.DiffEntry, sum parity.Summary) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	score := DiffScore(diffs, sum.ProtectedHit)
	if a.cfg.ScoreThreshold > 0 && score > a.cfg.ScoreThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertParityAnomaly,
			Severity: "high",
			Message: fmt.Sprintf(
				"parity diff score %.1f exceeds threshold %.1f (%d diff entries)",
				score, a.cfg.ScoreThreshold, len(diffs),
			),
			Details: map[string]any{
				"score":      score,
				"threshold":  a.cfg.ScoreThreshold,
				"diff_count": len(diffs),
				"fields":     sum.Fields,
			},
			Timestamp: now,
		})
	}

	if rep != nil && rep.Severity == shadow.SeverityCritical {
		alerts = append(alerts, Alert{
			Type:     AlertCriticalShadow,
			Severity: "critical",
			Message: fmt.Sprintf(
				"shadow comparison critical: %d structural diffs, %d alert diffs",
				len(rep.Structural), len(rep.Alerts),
			),
			Details: map[string]any{
				"cycle_id":   rep.CycleID,
				"structural": len(rep.Structural),
				"alerts":     len(rep.Alerts),
			},
			Timestamp: now,
		})
	}

	if sum.ProtectedHit {
		alerts = append(alerts, Alert{
			Type:     AlertProtectedDiverge,
			Severity: "critical",
			Message:  "protected field diverged between legacy and candidate output",
			Details: map[string]any{
				"fields": sum.Fields,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// Send delivers alerts to the configured webhook. Without a webhook it
// is a no-op.
func (a *Alerter) Send(ctx context.Context, alerts []Alert) error {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return nil
	}

	payload, err := json.Marshal(map[string]any{"alerts": alerts})
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alerts")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: send webhook")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return eris.Errorf("monitoring: webhook returned %d", resp.StatusCode)
	}
	return nil
}
