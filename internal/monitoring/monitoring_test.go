package monitoring

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayushrajani07/g6-collector/internal/parity"
	"github.com/ayushrajani07/g6-collector/internal/shadow"
)

type panickyRecorder struct{}

func (panickyRecorder) RecordAPICall(bool, time.Duration)         { panic("broken") }
func (panickyRecorder) RecordEnrichment(string, int, int)         { panic("broken") }
func (panickyRecorder) RecordPhase(string, string, time.Duration) { panic("broken") }
func (panickyRecorder) RecordDecision(string, string, bool)       { panic("broken") }

func TestSafe_AbsorbsPanics(t *testing.T) {
	r := Safe(panickyRecorder{})

	assert.NotPanics(t, func() {
		r.RecordAPICall(true, time.Millisecond)
		r.RecordEnrichment("async-batch", 10, 1)
		r.RecordPhase("fetch", "ok", time.Millisecond)
		r.RecordDecision("NIFTY", "this_week", false)
	})
}

func TestSafe_NilYieldsNop(t *testing.T) {
	r := Safe(nil)
	assert.NotPanics(t, func() {
		r.RecordAPICall(false, 0)
	})
}

func TestSafe_Idempotent(t *testing.T) {
	r := Safe(panickyRecorder{})
	assert.Same(t, r, Safe(r))
}

func TestDiffScore_Weighting(t *testing.T) {
	diffs := []parity.DiffEntry{
		{Kind: parity.DiffMissingSection, Path: "memory"},
		{Kind: parity.DiffStructuralMismatch, Path: "summary.flag"},
		{Kind: parity.DiffSetSizeMismatch, Path: "indices"},
		{Kind: parity.DiffFieldValueDrift, Path: "summary.indices_ok"},
	}

	assert.Equal(t, 14.0, DiffScore(diffs, false))
	assert.Equal(t, 24.0, DiffScore(diffs, true), "protected divergence adds its own weight")
	assert.Equal(t, 0.0, DiffScore(nil, false))
}

func TestAlerter_Evaluate(t *testing.T) {
	a := NewAlerter(AnomalyConfig{ScoreThreshold: 4.0})

	// Below threshold, clean shadow report: nothing fires.
	alerts := a.Evaluate(&shadow.Report{Severity: shadow.SeverityOK},
		[]parity.DiffEntry{{Kind: parity.DiffFieldValueDrift, Path: "summary.x"}},
		parity.Summary{DiffCount: 1})
	assert.Empty(t, alerts)

	// Score over threshold fires a parity anomaly.
	diffs := []parity.DiffEntry{
		{Kind: parity.DiffMissingSection, Path: "memory"},
		{Kind: parity.DiffFieldValueDrift, Path: "summary.x"},
	}
	alerts = a.Evaluate(&shadow.Report{Severity: shadow.SeverityOK}, diffs,
		parity.Summary{DiffCount: 2})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertParityAnomaly, alerts[0].Type)

	// Critical shadow severity and protected divergence each fire.
	alerts = a.Evaluate(&shadow.Report{Severity: shadow.SeverityCritical}, nil,
		parity.Summary{ProtectedHit: true})
	require.Len(t, alerts, 3, "anomaly score includes the protected weight")
	types := map[AlertType]bool{}
	for _, al := range alerts {
		types[al.Type] = true
	}
	assert.True(t, types[AlertCriticalShadow])
	assert.True(t, types[AlertProtectedDiverge])
}

func TestAlerter_SendWebhook(t *testing.T) {
	var received []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := NewAlerter(AnomalyConfig{WebhookURL: srv.URL})
	alerts := []Alert{{Type: AlertParityAnomaly, Severity: "high", Message: "m", Timestamp: time.Now().UTC()}}

	require.NoError(t, a.Send(context.Background(), alerts))

	var payload struct {
		Alerts []Alert `json:"alerts"`
	}
	require.NoError(t, json.Unmarshal(received, &payload))
	require.Len(t, payload.Alerts, 1)
	assert.Equal(t, AlertParityAnomaly, payload.Alerts[0].Type)
}

func TestAlerter_SendFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	a := NewAlerter(AnomalyConfig{WebhookURL: srv.URL})
	err := a.Send(context.Background(), []Alert{{Type: AlertParityAnomaly}})
	assert.Error(t, err)

	// No webhook configured: silently skipped.
	quiet := NewAlerter(AnomalyConfig{})
	assert.NoError(t, quiet.Send(context.Background(), []Alert{{Type: AlertParityAnomaly}}))
}
