// Package monitoring provides the best-effort observability collaborators
// for the collector core: a metrics recorder interface with a no-op
// default, and the parity anomaly alerter.
package monitoring

import (
	"time"

	"go.uber.org/zap"
)

// Recorder receives best-effort counters and timings from the core.
// Implementations must be safe for concurrent use. Callers go through
// Safe so a misbehaving recorder can never break the pipeline.
type Recorder interface {
	// RecordAPICall counts one provider call and its latency.
	RecordAPICall(ok bool, latency time.Duration)

	// RecordEnrichment counts one enrichment invocation.
	RecordEnrichment(mode string, enriched, failedBatches int)

	// RecordPhase counts one phase execution with its outcome and duration.
	RecordPhase(phase, outcome string, d time.Duration)

	// RecordDecision counts one gating decision.
	RecordDecision(index, rule string, promote bool)
}

// NopRecorder discards everything. It is the default collaborator.
type NopRecorder struct{}

func (NopRecorder) RecordAPICall(bool, time.Duration)       {}
func (NopRecorder) RecordEnrichment(string, int, int)       {}
func (NopRecorder) RecordPhase(string, string, time.Duration) {}
func (NopRecorder) RecordDecision(string, string, bool)     {}

// LogRecorder emits metrics as debug log lines. Used by the CLI where no
// real metrics backend is wired.
type LogRecorder struct {
	Log *zap.Logger
}

func (r *LogRecorder) logger() *zap.Logger {
	if r.Log != nil {
		return r.Log
	}
	return zap.L()
}

func (r *LogRecorder) RecordAPICall(ok bool, latency time.Duration) {
	r.logger().Debug("metric: api_call",
		zap.Bool("ok", ok),
		zap.Duration("latency", latency),
	)
}

func (r *LogRecorder) RecordEnrichment(mode string, enriched, failedBatches int) {
	r.logger().Debug("metric: enrichment",
		zap.String("mode", mode),
		zap.Int("enriched", enriched),
		zap.Int("failed_batches", failedBatches),
	)
}

func (r *LogRecorder) RecordPhase(phase, outcome string, d time.Duration) {
	r.logger().Debug("metric: phase",
		zap.String("phase", phase),
		zap.String("outcome", outcome),
		zap.Duration("duration", d),
	)
}

func (r *LogRecorder) RecordDecision(index, rule string, promote bool) {
	r.logger().Debug("metric: gating_decision",
		zap.String("index", index),
		zap.String("rule", rule),
		zap.Bool("promote", promote),
	)
}

// safeRecorder shields callers from a panicking Recorder implementation.
type safeRecorder struct {
	inner Recorder
}

// Safe wraps r so every call is recover-protected. A nil r yields a
// NopRecorder. Metrics failures must never propagate into the pipeline.
func Safe(r Recorder) Recorder {
	if r == nil {
		return NopRecorder{}
	}
	if _, ok := r.(*safeRecorder); ok {
		return r
	}
	return &safeRecorder{inner: r}
}

func (s *safeRecorder) RecordAPICall(ok bool, latency time.Duration) {
	defer func() { _ = recover() }()
	s.inner.RecordAPICall(ok, latency)
}

func (s *safeRecorder) RecordEnrichment(mode string, enriched, failedBatches int) {
	defer func() { _ = recover() }()
	s.inner.RecordEnrichment(mode, enriched, failedBatches)
}

func (s *safeRecorder) RecordPhase(phase, outcome string, d time.Duration) {
	defer func() { _ = recover() }()
	s.inner.RecordPhase(phase, outcome, d)
}

func (s *safeRecorder) RecordDecision(index, rule string, promote bool) {
	defer func() { _ = recover() }()
	s.inner.RecordDecision(index, rule, promote)
}
