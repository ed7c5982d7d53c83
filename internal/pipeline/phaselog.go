package pipeline

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ayushrajani07/g6-collector/internal/monitoring"
)

// Outcome classifies one phase execution.
type Outcome string

const (
	OutcomeOK    Outcome = "ok"
	OutcomeSkip  Outcome = "skip"
	OutcomeWarn  Outcome = "warn"
	OutcomeFail  Outcome = "fail"
	OutcomeFatal Outcome = "fatal"
)

// outcomeRank orders outcomes from best to worst. A PhaseRecord's outcome
// only moves toward worse values; it is never reset toward ok.
func outcomeRank(o Outcome) int {
	switch o {
	case OutcomeOK:
		return 0
	case OutcomeSkip:
		return 1
	case OutcomeWarn:
		return 2
	case OutcomeFail:
		return 3
	case OutcomeFatal:
		return 4
	default:
		return 3
	}
}

// PhaseRecord tracks one execution of one phase. It is created at phase
// entry, mutated only through explicit outcome calls, and emitted exactly
// once at phase exit.
type PhaseRecord struct {
	Phase string
	Index string
	Rule  string

	start   time.Time
	outcome Outcome
	reason  string
	meta    map[string]string
}

// Outcome returns the current classification.
func (r *PhaseRecord) Outcome() Outcome { return r.outcome }

// Reason returns the recorded reason, empty for clean runs.
func (r *PhaseRecord) Reason() string { return r.reason }

// mark worsens the record's outcome. A better or equal outcome never
// overwrites a worse one already recorded.
func (r *PhaseRecord) mark(o Outcome, reason string) {
	if outcomeRank(o) < outcomeRank(r.outcome) {
		return
	}
	r.outcome = o
	if reason != "" {
		r.reason = reason
	}
}

// Warn downgrades the record to warn with the given reason.
func (r *PhaseRecord) Warn(reason string) {
	r.mark(OutcomeWarn, reason)
}

// Skip marks the record as intentionally skipped.
func (r *PhaseRecord) Skip(reason string) {
	r.mark(OutcomeSkip, reason)
}

// Meta attaches one key=value pair to the emitted line.
func (r *PhaseRecord) Meta(key string, value any) {
	if r.meta == nil {
		r.meta = make(map[string]string)
	}
	r.meta[key] = fmt.Sprint(value)
}

// DedupCache suppresses consecutive identical warn/fail lines per
// (phase, index, rule) key. It is an explicit component rather than
// package state so it can be reset and tested in isolation.
type DedupCache struct {
	mu   sync.Mutex
	last map[string]string
}

// NewDedupCache creates an empty cache.
func NewDedupCache() *DedupCache {
	return &DedupCache{last: make(map[string]string)}
}

// Suppress reports whether a line with the given signature should be
// dropped. Outcomes at ok/skip level are never suppressed but still
// update the last-seen signature so a later repeated failure is treated
// as new.
func (c *DedupCache) Suppress(phase, index, rule string, outcome Outcome, reason string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := phase + "|" + index + "|" + rule
	sig := string(outcome) + "|" + reason

	prev, seen := c.last[key]
	c.last[key] = sig

	if outcomeRank(outcome) < outcomeRank(OutcomeWarn) {
		return false
	}
	return seen && prev == sig
}

// Reset clears all remembered signatures.
func (c *DedupCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = make(map[string]string)
}

// RunnerConfig controls phase logging behavior.
type RunnerConfig struct {
	// Dedup enables suppression of consecutive identical warn/fail lines.
	Dedup bool
}

// Runner executes pipeline phases, classifies their outcome via the error
// taxonomy, and emits one structured line per phase of the form
//
//	expiry.<phase>.<outcome> dt_ms=<float> index=<> rule=<> [reason=<>] [k=v ...]
type Runner struct {
	cfg     RunnerConfig
	log     *zap.Logger
	dedup   *DedupCache
	metrics monitoring.Recorder
}

// NewRunner creates a phase runner. A nil logger falls back to the global
// zap logger; a nil dedup cache disables deduplication regardless of cfg.
func NewRunner(cfg RunnerConfig, log *zap.Logger, dedup *DedupCache, metrics monitoring.Recorder) *Runner {
	return &Runner{
		cfg:     cfg,
		log:     log,
		dedup:   dedup,
		metrics: monitoring.Safe(metrics),
	}
}

// RunPhase executes one phase inside the logging boundary.
//
// Classification follows the taxonomy: Abort is swallowed (outcome skip,
// nil return); Recoverable and Fatal yield outcome fail and are returned
// to the caller; any other error is an unclassified failure, recorded and
// returned, never downgraded.
func (r *Runner) RunPhase(index, rule, phase string, fn func(rec *PhaseRecord) error) error {
	rec := &PhaseRecord{
		Phase:   phase,
		Index:   index,
		Rule:    rule,
		start:   time.Now(),
		outcome: OutcomeOK,
	}

	err := fn(rec)

	switch {
	case err == nil:
		// fn may have marked warn/skip explicitly; leave it alone.
	case IsAbort(err):
		rec.mark(OutcomeSkip, err.Error())
		err = nil
	case IsFatal(err):
		rec.mark(OutcomeFail, "FATAL: "+err.Error())
	default:
		// Recoverable and unclassified errors both scope to this unit.
		rec.mark(OutcomeFail, err.Error())
	}

	dur := time.Since(rec.start)
	r.emit(rec, dur)
	r.metrics.RecordPhase(phase, string(rec.outcome), dur)

	return err
}

// emit writes the structured line. Emission must never take the pipeline
// down: any panic from formatting or the logger is caught and discarded.
func (r *Runner) emit(rec *PhaseRecord, dur time.Duration) {
	defer func() { _ = recover() }()

	if r.cfg.Dedup && r.dedup != nil &&
		r.dedup.Suppress(rec.Phase, rec.Index, rec.Rule, rec.outcome, rec.reason) {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "expiry.%s.%s dt_ms=%.2f index=%s rule=%s",
		rec.Phase, rec.outcome, float64(dur.Microseconds())/1000.0, rec.Index, rec.Rule)
	if rec.reason != "" {
		fmt.Fprintf(&b, " reason=%s", rec.reason)
	}
	if len(rec.meta) > 0 {
		keys := make([]string, 0, len(rec.meta))
		for k := range rec.meta {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%s", k, rec.meta[k])
		}
	}

	log := r.log
	if log == nil {
		log = zap.L()
	}
	line := b.String()

	switch rec.outcome {
	case OutcomeFail, OutcomeFatal:
		log.Error(line)
	case OutcomeWarn:
		log.Warn(line)
	default:
		log.Info(line)
	}
}
