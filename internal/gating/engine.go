// Package gating decides, per (index, rule) key, whether the candidate
// collector implementation may be trusted over the legacy one, using
// accumulated per-cycle parity evidence.
package gating

import (
	"strings"
	"time"
)

// Modes the per-key state machine reports.
const (
	ModeInsufficientSamples = "insufficient_samples"
	ModeBelowCanaryTarget   = "below_canary_target"
	ModeCanary              = "canary"
	ModePromote             = "promote"
	ModeFailedHold          = "failed_hold"
)

// Reason codes attached to decisions.
const (
	ReasonInsufficientSamples = "insufficient_samples"
	ReasonBelowCanaryTarget   = "below_canary_target"
	ReasonBelowPromoteTarget  = "below_promote_target"
	ReasonAwaitingStreak      = "awaiting_streak"
	ReasonParityTargetMet     = "parity_target_met"
	ReasonProtectedFieldDiff  = "protected_field_diff"
	ReasonProtectedFieldVeto  = "protected_field_veto"
	ReasonFailStreak          = "fail_streak"
	ReasonObserveMode         = "observe_mode"
)

// Config holds the gating thresholds. The numeric defaults are a
// starting point to validate against operational data, not gospel.
type Config struct {
	// Mode "canary" evaluates promotion normally; "observe" computes
	// everything but never promotes.
	Mode string `yaml:"mode" mapstructure:"mode"`
	// WindowSize bounds the per-key FIFO window of parity outcomes.
	WindowSize int `yaml:"window_size" mapstructure:"window_size"`
	// MinSamples is the floor below which every decision holds.
	MinSamples int `yaml:"min_samples" mapstructure:"min_samples"`
	// CanaryTarget is the windowed ok-fraction needed to stay in canary.
	CanaryTarget float64 `yaml:"canary_target" mapstructure:"canary_target"`
	// PromoteTarget is the stricter ok-fraction required to promote.
	PromoteTarget float64 `yaml:"promote_target" mapstructure:"promote_target"`
	// PromoteStreak is the consecutive clean cycles required to promote.
	PromoteStreak int `yaml:"promote_streak" mapstructure:"promote_streak"`
	// FailStreakHold forces a hold after this many consecutive failures.
	FailStreakHold int `yaml:"fail_streak_hold" mapstructure:"fail_streak_hold"`
	// ProtectedFields disqualify promotion outright when any diff path
	// touches one of them.
	ProtectedFields []string `yaml:"protected_fields" mapstructure:"protected_fields"`
}

// DefaultConfig returns the starting-point thresholds.
func DefaultConfig() Config {
	return Config{
		Mode:            "canary",
		WindowSize:      30,
		MinSamples:      10,
		CanaryTarget:    0.80,
		PromoteTarget:   0.97,
		PromoteStreak:   5,
		FailStreakHold:  3,
		ProtectedFields: []string{"expiry_date"},
	}
}

// Evidence is the per-cycle parity verdict for one key: how many diff
// entries the signature engine produced (zero means a perfect match) and
// which field paths differed.
type Evidence struct {
	DiffCount int      `json:"diff_count"`
	Fields    []string `json:"fields,omitempty"`
}

// Decision is the engine's answer for one call.
type Decision struct {
	Index         string    `json:"index"`
	Rule          string    `json:"rule"`
	Mode          string    `json:"mode"`
	WindowSize    int       `json:"window_size"`
	Canary        bool      `json:"canary"`
	Promote       bool      `json:"promote"`
	Reason        string    `json:"reason"`
	OkRatio       float64   `json:"ok_ratio"`
	OkStreak      int       `json:"ok_streak"`
	DiffCount     int       `json:"diff_count"`
	ProtectedDiff bool      `json:"protected_diff"`
	DecidedAt     time.Time `json:"decided_at"`
}

// keyState is the long-lived promotion memory for one (index, rule) key.
// It is created on the first Decide call and never implicitly reset.
type keyState struct {
	window        []bool
	okStreak      int
	failStreak    int
	protectedVeto bool
}

// Engine runs the per-key state machine. It performs no internal
// locking: the host must serialize Decide calls per key (the intended
// usage is one call per key per cycle from a single owner).
type Engine struct {
	cfg    Config
	states map[string]*keyState
}

// NewEngine creates an engine with cfg, filling zero thresholds from the
// defaults.
func NewEngine(cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.Mode == "" {
		cfg.Mode = def.Mode
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = def.WindowSize
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = def.MinSamples
	}
	if cfg.CanaryTarget <= 0 {
		cfg.CanaryTarget = def.CanaryTarget
	}
	if cfg.PromoteTarget <= 0 {
		cfg.PromoteTarget = def.PromoteTarget
	}
	if cfg.PromoteStreak <= 0 {
		cfg.PromoteStreak = def.PromoteStreak
	}
	if cfg.FailStreakHold <= 0 {
		cfg.FailStreakHold = def.FailStreakHold
	}
	if cfg.ProtectedFields == nil {
		cfg.ProtectedFields = def.ProtectedFields
	}
	return &Engine{cfg: cfg, states: make(map[string]*keyState)}
}

// Seed preloads a key's window from recorded history, oldest first. Used
// to rehydrate engine state across process restarts.
func (e *Engine) Seed(index, rule string, oks []bool, protectedVeto bool) {
	st := e.state(index, rule)
	for _, ok := range oks {
		st.push(ok, e.cfg.WindowSize)
	}
	st.protectedVeto = st.protectedVeto || protectedVeto
}

// Decide consumes one cycle's evidence for (index, rule) and returns the
// promotion decision. It never fails; the zero Evidence is a clean cycle.
func (e *Engine) Decide(index, rule string, ev Evidence) Decision {
	st := e.state(index, rule)

	ok := ev.DiffCount == 0
	protectedHit := e.protectedHit(ev.Fields)
	if protectedHit {
		st.protectedVeto = true
	}
	st.push(ok, e.cfg.WindowSize)

	dec := Decision{
		Index:         index,
		Rule:          rule,
		WindowSize:    len(st.window),
		OkRatio:       st.okRatio(),
		OkStreak:      st.okStreak,
		DiffCount:     ev.DiffCount,
		ProtectedDiff: protectedHit,
		DecidedAt:     time.Now().UTC(),
	}

	switch {
	case len(st.window) < e.cfg.MinSamples:
		dec.Mode = ModeInsufficientSamples
		dec.Reason = ReasonInsufficientSamples

	case st.failStreak >= e.cfg.FailStreakHold:
		// Hysteresis: sustained failures hold even when the windowed
		// ratio still looks promotable.
		dec.Mode = ModeFailedHold
		dec.Reason = ReasonFailStreak

	case dec.OkRatio < e.cfg.CanaryTarget:
		dec.Mode = ModeBelowCanaryTarget
		dec.Reason = ReasonBelowCanaryTarget

	default:
		dec.Mode = ModeCanary
		dec.Canary = true
		switch {
		case dec.OkRatio < e.cfg.PromoteTarget:
			dec.Reason = ReasonBelowPromoteTarget
		case st.okStreak < e.cfg.PromoteStreak:
			dec.Reason = ReasonAwaitingStreak
		default:
			dec.Mode = ModePromote
			dec.Promote = true
			dec.Reason = ReasonParityTargetMet
		}
	}

	// The protected-field veto overrides everything: a single divergence
	// on a protected field disqualifies promotion regardless of streaks.
	if dec.Promote && st.protectedVeto {
		dec.Promote = false
		dec.Mode = ModeCanary
		if protectedHit {
			dec.Reason = ReasonProtectedFieldDiff
		} else {
			dec.Reason = ReasonProtectedFieldVeto
		}
	}
	if protectedHit {
		dec.Promote = false
		dec.Reason = ReasonProtectedFieldDiff
	}

	if dec.Promote && e.cfg.Mode == "observe" {
		dec.Promote = false
		dec.Reason = ReasonObserveMode
	}

	return dec
}

// ProtectedVeto reports whether the key has a standing protected-field
// veto. The flag is only cleared by an explicit ClearVeto.
func (e *Engine) ProtectedVeto(index, rule string) bool {
	return e.state(index, rule).protectedVeto
}

// ClearVeto lifts the protected-field veto for a key after operator
// review.
func (e *Engine) ClearVeto(index, rule string) {
	e.state(index, rule).protectedVeto = false
}

func (e *Engine) state(index, rule string) *keyState {
	key := index + "|" + rule
	st, exists := e.states[key]
	if !exists {
		st = &keyState{}
		e.states[key] = st
	}
	return st
}

func (e *Engine) protectedHit(fields []string) bool {
	for _, f := range fields {
		for _, p := range e.cfg.ProtectedFields {
			if p != "" && strings.Contains(f, p) {
				return true
			}
		}
	}
	return false
}

// push appends one sample, evicting the oldest when the window is full,
// and updates both streaks. The first sample of the opposite class
// resets the other streak to zero.
func (s *keyState) push(ok bool, windowSize int) {
	s.window = append(s.window, ok)
	if len(s.window) > windowSize {
		s.window = s.window[1:]
	}
	if ok {
		s.okStreak++
		s.failStreak = 0
	} else {
		s.failStreak++
		s.okStreak = 0
	}
}

func (s *keyState) okRatio() float64 {
	if len(s.window) == 0 {
		return 0
	}
	oks := 0
	for _, ok := range s.window {
		if ok {
			oks++
		}
	}
	return float64(oks) / float64(len(s.window))
}
