package gating

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		Mode:            "canary",
		WindowSize:      10,
		MinSamples:      4,
		CanaryTarget:    0.5,
		PromoteTarget:   0.8,
		PromoteStreak:   3,
		FailStreakHold:  3,
		ProtectedFields: []string{"expiry_date"},
	}
}

func clean() Evidence { return Evidence{} }

func dirty(fields ...string) Evidence {
	return Evidence{DiffCount: len(fields), Fields: fields}
}

func TestDecide_HoldsBelowMinSamples(t *testing.T) {
	e := NewEngine(testConfig())

	for i := 0; i < 3; i++ {
		dec := e.Decide("NIFTY", "this_week", clean())
		assert.False(t, dec.Promote, "must never promote below the sample floor")
		assert.Equal(t, ModeInsufficientSamples, dec.Mode)
		assert.Equal(t, ReasonInsufficientSamples, dec.Reason)
		assert.Equal(t, i+1, dec.WindowSize)
	}
}

func TestDecide_PromotesAfterCleanStreak(t *testing.T) {
	e := NewEngine(testConfig())

	var dec Decision
	for i := 0; i < 4; i++ {
		dec = e.Decide("NIFTY", "this_week", clean())
	}

	assert.True(t, dec.Promote)
	assert.Equal(t, ModePromote, dec.Mode)
	assert.Equal(t, ReasonParityTargetMet, dec.Reason)
	assert.True(t, dec.Canary)
	assert.Equal(t, 1.0, dec.OkRatio)
	assert.Equal(t, 4, dec.OkStreak)
}

func TestDecide_StreakGateBeforePromotion(t *testing.T) {
	cfg := testConfig()
	cfg.PromoteStreak = 6
	e := NewEngine(cfg)

	var dec Decision
	for i := 0; i < 5; i++ {
		dec = e.Decide("NIFTY", "this_week", clean())
	}
	assert.False(t, dec.Promote)
	assert.Equal(t, ReasonAwaitingStreak, dec.Reason)

	dec = e.Decide("NIFTY", "this_week", clean())
	assert.True(t, dec.Promote)
}

func TestDecide_ProtectedFieldVetoOverridesEverything(t *testing.T) {
	e := NewEngine(testConfig())

	// Build a fully promotable state.
	for i := 0; i < 6; i++ {
		require.True(t, e.Decide("NIFTY", "this_week", clean()).Promote || i < 3)
	}

	dec := e.Decide("NIFTY", "this_week", dirty("indices[0].expiry_dates[0]"))
	assert.False(t, dec.Promote)
	assert.True(t, dec.ProtectedDiff)
	assert.Equal(t, ReasonProtectedFieldDiff, dec.Reason)
	assert.True(t, e.ProtectedVeto("NIFTY", "this_week"))

	// Even after the streak rebuilds, the standing veto blocks promotion.
	var after Decision
	for i := 0; i < 5; i++ {
		after = e.Decide("NIFTY", "this_week", clean())
	}
	assert.False(t, after.Promote)
	assert.Equal(t, ReasonProtectedFieldVeto, after.Reason)
	assert.False(t, after.ProtectedDiff, "flag reports this call only")

	// Operator review lifts the veto.
	e.ClearVeto("NIFTY", "this_week")
	assert.True(t, e.Decide("NIFTY", "this_week", clean()).Promote)
}

func TestDecide_NonProtectedDiffIsJustEvidence(t *testing.T) {
	e := NewEngine(testConfig())

	dec := e.Decide("NIFTY", "this_week", dirty("summary.indices_ok"))
	assert.False(t, dec.ProtectedDiff)
	assert.False(t, e.ProtectedVeto("NIFTY", "this_week"))
}

func TestDecide_FailStreakHysteresis(t *testing.T) {
	cfg := testConfig()
	cfg.CanaryTarget = 0.2 // keep the ratio gate out of the way
	e := NewEngine(cfg)

	for i := 0; i < 6; i++ {
		e.Decide("NIFTY", "this_week", clean())
	}
	for i := 0; i < 2; i++ {
		dec := e.Decide("NIFTY", "this_week", dirty("summary.x"))
		assert.NotEqual(t, ModeFailedHold, dec.Mode)
	}

	dec := e.Decide("NIFTY", "this_week", dirty("summary.x"))
	assert.Equal(t, ModeFailedHold, dec.Mode)
	assert.Equal(t, ReasonFailStreak, dec.Reason)
	assert.False(t, dec.Promote)
}

func TestDecide_StreaksResetOnOppositeClass(t *testing.T) {
	e := NewEngine(testConfig())

	e.Decide("NIFTY", "this_week", clean())
	e.Decide("NIFTY", "this_week", clean())
	dec := e.Decide("NIFTY", "this_week", dirty("summary.x"))
	assert.Equal(t, 0, dec.OkStreak, "first fail resets the ok streak")

	dec = e.Decide("NIFTY", "this_week", clean())
	assert.Equal(t, 1, dec.OkStreak)
}

func TestDecide_WindowEvictsFIFO(t *testing.T) {
	cfg := testConfig()
	cfg.WindowSize = 4
	e := NewEngine(cfg)

	// Two early failures...
	e.Decide("NIFTY", "this_week", dirty("summary.x"))
	e.Decide("NIFTY", "this_week", dirty("summary.x"))
	// ...pushed out by four clean cycles.
	var dec Decision
	for i := 0; i < 4; i++ {
		dec = e.Decide("NIFTY", "this_week", clean())
	}

	assert.Equal(t, 4, dec.WindowSize)
	assert.Equal(t, 1.0, dec.OkRatio, "evicted failures no longer weigh in")
}

func TestDecide_BelowCanaryTargetHolds(t *testing.T) {
	cfg := testConfig()
	cfg.FailStreakHold = 100 // isolate the ratio gate
	e := NewEngine(cfg)

	for i := 0; i < 3; i++ {
		e.Decide("NIFTY", "this_week", dirty("summary.x"))
	}
	e.Decide("NIFTY", "this_week", clean())
	dec := e.Decide("NIFTY", "this_week", dirty("summary.x"))

	assert.Equal(t, ModeBelowCanaryTarget, dec.Mode)
	assert.False(t, dec.Canary)
	assert.False(t, dec.Promote)
}

func TestDecide_KeysAreIndependent(t *testing.T) {
	e := NewEngine(testConfig())

	for i := 0; i < 4; i++ {
		e.Decide("NIFTY", "this_week", clean())
	}
	dec := e.Decide("BANKNIFTY", "this_week", clean())
	assert.Equal(t, 1, dec.WindowSize, "fresh key starts a fresh window")
}

func TestDecide_ObserveModeNeverPromotes(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = "observe"
	e := NewEngine(cfg)

	var dec Decision
	for i := 0; i < 6; i++ {
		dec = e.Decide("NIFTY", "this_week", clean())
	}
	assert.False(t, dec.Promote)
	assert.Equal(t, ReasonObserveMode, dec.Reason)
}

func TestSeed_RehydratesWindow(t *testing.T) {
	e := NewEngine(testConfig())
	e.Seed("NIFTY", "this_week", []bool{true, true, true}, false)

	dec := e.Decide("NIFTY", "this_week", clean())
	assert.Equal(t, 4, dec.WindowSize)
	assert.Equal(t, 4, dec.OkStreak)
	assert.True(t, dec.Promote)
}

func TestSeed_CarriesProtectedVeto(t *testing.T) {
	e := NewEngine(testConfig())
	e.Seed("NIFTY", "this_week", []bool{true, true, true, true}, true)

	dec := e.Decide("NIFTY", "this_week", clean())
	assert.False(t, dec.Promote)
	assert.Equal(t, ReasonProtectedFieldVeto, dec.Reason)
}

func TestNewEngine_FillsZeroThresholds(t *testing.T) {
	e := NewEngine(Config{})
	def := DefaultConfig()

	assert.Equal(t, def.WindowSize, e.cfg.WindowSize)
	assert.Equal(t, def.PromoteTarget, e.cfg.PromoteTarget)
	assert.Equal(t, def.ProtectedFields, e.cfg.ProtectedFields)
}
