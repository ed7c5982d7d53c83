// Package shadow compares a legacy collector run against a candidate run
// executed on the same cycle, producing a categorized diff report and an
// overall severity for logging and alerting.
package shadow

import (
	"math"
	"sort"
	"strings"

	"github.com/ayushrajani07/g6-collector/internal/model"
)

// Severity is the overall verdict of one shadow comparison.
type Severity string

const (
	SeverityOK       Severity = "ok"
	SeverityWarn     Severity = "warn"
	SeverityCritical Severity = "critical"
)

// countDriftTolerance is the relative drift allowed on aggregate count
// fields before they are flagged: |a-b| / max(1,|a|) > 0.05.
const countDriftTolerance = 0.05

// Alert flag prefixes whose divergence alone makes the comparison
// critical. Matched by prefix because collectors emit both the bare
// flag and per-index variants like index_failure_NIFTY.
var criticalAlertPrefixes = []string{
	"index_failure",
	"index_empty",
}

func isCriticalAlertFlag(flag string) bool {
	for _, p := range criticalAlertPrefixes {
		if strings.HasPrefix(flag, p) {
			return true
		}
	}
	return false
}

// FieldDiff records one differing field with both sides' values.
type FieldDiff struct {
	Field  string `json:"field"`
	Legacy any    `json:"legacy"`
	Shadow any    `json:"shadow"`
	Note   string `json:"note,omitempty"`
}

// StructuralDiff records a summary key present on only one side.
type StructuralDiff struct {
	Key   string `json:"key"`
	Where string `json:"where"` // missing_in_pipeline or extra_in_pipeline
}

// Report aggregates the comparator output for one cycle.
type Report struct {
	CycleID        string           `json:"cycle_id,omitempty"`
	Counts         []FieldDiff      `json:"counts,omitempty"`
	Alerts         []FieldDiff      `json:"alerts,omitempty"`
	Coverage       []FieldDiff      `json:"coverage,omitempty"`
	PartialReasons []FieldDiff      `json:"partial_reasons,omitempty"`
	Structural     []StructuralDiff `json:"structural,omitempty"`
	Severity       Severity         `json:"severity"`
}

// Empty reports whether no category recorded a difference.
func (r *Report) Empty() bool {
	return len(r.Counts) == 0 && len(r.Alerts) == 0 && len(r.Coverage) == 0 &&
		len(r.PartialReasons) == 0 && len(r.Structural) == 0
}

// Compare shallow-extracts the comparison-relevant fields of both runs
// and categorizes every divergence. It never inspects full option
// chains; deep parity is the signature engine's job.
func Compare(legacy, candidate *model.RunResult) *Report {
	rep := &Report{}
	if legacy != nil {
		rep.CycleID = legacy.CycleID
	}
	if legacy == nil {
		legacy = &model.RunResult{}
	}
	if candidate == nil {
		candidate = &model.RunResult{}
	}

	compareCounts(legacy, candidate, rep)
	compareAlerts(legacy, candidate, rep)
	compareCoverage(legacy, candidate, rep)
	comparePartialReasons(legacy, candidate, rep)
	compareStructural(legacy, candidate, rep)

	rep.Severity = severityOf(rep)
	return rep
}

// compareCounts checks aggregate fields and summary scalars with the 5%
// relative-drift tolerance.
func compareCounts(legacy, candidate *model.RunResult, rep *Report) {
	check := func(field string, a, b float64) {
		if math.Abs(a-b)/math.Max(1, math.Abs(a)) > countDriftTolerance {
			rep.Counts = append(rep.Counts, FieldDiff{Field: field, Legacy: a, Shadow: b})
		}
	}

	check("indices_processed", float64(legacy.IndicesProcessed), float64(candidate.IndicesProcessed))
	check("options_total", float64(legacy.OptionsTotal), float64(candidate.OptionsTotal))

	for _, key := range unionKeys(legacy.Summary, candidate.Summary) {
		a, aok := legacy.Summary[key]
		b, bok := candidate.Summary[key]
		if aok && bok {
			check("summary."+key, a, b)
		}
		// Keys on only one side are structural, handled separately.
	}
}

// compareAlerts flags any differing alert flag exactly, with no tolerance.
func compareAlerts(legacy, candidate *model.RunResult, rep *Report) {
	for _, key := range unionKeys(legacy.Alerts, candidate.Alerts) {
		a := legacy.Alerts[key]
		b := candidate.Alerts[key]
		if a != b {
			rep.Alerts = append(rep.Alerts, FieldDiff{Field: key, Legacy: a, Shadow: b})
		}
	}
}

// compareCoverage checks per-index coverage averages for exact equality;
// an index present on only one side is flagged missing_in_one.
func compareCoverage(legacy, candidate *model.RunResult, rep *Report) {
	for _, sym := range unionKeys(legacy.Indices, candidate.Indices) {
		a, aok := legacy.Indices[sym]
		b, bok := candidate.Indices[sym]
		switch {
		case aok && !bok:
			rep.Coverage = append(rep.Coverage, FieldDiff{Field: sym, Legacy: a.FieldCoverageAvg, Note: "missing_in_one"})
		case !aok && bok:
			rep.Coverage = append(rep.Coverage, FieldDiff{Field: sym, Shadow: b.FieldCoverageAvg, Note: "missing_in_one"})
		case a.FieldCoverageAvg != b.FieldCoverageAvg:
			rep.Coverage = append(rep.Coverage, FieldDiff{Field: sym, Legacy: a.FieldCoverageAvg, Shadow: b.FieldCoverageAvg})
		}
	}
}

// comparePartialReasons checks partial-reason counters with exact integer
// comparison per reason key.
func comparePartialReasons(legacy, candidate *model.RunResult, rep *Report) {
	for _, key := range unionKeys(legacy.PartialReasons, candidate.PartialReasons) {
		a := legacy.PartialReasons[key]
		b := candidate.PartialReasons[key]
		if a != b {
			rep.PartialReasons = append(rep.PartialReasons, FieldDiff{Field: key, Legacy: a, Shadow: b})
		}
	}
}

// compareStructural splits the summary key sets into keys missing from
// the candidate and keys only it carries.
func compareStructural(legacy, candidate *model.RunResult, rep *Report) {
	for _, key := range unionKeys(legacy.Summary, candidate.Summary) {
		_, aok := legacy.Summary[key]
		_, bok := candidate.Summary[key]
		switch {
		case aok && !bok:
			rep.Structural = append(rep.Structural, StructuralDiff{Key: key, Where: "missing_in_pipeline"})
		case !aok && bok:
			rep.Structural = append(rep.Structural, StructuralDiff{Key: key, Where: "extra_in_pipeline"})
		}
	}
}

// severityOf applies the escalation rules: critical on any structural
// diff or on an alert diff touching an index-failure/index-empty flag,
// warn on any other non-empty category, ok otherwise.
func severityOf(rep *Report) Severity {
	if len(rep.Structural) > 0 {
		return SeverityCritical
	}
	for _, d := range rep.Alerts {
		if isCriticalAlertFlag(d.Field) {
			return SeverityCritical
		}
	}
	if !rep.Empty() {
		return SeverityWarn
	}
	return SeverityOK
}

func unionKeys[V any](a, b map[string]V) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		set[k] = struct{}{}
	}
	for k := range b {
		set[k] = struct{}{}
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
