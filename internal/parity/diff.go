package parity

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"
)

// Default tolerances for the numeric closeness test. They absorb benign
// floating-point jitter from independently recomputed aggregates.
const (
	DefaultRelTol = 1e-6
	DefaultAbsTol = 1e-9
)

// DiffKind categorizes one discrepancy between two reduced structures.
type DiffKind string

const (
	DiffMissingSection     DiffKind = "missing_section"
	DiffExtraSection       DiffKind = "extra_section"
	DiffFieldValueDrift    DiffKind = "field_value_drift"
	DiffSetSizeMismatch    DiffKind = "set_size_mismatch"
	DiffStructuralMismatch DiffKind = "structural_mismatch"
)

// DiffEntry is one discrepancy between two reduced structures.
type DiffEntry struct {
	Kind DiffKind `json:"kind"`
	Path string   `json:"path"`
	A    any      `json:"a,omitempty"`
	B    any      `json:"b,omitempty"`
}

// Diff compares two reduced structures field by field. Section presence
// is checked first: a-only keys yield extra_section, b-only keys yield
// missing_section. Numeric fields within absTol + relTol*max(1,|a|) are
// considered equal.
func Diff(a, b Reduced, relTol, absTol float64) []DiffEntry {
	var out []DiffEntry
	compareMaps(map[string]any(a), map[string]any(b), "", relTol, absTol, &out)
	return out
}

// Summarize collapses a diff list into the evidence shape the gating
// engine consumes: how many entries, which field paths, and whether any
// touched a protected field.
type Summary struct {
	DiffCount    int      `json:"diff_count"`
	Fields       []string `json:"fields,omitempty"`
	ProtectedHit bool     `json:"protected_hit"`
}

// Summarize reduces diffs against the configured protected-field list.
// A protected field matches when its name appears anywhere in a diff
// entry's path (so "expiry_date" catches "indices[2].expiry_dates[0]").
func Summarize(diffs []DiffEntry, protected []string) Summary {
	s := Summary{DiffCount: len(diffs)}
	seen := make(map[string]bool)
	for _, d := range diffs {
		if !seen[d.Path] {
			seen[d.Path] = true
			s.Fields = append(s.Fields, d.Path)
		}
		for _, p := range protected {
			if p != "" && strings.Contains(d.Path, p) {
				s.ProtectedHit = true
			}
		}
	}
	sort.Strings(s.Fields)
	return s
}

func compareMaps(a, b map[string]any, prefix string, relTol, absTol float64, out *[]DiffEntry) {
	keys := unionKeys(a, b)
	for _, k := range keys {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		av, aok := a[k]
		bv, bok := b[k]
		switch {
		case aok && !bok:
			*out = append(*out, DiffEntry{Kind: DiffExtraSection, Path: path, A: av})
		case !aok && bok:
			*out = append(*out, DiffEntry{Kind: DiffMissingSection, Path: path, B: bv})
		default:
			compareValues(av, bv, path, relTol, absTol, out)
		}
	}
}

func compareValues(a, b any, path string, relTol, absTol float64, out *[]DiffEntry) {
	af, aNum := asFloat(a)
	bf, bNum := asFloat(b)

	switch {
	case aNum && bNum:
		if !withinTol(af, bf, relTol, absTol) {
			*out = append(*out, DiffEntry{Kind: DiffFieldValueDrift, Path: path, A: a, B: b})
		}
		return
	case aNum != bNum:
		*out = append(*out, DiffEntry{
			Kind: DiffStructuralMismatch,
			Path: path,
			A:    fmt.Sprintf("%T", a),
			B:    fmt.Sprintf("%T", b),
		})
		return
	}

	am, aIsMap := a.(map[string]any)
	bm, bIsMap := b.(map[string]any)
	if aIsMap && bIsMap {
		compareMaps(am, bm, path, relTol, absTol, out)
		return
	}

	al, aIsList := a.([]any)
	bl, bIsList := b.([]any)
	if aIsList && bIsList {
		compareLists(al, bl, path, relTol, absTol, out)
		return
	}

	// Any remaining type disagreement (container vs scalar, or two
	// different scalar types like string vs bool) is structural, not
	// value drift. Record type names, not values.
	if reflect.TypeOf(a) != reflect.TypeOf(b) {
		*out = append(*out, DiffEntry{
			Kind: DiffStructuralMismatch,
			Path: path,
			A:    fmt.Sprintf("%T", a),
			B:    fmt.Sprintf("%T", b),
		})
		return
	}

	if a != b {
		*out = append(*out, DiffEntry{Kind: DiffFieldValueDrift, Path: path, A: a, B: b})
	}
}

func compareLists(a, b []any, path string, relTol, absTol float64, out *[]DiffEntry) {
	if len(a) != len(b) {
		*out = append(*out, DiffEntry{Kind: DiffSetSizeMismatch, Path: path, A: len(a), B: len(b)})
		return
	}
	for i := range a {
		compareValues(a[i], b[i], fmt.Sprintf("%s[%d]", path, i), relTol, absTol, out)
	}
}

// withinTol implements the numeric closeness test: |a-b| <= absTol + relTol*max(1,|a|).
func withinTol(a, b, relTol, absTol float64) bool {
	return math.Abs(a-b) <= absTol+relTol*math.Max(1, math.Abs(a))
}

// asFloat widens integer and float values to float64 for comparison.
// Booleans are deliberately excluded: true/false pairs must compare
// exactly, not numerically.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func unionKeys(a, b map[string]any) []string {
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
