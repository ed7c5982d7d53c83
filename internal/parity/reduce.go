// Package parity reduces collector run results to canonical bounded
// structures, hashes them, and diffs two such structures field by field.
// Its verdict per cycle is the ground truth the gating engine consumes.
package parity

import (
	"sort"

	"github.com/ayushrajani07/g6-collector/internal/model"
)

// Reduced is the canonical, bounded subset of a RunResult. Sections absent
// from the source are simply omitted, never defaulted. Values are plain
// scalars, nested maps, or lists so the diff engine can walk them
// generically and the signature is a pure function of content.
type Reduced map[string]any

// Reduce extracts the deterministic subset of r used for parity checks.
// Index entries are sorted by symbol; expiry dates within an index are
// sorted lexically. Field ordering in the source never matters.
func Reduce(r *model.RunResult) Reduced {
	if r == nil {
		return Reduced{}
	}

	out := Reduced{
		"indices_processed": float64(r.IndicesProcessed),
		"options_total":     float64(r.OptionsTotal),
	}

	if len(r.Indices) > 0 {
		symbols := make([]string, 0, len(r.Indices))
		for sym := range r.Indices {
			symbols = append(symbols, sym)
		}
		sort.Strings(symbols)

		indices := make([]any, 0, len(symbols))
		for _, sym := range symbols {
			ir := r.Indices[sym]
			entry := map[string]any{
				"index":        sym,
				"status":       string(ir.Status),
				"option_count": float64(ir.OptionCount),
			}
			nonZero := 0
			var dates []string
			for _, exp := range ir.Expiries {
				if exp.OptionCount > 0 {
					nonZero++
				}
				dates = append(dates, exp.ExpiryDate)
			}
			entry["expiries_nonzero"] = float64(nonZero)
			if len(dates) > 0 {
				sort.Strings(dates)
				asAny := make([]any, len(dates))
				for i, d := range dates {
					asAny[i] = d
				}
				entry["expiry_dates"] = asAny
			}
			indices = append(indices, entry)
		}
		out["indices"] = indices
	}

	if len(r.Alerts) > 0 {
		total := 0
		for _, fired := range r.Alerts {
			if fired {
				total++
			}
		}
		out["alerts_total"] = float64(total)
	}

	if r.Benchmark != nil {
		out["benchmark"] = map[string]any{
			"cycle_p50_ms": r.Benchmark.CycleP50Ms,
			"cycle_p95_ms": r.Benchmark.CycleP95Ms,
		}
	}
	if r.Memory != nil {
		out["memory"] = map[string]any{
			"rss_mb": r.Memory.RSSMB,
		}
	}

	if len(r.Summary) > 0 {
		summary := make(map[string]any, len(r.Summary))
		for k, v := range r.Summary {
			summary[k] = v
		}
		out["summary"] = summary
	}

	if len(r.PartialReasons) > 0 {
		keys := make([]string, 0, len(r.PartialReasons))
		total := 0
		for k, n := range r.PartialReasons {
			keys = append(keys, k)
			total += n
		}
		sort.Strings(keys)
		asAny := make([]any, len(keys))
		for i, k := range keys {
			asAny[i] = k
		}
		out["partial_reason_keys"] = asAny
		out["partial_reasons_total"] = float64(total)
	}

	return out
}
