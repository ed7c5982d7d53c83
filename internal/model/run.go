package model

import "time"

// IndexStatus describes the collection outcome for one index in one cycle.
type IndexStatus string

const (
	IndexStatusOK      IndexStatus = "ok"
	IndexStatusPartial IndexStatus = "partial"
	IndexStatusEmpty   IndexStatus = "empty"
	IndexStatusFailed  IndexStatus = "failed"
)

// RunResult is the full output of one collector run (legacy or candidate)
// for one cycle. It is produced once per cycle per implementation and is
// read-only afterward.
type RunResult struct {
	CycleID          string                    `json:"cycle_id"`
	Source           string                    `json:"source"`
	StartedAt        time.Time                 `json:"started_at"`
	IndicesProcessed int                       `json:"indices_processed"`
	OptionsTotal     int                       `json:"options_total"`
	Indices          map[string]IndexResult    `json:"indices,omitempty"`
	Summary          map[string]float64        `json:"summary,omitempty"`
	Alerts           map[string]bool           `json:"alerts,omitempty"`
	PartialReasons   map[string]int            `json:"partial_reasons,omitempty"`
	Benchmark        *BenchmarkStats           `json:"benchmark,omitempty"`
	Memory           *MemoryStats              `json:"memory,omitempty"`
}

// IndexResult holds the per-index slice of a RunResult.
type IndexResult struct {
	Status           IndexStatus               `json:"status"`
	OptionCount      int                       `json:"option_count"`
	FieldCoverageAvg float64                   `json:"field_coverage_avg"`
	Expiries         map[string]ExpirySnapshot `json:"expiries,omitempty"`
}

// ExpirySnapshot summarizes one expiry bucket (rule -> resolved date)
// within an index.
type ExpirySnapshot struct {
	ExpiryDate  string `json:"expiry_date"`
	OptionCount int    `json:"option_count"`
	StrikeCount int    `json:"strike_count"`
}

// BenchmarkStats carries selected cycle-timing scalars.
type BenchmarkStats struct {
	CycleP50Ms float64 `json:"cycle_p50_ms"`
	CycleP95Ms float64 `json:"cycle_p95_ms"`
}

// MemoryStats carries selected process-memory scalars.
type MemoryStats struct {
	RSSMB float64 `json:"rss_mb"`
}

// Instrument identifies one tradable option contract to enrich.
type Instrument struct {
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"`
	Token    int64  `json:"token,omitempty"`
}

// Quote is one enriched market quote keyed by instrument symbol.
type Quote struct {
	LastPrice    float64   `json:"last_price"`
	Volume       int64     `json:"volume"`
	OpenInterest int64     `json:"oi"`
	AvgPrice     float64   `json:"avg_price,omitempty"`
	Timestamp    time.Time `json:"timestamp,omitempty"`
}

// OptionRow is one collected option record eligible for greeks backfill.
type OptionRow struct {
	Symbol     string  `json:"symbol"`
	Index      string  `json:"index"`
	ExpiryDate string  `json:"expiry_date"`
	Strike     float64 `json:"strike"`
	Type       string  `json:"type"` // CE or PE
	LastPrice  float64 `json:"last_price"`
	SpotPrice  float64 `json:"spot_price"`
	Greeks     *Greeks `json:"greeks,omitempty"`
}

// Greeks holds the computed per-option risk numbers.
type Greeks struct {
	IV    float64 `json:"iv"`
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
}
