package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/ayushrajani07/g6-collector/internal/model"
	"github.com/ayushrajani07/g6-collector/internal/monitoring"
)

// GreeksComputer is the pluggable numeric computation collaborator. The
// core does not compute greeks itself; it only orchestrates the call and
// records success/failure.
type GreeksComputer interface {
	Compute(ctx context.Context, row model.OptionRow) (*model.Greeks, error)
}

// BackfillResult summarizes one backfill invocation.
type BackfillResult struct {
	Eligible int `json:"eligible"`
	Computed int `json:"computed"`
	Failed   int `json:"failed"`
}

// Backfiller fills missing greeks on collected option rows. This is an
// enhancement phase: collaborator errors are swallowed per row, partial
// output is an accepted result, and the phase never returns an error.
type Backfiller struct {
	comp    GreeksComputer
	log     *zap.Logger
	metrics monitoring.Recorder
}

// NewBackfiller creates a backfiller. A nil computer disables the phase.
func NewBackfiller(comp GreeksComputer, log *zap.Logger, metrics monitoring.Recorder) *Backfiller {
	return &Backfiller{
		comp:    comp,
		log:     log,
		metrics: monitoring.Safe(metrics),
	}
}

// Backfill computes greeks for rows that are missing them, mutating the
// rows in place. Rows that already carry greeks are left untouched.
func (b *Backfiller) Backfill(ctx context.Context, rows []model.OptionRow) BackfillResult {
	var res BackfillResult
	if b.comp == nil {
		return res
	}

	log := b.log
	if log == nil {
		log = zap.L()
	}

	for i := range rows {
		if rows[i].Greeks != nil {
			continue
		}
		res.Eligible++

		if ctx.Err() != nil {
			res.Failed++
			for j := i + 1; j < len(rows); j++ {
				if rows[j].Greeks == nil {
					res.Eligible++
					res.Failed++
				}
			}
			break
		}

		g, err := b.compute(ctx, rows[i])
		if err == nil && g == nil {
			err = Recoverable("greeks: computer returned no result", nil)
		}
		if err != nil {
			res.Failed++
			log.Debug("greeks: compute failed",
				zap.String("symbol", rows[i].Symbol),
				zap.Error(err),
			)
			continue
		}
		rows[i].Greeks = g
		res.Computed++
	}

	b.metrics.RecordEnrichment("greeks", res.Computed, 0)
	return res
}

// compute shields the loop from a panicking collaborator.
func (b *Backfiller) compute(ctx context.Context, row model.OptionRow) (g *model.Greeks, err error) {
	defer func() {
		if r := recover(); r != nil {
			g = nil
			err = Recoverable("greeks: computer panic", nil)
		}
	}()
	return b.comp.Compute(ctx, row)
}
