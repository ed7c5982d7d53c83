package enrich

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ayushrajani07/g6-collector/internal/model"
	"github.com/ayushrajani07/g6-collector/internal/monitoring"
)

// Mode identifies which enrichment strategy served a call.
type Mode string

const (
	ModeSyncDirect   Mode = "sync-direct"
	ModeAsyncSingle  Mode = "async-single"
	ModeAsyncBatch   Mode = "async-batch"
	ModeSyncFallback Mode = "sync-fallback"
)

// QuoteProvider is the external enrichment collaborator. It may fail or
// panic; the stage catches everything and degrades to partial or empty
// results.
type QuoteProvider interface {
	Quotes(ctx context.Context, instruments []model.Instrument) (map[string]model.Quote, error)
}

// Config controls the enrichment stage.
type Config struct {
	// Async enables the concurrent path. When false every call is one
	// direct synchronous provider call.
	Async bool
	// BatchSize splits instruments into fixed-size chunks. Zero means a
	// single bulk call even on the async path.
	BatchSize int
	// Workers sizes the shared pool on first use.
	Workers int
	// Timeout is the overall budget for one enrichment call; each batch
	// gets an equal share.
	Timeout time.Duration
	// DispatchPerSecond throttles batch submission toward the provider.
	// Zero disables throttling.
	DispatchPerSecond float64
}

// Meta describes how one enrichment call was served.
type Meta struct {
	Mode          Mode          `json:"mode"`
	Batches       int           `json:"batches"`
	FailedBatches int           `json:"failed_batches"`
	Instruments   int           `json:"instruments"`
	Enriched      int           `json:"enriched"`
	RetrySync     bool          `json:"retry_sync"`
	BatchSize     int           `json:"batch_size"`
	Timeout       time.Duration `json:"timeout"`
	Duration      time.Duration `json:"duration"`
}

// Enricher runs the quote-enrichment stage. It never returns an error to
// the caller: provider failures shrink the result, they do not abort it.
type Enricher struct {
	provider QuoteProvider
	pool     Pool
	cfg      Config
	log      *zap.Logger
	metrics  monitoring.Recorder
	limiter  *rate.Limiter
}

// New creates an enricher. A nil pool lazily binds to the shared
// process-wide pool sized by cfg.Workers.
func New(provider QuoteProvider, pool Pool, cfg Config, log *zap.Logger, metrics monitoring.Recorder) *Enricher {
	var limiter *rate.Limiter
	if cfg.DispatchPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.DispatchPerSecond), 1)
	}
	return &Enricher{
		provider: provider,
		pool:     pool,
		cfg:      cfg,
		log:      log,
		metrics:  monitoring.Safe(metrics),
		limiter:  limiter,
	}
}

// EnrichQuotes enriches instruments into quote records. The returned map
// is possibly empty but never nil, and the call never fails: every
// collaborator error is absorbed here. Meta describes the path taken.
func (e *Enricher) EnrichQuotes(ctx context.Context, instruments []model.Instrument) (map[string]model.Quote, Meta) {
	start := time.Now()
	meta := Meta{
		Instruments: len(instruments),
		BatchSize:   e.cfg.BatchSize,
		Timeout:     e.cfg.Timeout,
	}

	var result map[string]model.Quote
	switch {
	case !e.cfg.Async || len(instruments) == 0:
		meta.Mode = ModeSyncDirect
		result = e.callProvider(ctx, instruments, &meta)
	case e.cfg.BatchSize <= 0:
		// Async for observability purposes only: still one bulk call.
		meta.Mode = ModeAsyncSingle
		meta.Batches = 1
		result = e.callProvider(ctx, instruments, &meta)
	default:
		meta.Mode = ModeAsyncBatch
		result = e.runBatches(ctx, instruments, &meta)
	}

	// Whatever async strategy ran, an empty result for non-empty input
	// gets one synchronous retry before giving up.
	if len(result) == 0 && len(instruments) > 0 && meta.Mode != ModeSyncDirect {
		meta.Mode = ModeSyncFallback
		meta.RetrySync = true
		result = e.callProvider(ctx, instruments, &meta)
	}

	if result == nil {
		result = map[string]model.Quote{}
	}
	meta.Enriched = len(result)
	meta.Duration = time.Since(start)

	e.metrics.RecordEnrichment(string(meta.Mode), meta.Enriched, meta.FailedBatches)
	e.logger().Debug("enrich: completed",
		zap.String("mode", string(meta.Mode)),
		zap.Int("instruments", meta.Instruments),
		zap.Int("enriched", meta.Enriched),
		zap.Int("failed_batches", meta.FailedBatches),
		zap.Duration("duration", meta.Duration),
	)
	return result, meta
}

// runBatches splits instruments into fixed-size chunks and executes them
// concurrently on the shared pool. A failed or timed-out batch counts a
// failure and never aborts its siblings: partial coverage is an accepted
// outcome. Merge is first-writer-wins per symbol; batches are expected
// disjoint, so this is a safety net rather than a resolution policy.
func (e *Enricher) runBatches(ctx context.Context, instruments []model.Instrument, meta *Meta) map[string]model.Quote {
	batches := splitBatches(instruments, e.cfg.BatchSize)
	meta.Batches = len(batches)

	// Bind the pool before dispatch so the lazy lookup happens outside
	// the worker goroutines.
	if e.pool == nil {
		e.pool = SharedPool(e.cfg.Workers)
	}

	share := e.cfg.Timeout
	if share > 0 && len(batches) > 1 {
		share = e.cfg.Timeout / time.Duration(len(batches))
	}

	var (
		mu     sync.Mutex
		merged = make(map[string]model.Quote, len(instruments))
		failed int
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, batch := range batches {
		g.Go(func() error {
			if e.limiter != nil {
				if err := e.limiter.Wait(gctx); err != nil {
					mu.Lock()
					failed++
					mu.Unlock()
					return nil
				}
			}
			if err := e.acquire(gctx); err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}
			defer e.release()

			bctx := gctx
			if share > 0 {
				var cancel context.CancelFunc
				bctx, cancel = context.WithTimeout(gctx, share)
				defer cancel()
			}

			callStart := time.Now()
			quotes, err := e.safeQuotes(bctx, batch)
			e.metrics.RecordAPICall(err == nil, time.Since(callStart))
			if err != nil {
				e.logger().Warn("enrich: batch failed",
					zap.Int("batch_size", len(batch)),
					zap.Error(err),
				)
				mu.Lock()
				failed++
				mu.Unlock()
				return nil // don't fail the group
			}

			mu.Lock()
			for sym, q := range quotes {
				if _, exists := merged[sym]; !exists {
					merged[sym] = q
				}
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	meta.FailedBatches = failed
	return merged
}

// callProvider performs one bulk provider call, absorbing any error.
func (e *Enricher) callProvider(ctx context.Context, instruments []model.Instrument, meta *Meta) map[string]model.Quote {
	if len(instruments) == 0 {
		return map[string]model.Quote{}
	}

	cctx := ctx
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	quotes, err := e.safeQuotes(cctx, instruments)
	e.metrics.RecordAPICall(err == nil, time.Since(start))
	if err != nil {
		e.logger().Warn("enrich: provider call failed",
			zap.String("mode", string(meta.Mode)),
			zap.Int("instruments", len(instruments)),
			zap.Error(err),
		)
		if meta.Mode == ModeAsyncSingle || meta.Mode == ModeSyncFallback {
			meta.FailedBatches++
		}
		return map[string]model.Quote{}
	}
	return quotes
}

// safeQuotes shields the stage from a panicking provider.
func (e *Enricher) safeQuotes(ctx context.Context, instruments []model.Instrument) (quotes map[string]model.Quote, err error) {
	defer func() {
		if r := recover(); r != nil {
			quotes = nil
			err = &providerPanicError{value: r}
		}
	}()
	return e.provider.Quotes(ctx, instruments)
}

type providerPanicError struct {
	value any
}

func (e *providerPanicError) Error() string {
	return "enrich: provider panic"
}

func (e *Enricher) acquire(ctx context.Context) error {
	return e.pool.Acquire(ctx)
}

func (e *Enricher) release() {
	e.pool.Release()
}

func (e *Enricher) logger() *zap.Logger {
	if e.log != nil {
		return e.log
	}
	return zap.L()
}

// splitBatches chunks instruments into fixed-size batches, the last one
// possibly short.
func splitBatches(instruments []model.Instrument, size int) [][]model.Instrument {
	if size <= 0 || len(instruments) <= size {
		return [][]model.Instrument{instruments}
	}
	batches := make([][]model.Instrument, 0, (len(instruments)+size-1)/size)
	for start := 0; start < len(instruments); start += size {
		end := start + size
		if end > len(instruments) {
			end = len(instruments)
		}
		batches = append(batches, instruments[start:end])
	}
	return batches
}
