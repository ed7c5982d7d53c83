package enrich

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ayushrajani07/g6-collector/internal/model"
)

// stubProvider serves quotes for configured symbols and can fail or
// panic globally or per batch.
type stubProvider struct {
	mu       sync.Mutex
	calls    int
	batches  [][]model.Instrument
	failAll  bool
	panicAll bool
	failOnce bool
}

func (p *stubProvider) Quotes(_ context.Context, instruments []model.Instrument) (map[string]model.Quote, error) {
	p.mu.Lock()
	p.calls++
	call := p.calls
	p.batches = append(p.batches, instruments)
	p.mu.Unlock()

	if p.panicAll {
		panic("provider exploded")
	}
	if p.failAll {
		return nil, errors.New("upstream 503")
	}
	if p.failOnce && call == 1 {
		return nil, errors.New("upstream 503")
	}

	out := make(map[string]model.Quote, len(instruments))
	for _, ins := range instruments {
		out[ins.Symbol] = model.Quote{LastPrice: 100.5, Volume: 10}
	}
	return out, nil
}

func (p *stubProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func instruments(symbols ...string) []model.Instrument {
	out := make([]model.Instrument, len(symbols))
	for i, s := range symbols {
		out[i] = model.Instrument{Symbol: s, Exchange: "NFO"}
	}
	return out
}

func newTestEnricher(p QuoteProvider, cfg Config) *Enricher {
	return New(p, NewPool(4), cfg, zap.NewNop(), nil)
}

func TestEnrich_SyncDirectWhenDisabled(t *testing.T) {
	p := &stubProvider{}
	e := newTestEnricher(p, Config{Async: false})

	result, meta := e.EnrichQuotes(context.Background(), instruments("A", "B"))

	assert.Equal(t, ModeSyncDirect, meta.Mode)
	assert.Len(t, result, 2)
	assert.Equal(t, 1, p.callCount())
	assert.Equal(t, 2, meta.Enriched)
	assert.False(t, meta.RetrySync)
}

func TestEnrich_DisabledPathMatchesDirectProviderCall(t *testing.T) {
	// With async off the stage must be transparent: same result as
	// calling the provider directly with the same inputs.
	ins := instruments("A", "B", "C")

	p1 := &stubProvider{}
	direct, err := p1.Quotes(context.Background(), ins)
	require.NoError(t, err)

	p2 := &stubProvider{}
	e := newTestEnricher(p2, Config{Async: false})
	staged, _ := e.EnrichQuotes(context.Background(), ins)

	assert.Equal(t, direct, staged)
}

func TestEnrich_EmptyInputIsSyncDirect(t *testing.T) {
	p := &stubProvider{}
	e := newTestEnricher(p, Config{Async: true, BatchSize: 10})

	result, meta := e.EnrichQuotes(context.Background(), nil)

	assert.Equal(t, ModeSyncDirect, meta.Mode)
	assert.NotNil(t, result)
	assert.Empty(t, result)
	assert.Equal(t, 0, p.callCount(), "no instruments, no provider call")
}

func TestEnrich_AsyncSingleWithoutBatchSize(t *testing.T) {
	p := &stubProvider{}
	e := newTestEnricher(p, Config{Async: true})

	result, meta := e.EnrichQuotes(context.Background(), instruments("A", "B", "C"))

	assert.Equal(t, ModeAsyncSingle, meta.Mode)
	assert.Equal(t, 1, meta.Batches)
	assert.Len(t, result, 3)
	assert.Equal(t, 1, p.callCount())
}

func TestEnrich_AsyncBatchSplitsAndMerges(t *testing.T) {
	// Two instruments, batch size 1, both batches succeed.
	p := &stubProvider{}
	e := newTestEnricher(p, Config{Async: true, BatchSize: 1, Workers: 2, Timeout: 5 * time.Second})

	result, meta := e.EnrichQuotes(context.Background(), instruments("A", "B"))

	assert.Equal(t, ModeAsyncBatch, meta.Mode)
	assert.Equal(t, 2, meta.Batches)
	assert.Equal(t, 0, meta.FailedBatches)
	assert.Len(t, result, 2)
	assert.Contains(t, result, "A")
	assert.Contains(t, result, "B")
	assert.Equal(t, 2, p.callCount())
}

func TestEnrich_PartialBatchFailureKeepsSiblings(t *testing.T) {
	p := &stubProvider{failOnce: true}
	e := newTestEnricher(p, Config{Async: true, BatchSize: 2, Workers: 1, Timeout: 5 * time.Second})

	result, meta := e.EnrichQuotes(context.Background(), instruments("A", "B", "C", "D"))

	assert.Equal(t, ModeAsyncBatch, meta.Mode)
	assert.Equal(t, 2, meta.Batches)
	assert.Equal(t, 1, meta.FailedBatches)
	assert.Len(t, result, 2, "surviving batch still delivers")
}

func TestEnrich_AllBatchesFailFallsBackToSync(t *testing.T) {
	p := &stubProvider{failAll: true}
	e := newTestEnricher(p, Config{Async: true, BatchSize: 1, Workers: 2, Timeout: time.Second})

	result, meta := e.EnrichQuotes(context.Background(), instruments("A", "B"))

	assert.Equal(t, ModeSyncFallback, meta.Mode)
	assert.True(t, meta.RetrySync)
	assert.NotNil(t, result)
	assert.Empty(t, result, "provider down everywhere still returns, never throws")
	assert.Equal(t, 3, p.callCount(), "two batches plus one sync retry")
}

func TestEnrich_AsyncSingleEmptyTriggersFallback(t *testing.T) {
	p := &stubProvider{failOnce: true}
	e := newTestEnricher(p, Config{Async: true})

	result, meta := e.EnrichQuotes(context.Background(), instruments("A"))

	assert.Equal(t, ModeSyncFallback, meta.Mode)
	assert.True(t, meta.RetrySync)
	assert.Len(t, result, 1, "sync retry recovered the quotes")
}

func TestEnrich_PanickingProviderIsContained(t *testing.T) {
	p := &stubProvider{panicAll: true}
	e := newTestEnricher(p, Config{Async: true, BatchSize: 1, Workers: 2})

	require.NotPanics(t, func() {
		result, meta := e.EnrichQuotes(context.Background(), instruments("A", "B"))
		assert.Empty(t, result)
		assert.True(t, meta.RetrySync)
	})
}

func TestEnrich_FirstWriterWinsOnOverlap(t *testing.T) {
	// Batches are expected disjoint; when a symbol appears twice the
	// first completed write sticks.
	p := &stubProvider{}
	e := newTestEnricher(p, Config{Async: true, BatchSize: 1, Workers: 1})

	result, _ := e.EnrichQuotes(context.Background(), instruments("A", "A"))
	assert.Len(t, result, 1)
}

func TestSplitBatches(t *testing.T) {
	ins := instruments("A", "B", "C", "D", "E")

	batches := splitBatches(ins, 2)
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 2)
	assert.Len(t, batches[2], 1)

	assert.Len(t, splitBatches(ins, 0), 1, "no batch size means one bulk slice")
	assert.Len(t, splitBatches(ins, 10), 1)
}

func TestSharedPool_SingletonAndReset(t *testing.T) {
	ResetSharedPool()
	t.Cleanup(ResetSharedPool)

	p1 := SharedPool(2)
	p2 := SharedPool(8)
	assert.Same(t, p1, p2, "pool is sized once for the process")
}

func TestPool_BoundsConcurrency(t *testing.T) {
	pool := NewPool(1)
	ctx := context.Background()

	require.NoError(t, pool.Acquire(ctx))

	blocked, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.Error(t, pool.Acquire(blocked), "second acquire must block until release")

	pool.Release()
	require.NoError(t, pool.Acquire(ctx))
	pool.Release()
}
