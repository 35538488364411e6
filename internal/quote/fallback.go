package quote

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"quotewatch/internal/observ"
	"quotewatch/internal/provider"
)

// Resolver degrades through data sources until something usable comes back:
// live fetch, last-known-good with jitter, durable snapshot, synthesized
// mock. Resolve never fails and never returns nil; callers separate real
// from fabricated numbers via IsMock.
type Resolver struct {
	provider provider.Provider
	limiter  *Limiter
	store    *SnapshotStore
	logger   zerolog.Logger

	mu       sync.RWMutex
	lastGood map[string]*QuoteRecord
}

// NewResolver creates a fallback resolver. store may be nil when no durable
// cache is configured.
func NewResolver(p provider.Provider, limiter *Limiter, store *SnapshotStore, logger zerolog.Logger) *Resolver {
	return &Resolver{
		provider: p,
		limiter:  limiter,
		store:    store,
		logger:   logger.With().Str("component", "resolver").Logger(),
		lastGood: make(map[string]*QuoteRecord),
	}
}

// Resolve returns a usable record for symbol, degrading through fallback
// tiers on upstream failure.
func (r *Resolver) Resolve(ctx context.Context, symbol string) *QuoteRecord {
	symbol = NormalizeSymbol(symbol)

	if rec := r.tryLive(ctx, symbol); rec != nil {
		observ.IncCounter("resolve_total", map[string]string{"tier": "live"})
		return rec
	}
	if rec := r.tryLastGood(symbol); rec != nil {
		observ.IncCounter("resolve_total", map[string]string{"tier": "stale"})
		return rec
	}
	if rec := r.trySnapshot(symbol); rec != nil {
		observ.IncCounter("resolve_total", map[string]string{"tier": "cache"})
		return rec
	}
	observ.IncCounter("resolve_total", map[string]string{"tier": "mock"})
	r.logger.Debug().Str("symbol", symbol).Msg("all real sources exhausted, synthesizing")
	return SynthesizeRecord(symbol)
}

// tryLive performs a limiter-gated upstream fetch. A "successful" response
// without a positive price counts as a failure.
func (r *Resolver) tryLive(ctx context.Context, symbol string) *QuoteRecord {
	if err := r.limiter.Acquire(ctx); err != nil {
		r.logger.Warn().Err(err).Str("symbol", symbol).Msg("limiter admission failed")
		return nil
	}

	snap, err := r.provider.FetchQuote(ctx, symbol)
	if err != nil {
		r.logger.Debug().Err(err).Str("symbol", symbol).Msg("live fetch failed")
		return nil
	}
	if snap == nil || snap.Price <= 0 {
		return nil
	}

	rec := Normalize(snap)
	r.RecordSuccess(rec)
	return rec
}

// RecordSuccess installs a freshly fetched record as last-known-good and
// mirrors it into the durable store. Also used by the batch path.
func (r *Resolver) RecordSuccess(rec *QuoteRecord) {
	r.mu.Lock()
	r.lastGood[rec.Symbol] = rec.Clone()
	r.mu.Unlock()
	if r.store != nil {
		r.store.Put(rec)
	}
}

// tryLastGood clones the most recent real record and perturbs its price by
// ±1% so repeated reads during an outage do not present one frozen number.
// The data is real, merely stale-refreshed, so IsMock stays false and Source
// says so.
func (r *Resolver) tryLastGood(symbol string) *QuoteRecord {
	r.mu.RLock()
	prior, ok := r.lastGood[symbol]
	r.mu.RUnlock()
	if !ok || prior.CurrentPrice <= 0 {
		return nil
	}

	rec := prior.Clone()
	jitter := (rand.Float64() - 0.5) * 0.02 // ±1%
	rec.CurrentPrice = prior.CurrentPrice * (1 + jitter)
	rec.RecomputeChange()
	rec.LastUpdated = time.Now()
	rec.IsMock = false
	rec.Source = SourceStale
	return rec
}

// trySnapshot serves from the durable on-disk cache with a refreshed
// timestamp.
func (r *Resolver) trySnapshot(symbol string) *QuoteRecord {
	if r.store == nil {
		return nil
	}
	rec, ok := r.store.Get(symbol)
	if !ok || rec.CurrentPrice <= 0 {
		return nil
	}
	rec.LastUpdated = time.Now()
	rec.Source = SourceCache
	return rec
}

// LastGood returns the last successfully fetched record for symbol, if any.
func (r *Resolver) LastGood(symbol string) (*QuoteRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.lastGood[NormalizeSymbol(symbol)]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}
