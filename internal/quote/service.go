package quote

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"quotewatch/internal/observ"
	"quotewatch/internal/provider"
)

const defaultBatchLimit = 5

// ServiceConfig assembles the core's tunables.
type ServiceConfig struct {
	Limiter  LimiterConfig  `mapstructure:"limiter"`
	Dedupe   DedupeConfig   `mapstructure:"dedupe"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
	// BatchLimit is the largest symbol list sent as one upstream batch call.
	// Larger batches fail wholesale upstream, so they resolve per symbol.
	BatchLimit int `mapstructure:"batch_limit"`
}

// Service answers single-symbol, batch, and historical quote queries over a
// multi-tier cache with rate-limited, deduplicated upstream fetches and a
// fallback chain that always produces a usable record. The Service
// exclusively owns the cache tiers, the limiter window, and the in-flight
// table; nothing else touches them.
type Service struct {
	config   ServiceConfig
	provider provider.Provider
	limiter  *Limiter
	group    *Group[*QuoteRecord]
	resolver *Resolver
	store    *SnapshotStore
	logger   zerolog.Logger

	price *tierCache[*QuoteRecord]
	info  *tierCache[*QuoteRecord]
	hist  *tierCache[*Series]

	monMu    sync.Mutex
	monitors map[string]*monitor

	saveCancel context.CancelFunc
	saveDone   chan struct{}
}

// NewService wires the core together with injected configuration and
// upstream client.
func NewService(config ServiceConfig, p provider.Provider, logger zerolog.Logger) *Service {
	config.Cache.applyDefaults()
	if config.BatchLimit <= 0 {
		config.BatchLimit = defaultBatchLimit
	}
	if config.Snapshot.Path == "" {
		config.Snapshot.Path = "data/quotes_snapshot.json"
	}

	logger = logger.With().Str("component", "quotes").Logger()
	limiter := NewLimiter(config.Limiter, logger)
	store := NewSnapshotStore(config.Snapshot.Path, logger)

	return &Service{
		config:   config,
		provider: p,
		limiter:  limiter,
		group:    NewGroup[*QuoteRecord](config.Dedupe),
		resolver: NewResolver(p, limiter, store, logger),
		store:    store,
		logger:   logger,
		price:    newTierCache[*QuoteRecord](config.Cache.PriceTTL, config.Cache.MaxEntries),
		info:     newTierCache[*QuoteRecord](config.Cache.InfoTTL, config.Cache.MaxEntries),
		hist:     newTierCache[*Series](config.Cache.HistoryTTL, config.Cache.MaxEntries),
		monitors: make(map[string]*monitor),
	}
}

// Start loads the durable snapshot and, when configured, begins the periodic
// snapshot save loop.
func (s *Service) Start() error {
	if err := s.store.Load(); err != nil {
		// A damaged snapshot degrades cold-start fallback but must not stop
		// the service.
		s.logger.Warn().Err(err).Msg("snapshot load failed, continuing without")
	}

	if s.config.Snapshot.SaveInterval > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		s.saveCancel = cancel
		s.saveDone = make(chan struct{})
		go s.saveLoop(ctx)
	}
	return nil
}

func (s *Service) saveLoop(ctx context.Context) {
	defer close(s.saveDone)
	ticker := time.NewTicker(s.config.Snapshot.SaveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.store.Save(); err != nil {
				s.logger.Warn().Err(err).Msg("periodic snapshot save failed")
			}
		}
	}
}

// Stop cancels all monitors, stops the save loop, and flushes the snapshot.
func (s *Service) Stop() error {
	s.StopAll()
	if s.saveCancel != nil {
		s.saveCancel()
		<-s.saveDone
		s.saveCancel = nil
	}
	return s.Flush()
}

// Flush writes the durable snapshot now.
func (s *Service) Flush() error {
	return s.store.Save()
}

// GetQuote returns the current record for symbol: price-tier cache hit, or a
// deduplicated fetch through the fallback resolver. The only error a caller
// can see is a deduplication wait timeout (or its own cancelled context);
// upstream failure degrades to stale, cached, or mock data instead.
func (s *Service) GetQuote(ctx context.Context, symbol string) (*QuoteRecord, error) {
	symbol = NormalizeSymbol(symbol)

	if rec, ok := s.price.get(symbol); ok {
		observ.IncCounter("quote_cache_hits_total", map[string]string{"tier": "price"})
		return rec, nil
	}
	observ.IncCounter("quote_cache_misses_total", map[string]string{"tier": "price"})

	rec, err := s.group.Do(ctx, "quote:"+symbol, func() (*QuoteRecord, error) {
		resolved := s.resolver.Resolve(ctx, symbol)
		s.price.put(symbol, resolved)
		s.info.put(symbol, resolved)
		return resolved, nil
	})
	if err != nil {
		return nil, fmt.Errorf("get quote %s: %w", symbol, err)
	}
	return rec, nil
}

// GetInfo returns descriptive data for symbol from the medium-lived info
// tier, resolving on miss through the same fallback chain.
func (s *Service) GetInfo(ctx context.Context, symbol string) (*QuoteRecord, error) {
	symbol = NormalizeSymbol(symbol)

	if rec, ok := s.info.get(symbol); ok {
		observ.IncCounter("quote_cache_hits_total", map[string]string{"tier": "info"})
		return rec, nil
	}
	observ.IncCounter("quote_cache_misses_total", map[string]string{"tier": "info"})

	rec, err := s.group.Do(ctx, "info:"+symbol, func() (*QuoteRecord, error) {
		resolved := s.resolver.Resolve(ctx, symbol)
		s.info.put(symbol, resolved)
		s.price.put(symbol, resolved)
		return resolved, nil
	})
	if err != nil {
		return nil, fmt.Errorf("get info %s: %w", symbol, err)
	}
	return rec, nil
}

// GetQuotesBatch resolves several symbols, preferring one batched upstream
// call for small batches and degrading per symbol otherwise. The result
// always has one record per input symbol, in input order; batch never fails.
func (s *Service) GetQuotesBatch(ctx context.Context, symbols []string) []*QuoteRecord {
	normalized := make([]string, len(symbols))
	for i, sym := range symbols {
		normalized[i] = NormalizeSymbol(sym)
	}

	found := make(map[string]*QuoteRecord, len(normalized))
	var missing []string
	for _, sym := range normalized {
		if _, seen := found[sym]; seen {
			continue
		}
		if rec, ok := s.price.get(sym); ok {
			found[sym] = rec
		} else {
			missing = append(missing, sym)
		}
	}

	if n := len(missing); n > 0 && n <= s.config.BatchLimit {
		s.fetchBatch(ctx, missing, found)
	}

	results := make([]*QuoteRecord, len(normalized))
	for i, sym := range normalized {
		rec, ok := found[sym]
		if !ok {
			rec = s.resolveOne(ctx, sym)
			found[sym] = rec
		}
		results[i] = rec
	}
	return results
}

// fetchBatch attempts one upstream call for the missing symbols, recording
// partial successes. Failures leave symbols for individual resolution.
func (s *Service) fetchBatch(ctx context.Context, symbols []string, found map[string]*QuoteRecord) {
	if err := s.limiter.Acquire(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("batch limiter admission failed")
		return
	}

	snaps, err := s.provider.FetchBatch(ctx, symbols)
	if err != nil {
		observ.IncCounter("batch_fetch_failures_total", nil)
		s.logger.Debug().Err(err).Int("symbols", len(symbols)).Msg("batch fetch failed")
		return
	}

	for _, sym := range symbols {
		snap, ok := snaps[sym]
		if !ok || snap.Price <= 0 {
			continue
		}
		rec := Normalize(snap)
		s.resolver.RecordSuccess(rec)
		s.price.put(sym, rec)
		found[sym] = rec
	}
}

// resolveOne answers for one batch symbol without ever failing: the
// deduplicated path first, the resolver directly if that path errors.
func (s *Service) resolveOne(ctx context.Context, symbol string) *QuoteRecord {
	rec, err := s.GetQuote(ctx, symbol)
	if err == nil {
		return rec
	}
	s.logger.Debug().Err(err).Str("symbol", symbol).Msg("deduplicated path failed, resolving directly")
	return s.resolver.Resolve(ctx, symbol)
}

// GetHistory returns the OHLCV series for symbol over period/interval,
// serving the historical tier on hit. On upstream failure a deterministic
// synthetic series is returned (and not cached, so real data replaces it on
// the next successful fetch).
func (s *Service) GetHistory(ctx context.Context, symbol, period, interval string) *Series {
	symbol = NormalizeSymbol(symbol)
	key := historyKey(symbol, period, interval)

	if series, ok := s.hist.get(key); ok {
		observ.IncCounter("quote_cache_hits_total", map[string]string{"tier": "history"})
		return series
	}
	observ.IncCounter("quote_cache_misses_total", map[string]string{"tier": "history"})

	if err := s.limiter.Acquire(ctx); err == nil {
		bars, fetchErr := s.provider.FetchHistory(ctx, symbol, period, interval)
		if fetchErr == nil && len(bars) > 0 {
			series := seriesFromBars(symbol, period, interval, bars)
			s.hist.put(key, series)
			return series
		}
		s.logger.Debug().Err(fetchErr).Str("symbol", symbol).Msg("history fetch failed, synthesizing")
	} else {
		s.logger.Warn().Err(err).Str("symbol", symbol).Msg("history limiter admission failed")
	}

	observ.IncCounter("history_synthesized_total", map[string]string{"symbol": symbol})
	return SynthesizeSeries(symbol, period, interval)
}

// CachedQuote peeks at the price then info tier without triggering a fetch.
func (s *Service) CachedQuote(symbol string) (*QuoteRecord, bool) {
	symbol = NormalizeSymbol(symbol)
	if rec, ok := s.price.get(symbol); ok {
		return rec, true
	}
	if rec, ok := s.info.get(symbol); ok {
		return rec, true
	}
	return nil, false
}
