package provider

import (
	"context"
	"strings"
	"sync"
	"time"
)

// ScriptedProvider is a deterministic in-memory Provider for tests. Snapshots
// are installed per symbol; fetches count invocations and can be forced to
// fail globally or per symbol.
type ScriptedProvider struct {
	mu        sync.Mutex
	snapshots map[string]*Snapshot
	history   map[string][]Bar
	failAll   bool
	failSyms  map[string]bool
	latency   time.Duration

	QuoteCalls   int
	BatchCalls   int
	HistoryCalls int
}

// NewScriptedProvider creates an empty scripted provider.
func NewScriptedProvider() *ScriptedProvider {
	return &ScriptedProvider{
		snapshots: make(map[string]*Snapshot),
		history:   make(map[string][]Bar),
		failSyms:  make(map[string]bool),
	}
}

func (s *ScriptedProvider) Name() string { return "scripted" }

func (s *ScriptedProvider) Close() error { return nil }

// SetSnapshot installs or replaces the snapshot served for a symbol.
func (s *ScriptedProvider) SetSnapshot(snap *Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[strings.ToUpper(snap.Symbol)] = snap
}

// SetHistory installs the bars served for a symbol.
func (s *ScriptedProvider) SetHistory(symbol string, bars []Bar) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[strings.ToUpper(symbol)] = bars
}

// FailAll makes every fetch return a provider error until cleared.
func (s *ScriptedProvider) FailAll(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAll = fail
}

// FailSymbol makes fetches for one symbol fail until cleared.
func (s *ScriptedProvider) FailSymbol(symbol string, fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSyms[strings.ToUpper(symbol)] = fail
}

// SetLatency adds artificial latency to every fetch.
func (s *ScriptedProvider) SetLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency = d
}

// Calls returns the total number of upstream fetches of any kind.
func (s *ScriptedProvider) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.QuoteCalls + s.BatchCalls + s.HistoryCalls
}

func (s *ScriptedProvider) sleep(ctx context.Context) error {
	s.mu.Lock()
	d := s.latency
	s.mu.Unlock()
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *ScriptedProvider) FetchQuote(ctx context.Context, symbol string) (*Snapshot, error) {
	if err := s.sleep(ctx); err != nil {
		return nil, err
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	s.mu.Lock()
	defer s.mu.Unlock()
	s.QuoteCalls++
	if s.failAll || s.failSyms[symbol] {
		return nil, NewProviderError(symbol, "scripted failure", nil)
	}
	snap, ok := s.snapshots[symbol]
	if !ok {
		return nil, NewEmptyError(symbol)
	}
	copied := *snap
	return &copied, nil
}

func (s *ScriptedProvider) FetchBatch(ctx context.Context, symbols []string) (map[string]*Snapshot, error) {
	if err := s.sleep(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.BatchCalls++
	if s.failAll {
		return nil, NewProviderError(strings.Join(symbols, ","), "scripted failure", nil)
	}
	results := make(map[string]*Snapshot)
	for _, sym := range symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if s.failSyms[sym] {
			continue
		}
		if snap, ok := s.snapshots[sym]; ok {
			copied := *snap
			results[sym] = &copied
		}
	}
	return results, nil
}

func (s *ScriptedProvider) FetchHistory(ctx context.Context, symbol, period, interval string) ([]Bar, error) {
	if err := s.sleep(ctx); err != nil {
		return nil, err
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	s.mu.Lock()
	defer s.mu.Unlock()
	s.HistoryCalls++
	if s.failAll || s.failSyms[symbol] {
		return nil, NewProviderError(symbol, "scripted failure", nil)
	}
	bars, ok := s.history[symbol]
	if !ok {
		return nil, NewEmptyError(symbol)
	}
	out := make([]Bar, len(bars))
	copy(out, bars)
	return out, nil
}
