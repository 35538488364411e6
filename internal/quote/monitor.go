package quote

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"quotewatch/internal/observ"
)

// Alert is the payload delivered to a monitoring callback when a drop
// threshold is breached.
type Alert struct {
	Symbol        string    `json:"symbol"`
	AlertType     string    `json:"alert_type"`
	CurrentPrice  float64   `json:"current_price"`
	PreviousClose float64   `json:"previous_close"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"change_percent"`
	Threshold     float64   `json:"threshold"`
	Message       string    `json:"message"`
	Timestamp     time.Time `json:"timestamp"`
}

// AlertFunc is the caller-owned callback invoked on threshold breach.
type AlertFunc func(Alert)

type monitor struct {
	symbol    string
	interval  time.Duration
	threshold float64
	callback  AlertFunc
	cancel    context.CancelFunc
	stopped   chan struct{}
}

// StartMonitoring begins a periodic background check of symbol against a
// percentage-drop threshold. A subscription already running for the symbol
// is cancelled and replaced atomically; there is never more than one loop
// per symbol.
func (s *Service) StartMonitoring(symbol string, interval time.Duration, thresholdPercent float64, callback AlertFunc) {
	symbol = NormalizeSymbol(symbol)

	s.monMu.Lock()
	if prev, ok := s.monitors[symbol]; ok {
		prev.cancel()
		<-prev.stopped
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &monitor{
		symbol:    symbol,
		interval:  interval,
		threshold: thresholdPercent,
		callback:  callback,
		cancel:    cancel,
		stopped:   make(chan struct{}),
	}
	s.monitors[symbol] = m
	s.monMu.Unlock()

	go s.runMonitor(ctx, m)
	s.logger.Info().
		Str("symbol", symbol).
		Dur("interval", interval).
		Float64("threshold_pct", thresholdPercent).
		Msg("monitoring started")
}

// runMonitor is the subscription loop. Fetch errors are logged and the loop
// continues; only cancellation ends it, and once cancellation is observed no
// further iteration runs.
func (s *Service) runMonitor(ctx context.Context, m *monitor) {
	defer close(m.stopped)

	for {
		if ctx.Err() != nil {
			return
		}

		rec, err := s.GetQuote(ctx, m.symbol)
		switch {
		case err != nil:
			s.logger.Warn().Err(err).Str("symbol", m.symbol).Msg("monitor fetch failed")
		case rec.PriceChangePercent <= -m.threshold:
			alert := Alert{
				Symbol:        m.symbol,
				AlertType:     "PRICE_DROP",
				CurrentPrice:  rec.CurrentPrice,
				PreviousClose: rec.PreviousClose,
				Change:        rec.PriceChange,
				ChangePercent: rec.PriceChangePercent,
				Threshold:     m.threshold,
				Message: fmt.Sprintf("%s has dropped %.2f%% from previous close",
					m.symbol, math.Abs(rec.PriceChangePercent)),
				Timestamp: time.Now(),
			}
			observ.IncCounter("monitor_alerts_total", map[string]string{"symbol": m.symbol})
			m.callback(alert)
		}

		timer := time.NewTimer(m.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// StopMonitoring cancels the subscription for symbol, waiting until its loop
// has observed the cancellation. Unknown symbols are a no-op.
func (s *Service) StopMonitoring(symbol string) {
	symbol = NormalizeSymbol(symbol)

	s.monMu.Lock()
	m, ok := s.monitors[symbol]
	if ok {
		delete(s.monitors, symbol)
	}
	s.monMu.Unlock()

	if !ok {
		return
	}
	m.cancel()
	<-m.stopped
	s.logger.Info().Str("symbol", symbol).Msg("monitoring stopped")
}

// StopAll cancels every subscription.
func (s *Service) StopAll() {
	s.monMu.Lock()
	monitors := make([]*monitor, 0, len(s.monitors))
	for _, m := range s.monitors {
		monitors = append(monitors, m)
	}
	s.monitors = make(map[string]*monitor)
	s.monMu.Unlock()

	for _, m := range monitors {
		m.cancel()
		<-m.stopped
	}
	if len(monitors) > 0 {
		s.logger.Info().Int("count", len(monitors)).Msg("all monitoring stopped")
	}
}

// MonitoredSymbols lists symbols with an active subscription, sorted.
func (s *Service) MonitoredSymbols() []string {
	s.monMu.Lock()
	defer s.monMu.Unlock()
	symbols := make([]string, 0, len(s.monitors))
	for sym := range s.monitors {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	return symbols
}
