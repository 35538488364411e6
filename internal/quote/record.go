package quote

import (
	"strings"
	"time"

	"quotewatch/internal/provider"
)

// Source labels where a record's numbers came from.
const (
	SourceLive  = "live"  // fresh upstream fetch
	SourceStale = "stale" // last-known-good, jitter-refreshed
	SourceCache = "cache" // durable snapshot store
	SourceMock  = "mock"  // synthesized
)

// QuoteRecord is the state of one symbol at a point in time. Records are
// immutable once built; a newer fetch supersedes rather than mutates.
type QuoteRecord struct {
	Symbol             string    `json:"symbol"`
	CompanyName        string    `json:"company_name"`
	CurrentPrice       float64   `json:"current_price"`
	PreviousClose      float64   `json:"previous_close"`
	Open               float64   `json:"open"`
	DayHigh            float64   `json:"day_high"`
	DayLow             float64   `json:"day_low"`
	Volume             int64     `json:"volume"`
	MarketCap          int64     `json:"market_cap"`
	FiftyTwoWeekHigh   float64   `json:"fifty_two_week_high"`
	FiftyTwoWeekLow    float64   `json:"fifty_two_week_low"`
	PriceChange        float64   `json:"price_change"`
	PriceChangePercent float64   `json:"price_change_percent"`
	LastUpdated        time.Time `json:"last_updated"`
	IsMock             bool      `json:"is_mock"`
	Source             string    `json:"source"`
}

// NormalizeSymbol uppercases and trims a symbol token.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Normalize maps an upstream snapshot to a QuoteRecord. This is the single
// place upstream schema quirks are absorbed: missing previous close defaults
// to the current price (flat change), missing open defaults to previous
// close, missing day range defaults to a tight band around the price.
func Normalize(snap *provider.Snapshot) *QuoteRecord {
	rec := &QuoteRecord{
		Symbol:        NormalizeSymbol(snap.Symbol),
		CompanyName:   snap.Name,
		CurrentPrice:  snap.Price,
		PreviousClose: snap.PreviousClose,
		Open:          snap.Open,
		DayHigh:       snap.DayHigh,
		DayLow:        snap.DayLow,
		Volume:        snap.Volume,
		MarketCap:     snap.MarketCap,
		LastUpdated:   time.Now(),
		IsMock:        false,
		Source:        SourceLive,
	}
	if rec.CompanyName == "" {
		rec.CompanyName = rec.Symbol
	}
	if rec.PreviousClose <= 0 {
		rec.PreviousClose = rec.CurrentPrice
	}
	if rec.Open <= 0 {
		rec.Open = rec.PreviousClose
	}
	if rec.DayHigh <= 0 {
		rec.DayHigh = rec.CurrentPrice * 1.01
	}
	if rec.DayLow <= 0 {
		rec.DayLow = rec.CurrentPrice * 0.99
	}
	if rec.FiftyTwoWeekHigh <= 0 {
		rec.FiftyTwoWeekHigh = rec.CurrentPrice * 1.2
	}
	if rec.FiftyTwoWeekLow <= 0 {
		rec.FiftyTwoWeekLow = rec.CurrentPrice * 0.8
	}
	rec.RecomputeChange()
	return rec
}

// RecomputeChange rederives the change fields from current price and previous
// close. A zero previous close yields zero change, not a division error.
func (r *QuoteRecord) RecomputeChange() {
	r.PriceChange = r.CurrentPrice - r.PreviousClose
	if r.PreviousClose > 0 {
		r.PriceChangePercent = r.PriceChange / r.PreviousClose * 100
	} else {
		r.PriceChangePercent = 0
	}
}

// Clone returns a copy so the original stays immutable.
func (r *QuoteRecord) Clone() *QuoteRecord {
	copied := *r
	return &copied
}
