package provider

import (
	"context"
	"fmt"
	"time"
)

// Provider fetches raw market data from an upstream source. Implementations
// must be safe for concurrent use; all admission control (rate limiting,
// deduplication) happens in the quote package, not here.
type Provider interface {
	// FetchQuote returns the current snapshot for one symbol.
	FetchQuote(ctx context.Context, symbol string) (*Snapshot, error)
	// FetchBatch returns snapshots for several symbols in one upstream call.
	// Missing symbols are simply absent from the map.
	FetchBatch(ctx context.Context, symbols []string) (map[string]*Snapshot, error)
	// FetchHistory returns OHLCV bars for the given period and interval tokens.
	FetchHistory(ctx context.Context, symbol, period, interval string) ([]Bar, error)
	Name() string
	Close() error
}

// Snapshot is the normalized upstream payload for one symbol. Zero values mean
// the upstream did not report the field; the quote package decides defaults.
type Snapshot struct {
	Symbol        string
	Name          string
	Price         float64
	PreviousClose float64
	Open          float64
	DayHigh       float64
	DayLow        float64
	Volume        int64
	MarketCap     int64
	Timestamp     time.Time
}

// Bar is one OHLCV candle of a historical series.
type Bar struct {
	Date   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// ErrorKind classifies upstream failures.
type ErrorKind string

const (
	KindNetwork   ErrorKind = "network"
	KindRateLimit ErrorKind = "rate_limit"
	KindProvider  ErrorKind = "provider_error"
	KindBadSymbol ErrorKind = "bad_symbol"
	KindEmpty     ErrorKind = "empty"
)

// Error is a typed upstream fetch error.
type Error struct {
	Kind    ErrorKind
	Symbol  string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error for %s: %s (%v)", e.Kind, e.Symbol, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error for %s: %s", e.Kind, e.Symbol, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func NewNetworkError(symbol, message string, cause error) *Error {
	return &Error{Kind: KindNetwork, Symbol: symbol, Message: message, Cause: cause}
}

func NewRateLimitError(symbol, message string) *Error {
	return &Error{Kind: KindRateLimit, Symbol: symbol, Message: message}
}

func NewProviderError(symbol, message string, cause error) *Error {
	return &Error{Kind: KindProvider, Symbol: symbol, Message: message, Cause: cause}
}

func NewBadSymbolError(symbol, message string) *Error {
	return &Error{Kind: KindBadSymbol, Symbol: symbol, Message: message}
}

func NewEmptyError(symbol string) *Error {
	return &Error{Kind: KindEmpty, Symbol: symbol, Message: "upstream returned no usable data"}
}
