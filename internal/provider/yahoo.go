package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// YahooConfig holds configuration for the Yahoo finance client.
type YahooConfig struct {
	BaseURL            string        `mapstructure:"base_url"`
	UserAgent          string        `mapstructure:"user_agent"`
	Timeout            time.Duration `mapstructure:"timeout"`
	MaxRetries         int           `mapstructure:"max_retries"`
	BackoffBase        time.Duration `mapstructure:"backoff_base"`
	RateLimitPerMinute int           `mapstructure:"rate_limit_per_minute"`
}

func (c *YahooConfig) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://query1.finance.yahoo.com"
	}
	if c.UserAgent == "" {
		c.UserAgent = "quotewatch/1.0"
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 500 * time.Millisecond
	}
	if c.RateLimitPerMinute <= 0 {
		c.RateLimitPerMinute = 60
	}
}

// YahooClient implements Provider against the Yahoo chart/quote endpoints.
// A token-bucket limiter smooths bursts at the HTTP layer; quota admission
// over the rolling window is enforced by the caller.
type YahooClient struct {
	config     YahooConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     zerolog.Logger
}

// NewYahooClient creates a Yahoo finance client.
func NewYahooClient(config YahooConfig, logger zerolog.Logger) *YahooClient {
	config.applyDefaults()
	return &YahooClient{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(float64(config.RateLimitPerMinute)/60), 1),
		logger:     logger.With().Str("component", "yahoo").Logger(),
	}
}

func (y *YahooClient) Name() string { return "yahoo" }

// Close performs cleanup. The HTTP client holds no persistent connections
// worth tearing down explicitly.
func (y *YahooClient) Close() error { return nil }

// chartResponse mirrors the v8 chart payload, fields we consume only.
type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol               string  `json:"symbol"`
				LongName             string  `json:"longName"`
				ShortName            string  `json:"shortName"`
				RegularMarketPrice   float64 `json:"regularMarketPrice"`
				ChartPreviousClose   float64 `json:"chartPreviousClose"`
				PreviousClose        float64 `json:"previousClose"`
				RegularMarketDayHigh float64 `json:"regularMarketDayHigh"`
				RegularMarketDayLow  float64 `json:"regularMarketDayLow"`
				RegularMarketVolume  int64   `json:"regularMarketVolume"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []float64 `json:"open"`
					High   []float64 `json:"high"`
					Low    []float64 `json:"low"`
					Close  []float64 `json:"close"`
					Volume []int64   `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// quoteResponse mirrors the v7 batch quote payload.
type quoteResponse struct {
	QuoteResponse struct {
		Result []struct {
			Symbol                     string  `json:"symbol"`
			LongName                   string  `json:"longName"`
			ShortName                  string  `json:"shortName"`
			RegularMarketPrice         float64 `json:"regularMarketPrice"`
			RegularMarketPreviousClose float64 `json:"regularMarketPreviousClose"`
			RegularMarketOpen          float64 `json:"regularMarketOpen"`
			RegularMarketDayHigh       float64 `json:"regularMarketDayHigh"`
			RegularMarketDayLow        float64 `json:"regularMarketDayLow"`
			RegularMarketVolume        int64   `json:"regularMarketVolume"`
			MarketCap                  int64   `json:"marketCap"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"quoteResponse"`
}

// FetchQuote fetches the current snapshot for one symbol via the chart endpoint.
func (y *YahooClient) FetchQuote(ctx context.Context, symbol string) (*Snapshot, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, NewBadSymbolError(symbol, "empty symbol")
	}

	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s", y.config.BaseURL, url.PathEscape(symbol))
	params := url.Values{"range": {"1d"}, "interval": {"1d"}}

	body, err := y.get(ctx, symbol, endpoint+"?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var resp chartResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, NewProviderError(symbol, "failed to parse chart response", err)
	}
	if resp.Chart.Error != nil {
		return nil, NewProviderError(symbol, resp.Chart.Error.Description, nil)
	}
	if len(resp.Chart.Result) == 0 {
		return nil, NewEmptyError(symbol)
	}

	meta := resp.Chart.Result[0].Meta
	prevClose := meta.PreviousClose
	if prevClose == 0 {
		prevClose = meta.ChartPreviousClose
	}
	name := meta.LongName
	if name == "" {
		name = meta.ShortName
	}

	snap := &Snapshot{
		Symbol:        symbol,
		Name:          name,
		Price:         meta.RegularMarketPrice,
		PreviousClose: prevClose,
		DayHigh:       meta.RegularMarketDayHigh,
		DayLow:        meta.RegularMarketDayLow,
		Volume:        meta.RegularMarketVolume,
		Timestamp:     time.Now(),
	}
	// Chart meta carries no open; the first bar of the day does.
	if q := resp.Chart.Result[0].Indicators.Quote; len(q) > 0 && len(q[0].Open) > 0 {
		snap.Open = q[0].Open[0]
	}
	if snap.Price <= 0 {
		return nil, NewEmptyError(symbol)
	}
	return snap, nil
}

// FetchBatch fetches snapshots for several symbols in one quote call.
func (y *YahooClient) FetchBatch(ctx context.Context, symbols []string) (map[string]*Snapshot, error) {
	if len(symbols) == 0 {
		return map[string]*Snapshot{}, nil
	}
	upper := make([]string, 0, len(symbols))
	for _, s := range symbols {
		upper = append(upper, strings.ToUpper(strings.TrimSpace(s)))
	}
	joined := strings.Join(upper, ",")

	endpoint := fmt.Sprintf("%s/v7/finance/quote", y.config.BaseURL)
	params := url.Values{"symbols": {joined}}

	body, err := y.get(ctx, joined, endpoint+"?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var resp quoteResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, NewProviderError(joined, "failed to parse quote response", err)
	}
	if resp.QuoteResponse.Error != nil {
		return nil, NewProviderError(joined, resp.QuoteResponse.Error.Description, nil)
	}

	results := make(map[string]*Snapshot, len(resp.QuoteResponse.Result))
	now := time.Now()
	for _, r := range resp.QuoteResponse.Result {
		if r.RegularMarketPrice <= 0 {
			continue
		}
		name := r.LongName
		if name == "" {
			name = r.ShortName
		}
		results[strings.ToUpper(r.Symbol)] = &Snapshot{
			Symbol:        strings.ToUpper(r.Symbol),
			Name:          name,
			Price:         r.RegularMarketPrice,
			PreviousClose: r.RegularMarketPreviousClose,
			Open:          r.RegularMarketOpen,
			DayHigh:       r.RegularMarketDayHigh,
			DayLow:        r.RegularMarketDayLow,
			Volume:        r.RegularMarketVolume,
			MarketCap:     r.MarketCap,
			Timestamp:     now,
		}
	}
	return results, nil
}

// FetchHistory fetches OHLCV bars via the chart endpoint.
func (y *YahooClient) FetchHistory(ctx context.Context, symbol, period, interval string) ([]Bar, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, NewBadSymbolError(symbol, "empty symbol")
	}

	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s", y.config.BaseURL, url.PathEscape(symbol))
	params := url.Values{"range": {period}, "interval": {interval}}

	body, err := y.get(ctx, symbol, endpoint+"?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var resp chartResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, NewProviderError(symbol, "failed to parse chart response", err)
	}
	if resp.Chart.Error != nil {
		return nil, NewProviderError(symbol, resp.Chart.Error.Description, nil)
	}
	if len(resp.Chart.Result) == 0 {
		return nil, NewEmptyError(symbol)
	}

	result := resp.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return nil, NewEmptyError(symbol)
	}
	q := result.Indicators.Quote[0]

	bars := make([]Bar, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		if i >= len(q.Close) || q.Close[i] <= 0 {
			continue
		}
		bar := Bar{Date: time.Unix(ts, 0).UTC(), Close: q.Close[i]}
		if i < len(q.Open) {
			bar.Open = q.Open[i]
		}
		if i < len(q.High) {
			bar.High = q.High[i]
		}
		if i < len(q.Low) {
			bar.Low = q.Low[i]
		}
		if i < len(q.Volume) {
			bar.Volume = q.Volume[i]
		}
		bars = append(bars, bar)
	}
	if len(bars) == 0 {
		return nil, NewEmptyError(symbol)
	}
	return bars, nil
}

// get performs a rate-smoothed GET with retries and exponential backoff.
func (y *YahooClient) get(ctx context.Context, symbol, requestURL string) ([]byte, error) {
	if err := y.limiter.Wait(ctx); err != nil {
		return nil, NewNetworkError(symbol, "rate limit wait cancelled", err)
	}

	var lastErr error
	for attempt := 0; attempt < y.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := y.config.BackoffBase * time.Duration(1<<(attempt-1))
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, NewNetworkError(symbol, "retry wait cancelled", ctx.Err())
			case <-timer.C:
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
		if err != nil {
			return nil, NewNetworkError(symbol, "failed to create request", err)
		}
		req.Header.Set("User-Agent", y.config.UserAgent)
		req.Header.Set("Accept", "application/json")

		resp, err := y.httpClient.Do(req)
		if err != nil {
			lastErr = NewNetworkError(symbol, "request failed", err)
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = NewRateLimitError(symbol, "upstream rate limit exceeded")
			continue
		case resp.StatusCode == http.StatusNotFound:
			return nil, NewBadSymbolError(symbol, "symbol not found")
		case resp.StatusCode != http.StatusOK:
			lastErr = NewProviderError(symbol, fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncate(body, 200)), nil)
			continue
		case readErr != nil:
			lastErr = NewNetworkError(symbol, "failed to read response", readErr)
			continue
		}

		return body, nil
	}

	y.logger.Warn().Str("symbol", symbol).Err(lastErr).Msg("upstream fetch exhausted retries")
	return nil, lastErr
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
