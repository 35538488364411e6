package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) (*YahooClient, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := NewYahooClient(YahooConfig{
		BaseURL:            server.URL,
		Timeout:            2 * time.Second,
		MaxRetries:         2,
		BackoffBase:        time.Millisecond,
		RateLimitPerMinute: 600000,
	}, zerolog.Nop())
	return client, server
}

func chartBody(symbol string, price, prevClose float64) string {
	return fmt.Sprintf(`{"chart":{"result":[{"meta":{
		"symbol":%q,"longName":"Test Corp","regularMarketPrice":%g,
		"previousClose":%g,"regularMarketDayHigh":%g,"regularMarketDayLow":%g,
		"regularMarketVolume":1000000},
		"timestamp":[1700000000],
		"indicators":{"quote":[{"open":[%g],"high":[%g],"low":[%g],"close":[%g],"volume":[1000000]}]}
	}],"error":null}}`, symbol, price, prevClose, price+1, price-1, prevClose, price+1, price-1, price)
}

func TestFetchQuoteParsesChartResponse(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/v8/finance/chart/AAPL")
		fmt.Fprint(w, chartBody("AAPL", 150.25, 148.0))
	}))

	snap, err := client.FetchQuote(context.Background(), " aapl ")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", snap.Symbol)
	assert.Equal(t, "Test Corp", snap.Name)
	assert.Equal(t, 150.25, snap.Price)
	assert.Equal(t, 148.0, snap.PreviousClose)
	assert.Equal(t, 148.0, snap.Open)
	assert.Equal(t, int64(1_000_000), snap.Volume)
}

func TestFetchQuoteEmptySymbol(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for an empty symbol")
	}))

	_, err := client.FetchQuote(context.Background(), "  ")
	require.Error(t, err)
	var perr *Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, KindBadSymbol, perr.Kind)
}

func TestFetchQuoteNotFound(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))

	_, err := client.FetchQuote(context.Background(), "NOPE")
	var perr *Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, KindBadSymbol, perr.Kind)
}

func TestFetchQuoteRateLimitedUpstream(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := client.FetchQuote(context.Background(), "AAPL")
	var perr *Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, KindRateLimit, perr.Kind)
	assert.Equal(t, int32(2), calls.Load(), "429 is retryable up to the retry budget")
}

func TestFetchQuoteRetriesServerError(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, chartBody("AAPL", 150.0, 148.0))
	}))

	snap, err := client.FetchQuote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 150.0, snap.Price)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetchQuoteMalformedJSON(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"chart": garbage`)
	}))

	_, err := client.FetchQuote(context.Background(), "AAPL")
	var perr *Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, KindProvider, perr.Kind)
}

func TestFetchQuoteNonPositivePrice(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, chartBody("AAPL", 0, 148.0))
	}))

	_, err := client.FetchQuote(context.Background(), "AAPL")
	var perr *Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, KindEmpty, perr.Kind)
}

func TestFetchQuoteChartError(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found"}}}`)
	}))

	_, err := client.FetchQuote(context.Background(), "AAPL")
	var perr *Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, KindProvider, perr.Kind)
	assert.Contains(t, perr.Error(), "No data found")
}

func TestFetchBatchParsesQuoteResponse(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/v7/finance/quote")
		assert.Equal(t, "AAPL,MSFT", r.URL.Query().Get("symbols"))
		fmt.Fprint(w, `{"quoteResponse":{"result":[
			{"symbol":"AAPL","longName":"Apple Inc.","regularMarketPrice":150.0,"regularMarketPreviousClose":148.0,"regularMarketVolume":1000000,"marketCap":3000000000},
			{"symbol":"MSFT","shortName":"Microsoft","regularMarketPrice":429.85,"regularMarketPreviousClose":426.4,"regularMarketVolume":2000000,"marketCap":3200000000},
			{"symbol":"BAD","regularMarketPrice":0}
		],"error":null}}`)
	}))

	snaps, err := client.FetchBatch(context.Background(), []string{"aapl", " msft "})
	require.NoError(t, err)
	require.Len(t, snaps, 2, "zero-price entries are dropped")
	assert.Equal(t, "Apple Inc.", snaps["AAPL"].Name)
	assert.Equal(t, "Microsoft", snaps["MSFT"].Name)
	assert.Equal(t, 429.85, snaps["MSFT"].Price)
	assert.Equal(t, int64(3_000_000_000), snaps["AAPL"].MarketCap)
}

func TestFetchBatchEmptyInput(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for an empty batch")
	}))

	snaps, err := client.FetchBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, snaps)
}

func TestFetchHistoryParsesBars(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5d", r.URL.Query().Get("range"))
		assert.Equal(t, "1d", r.URL.Query().Get("interval"))
		fmt.Fprint(w, `{"chart":{"result":[{"meta":{"symbol":"AAPL"},
			"timestamp":[1700000000,1700086400,1700172800],
			"indicators":{"quote":[{
				"open":[148,150,151],"high":[151,152,153],"low":[147,149,150],
				"close":[150,151,0],"volume":[1000000,1100000,0]
			}]}
		}],"error":null}}`)
	}))

	bars, err := client.FetchHistory(context.Background(), "AAPL", "5d", "1d")
	require.NoError(t, err)
	require.Len(t, bars, 2, "bars without a positive close are skipped")
	assert.Equal(t, 150.0, bars[0].Close)
	assert.Equal(t, 151.0, bars[1].Close)
	assert.Equal(t, int64(1_100_000), bars[1].Volume)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), bars[0].Date)
}

func TestFetchHistoryEmptySeries(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"chart":{"result":[{"meta":{"symbol":"AAPL"},"timestamp":[],"indicators":{"quote":[{"close":[]}]}}],"error":null}}`)
	}))

	_, err := client.FetchHistory(context.Background(), "AAPL", "5d", "1d")
	var perr *Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, KindEmpty, perr.Kind)
}

func TestGetContextCancellation(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		fmt.Fprint(w, chartBody("AAPL", 150.0, 148.0))
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.FetchQuote(ctx, "AAPL")
	require.Error(t, err)
	var perr *Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, KindNetwork, perr.Kind)
}
