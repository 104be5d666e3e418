package fmp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bighogz/ownership-lens/internal/errs"
	"github.com/bighogz/ownership-lens/internal/httpclient"
)

var fixedNow = func() time.Time { return time.Date(2024, 6, 10, 15, 0, 0, 0, time.UTC) }

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	f := httpclient.NewFetcher(httpclient.WithRetries(0, time.Millisecond), httpclient.WithFamily(httpclient.FamilyMarket, 0))
	return New(f, "test-key", WithBaseURL(srv.URL), WithClock(fixedNow))
}

func TestQuote(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/quote", r.URL.Path)
		assert.Equal(t, "AAPL", r.URL.Query().Get("symbol"))
		assert.Equal(t, "test-key", r.URL.Query().Get("apikey"))
		w.Write([]byte(`[{"symbol":"AAPL","price":195.5,"change":1.5,"changePercentage":0.77,"previousClose":194,"volume":51000000}]`))
	})

	q, err := c.Quote(context.Background(), "aapl")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", q.Symbol)
	assert.Equal(t, 195.5, q.Price)
	assert.Equal(t, 0.77, q.ChangePercent)
	assert.Equal(t, 194.0, q.PreviousClose)
	assert.Equal(t, Name, q.Provider)
	assert.Equal(t, fixedNow(), q.FetchedAt)
}

func TestQuoteUnknownSymbol(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})
	_, err := c.Quote(context.Background(), "ZZZZ")
	assert.True(t, errs.IsNotFound(err))
}

func TestLimitMessageIsRateLimit(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Error Message":"Limit Reach . Please upgrade your plan"}`))
	})
	_, err := c.Quote(context.Background(), "AAPL")
	assert.True(t, errs.IsRateLimited(err))
}

func TestHTTP429IsRateLimit(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	_, err := c.Quote(context.Background(), "AAPL")
	assert.True(t, errs.IsRateLimited(err))
}

func TestMissingKey(t *testing.T) {
	c := New(httpclient.NewFetcher(), "")
	_, err := c.Quote(context.Background(), "AAPL")
	assert.ErrorIs(t, err, ErrNoAPIKey)
}

func TestHistory(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/historical-price-eod/full", r.URL.Path)
		assert.Equal(t, "2024-06-10", r.URL.Query().Get("to"))
		w.Write([]byte(`[
			{"symbol":"AAPL","date":"2024-06-07","open":194,"high":196.5,"low":193,"close":196.89,"volume":53000000},
			{"symbol":"AAPL","date":"2024-06-06","open":195,"high":196,"low":194,"close":194.48,"volume":41000000},
			{"symbol":"AAPL","date":"2024-06-05","close":0},
			{"symbol":"AAPL","date":"2024-06-04","open":194.6,"high":195.3,"low":193,"close":194.35,"volume":47000000}
		]`))
	})

	bars, err := c.History(context.Background(), "AAPL", 2)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, "2024-06-06", bars[0].Date)
	assert.Equal(t, "2024-06-07", bars[1].Date)
	assert.Equal(t, 196.89, bars[1].Close)
	assert.Equal(t, 53000000.0, bars[1].Volume)
}

func TestHistoryLegacyShape(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"symbol":"AAPL","historical":[{"date":"2024-06-07","close":196.89},{"date":"2024-06-06","close":194.48}]}`))
	})
	bars, err := c.History(context.Background(), "AAPL", 30)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, "2024-06-06", bars[0].Date)
}

func TestHistoryNormalizesSymbol(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "MSFT", r.URL.Query().Get("symbol"))
		w.Write([]byte(`[{"symbol":"MSFT","date":"2024-06-07","close":423.85}]`))
	})
	bars, err := c.History(context.Background(), " msft ", 5)
	require.NoError(t, err)
	require.Len(t, bars, 1)
}
