package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bighogz/ownership-lens/internal/errs"
	"github.com/bighogz/ownership-lens/internal/models"
)

type stubLookups struct {
	lastTicker string
	lastDays   int
	cleared    int
	refreshed  int
	err        error
}

func (s *stubLookups) GetInsiderTransactions(ctx context.Context, ticker string) (*models.InsiderReport, error) {
	s.lastTicker = ticker
	if s.err != nil {
		return nil, s.err
	}
	return &models.InsiderReport{Ticker: "AAPL", Summary: models.TransactionSummary{NetShares: 60}, Transactions: []models.TransactionRecord{}}, nil
}

func (s *stubLookups) GetDetailedOwnership(ctx context.Context, ticker string) (*models.DetailedOwnership, error) {
	s.lastTicker = ticker
	if s.err != nil {
		return nil, s.err
	}
	return &models.DetailedOwnership{Ticker: "AAPL", Breakdown: models.OwnershipBreakdown{PublicPercent: 70}}, nil
}

func (s *stubLookups) GetCurrentPrice(ctx context.Context, ticker string) (models.Quote, error) {
	s.lastTicker = ticker
	return models.Quote{Symbol: "AAPL", Price: 189.5, Provider: "fmp"}, s.err
}

func (s *stubLookups) GetHistoricalPrices(ctx context.Context, ticker string, days int) ([]models.OHLCV, error) {
	s.lastTicker, s.lastDays = ticker, days
	if days > 1260 {
		return nil, &errs.InvalidInputError{Field: "days", Reason: "too many"}
	}
	return []models.OHLCV{{Date: "2024-05-01", Close: 170}}, s.err
}

func (s *stubLookups) GetPriceTrend(ctx context.Context, ticker string) (*models.PriceTrend, error) {
	return &models.PriceTrend{Symbol: "AAPL", Points: 90}, s.err
}

func (s *stubLookups) GetRateLimitStatus() models.RateLimitStatus {
	return models.RateLimitStatus{Providers: []models.ProviderUsage{{Name: "fmp", Used: 3, DailyQuota: 250, Remaining: 247}}}
}

func (s *stubLookups) ClearAllCaches(ctx context.Context) error {
	s.cleared++
	return s.err
}

func (s *stubLookups) RefreshIdentifiers(ctx context.Context) error {
	s.refreshed++
	return s.err
}

func serve(t *testing.T, h http.Handler, method, target string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	return m
}

func TestInsidersRoute(t *testing.T) {
	svc := &stubLookups{}
	rec := serve(t, newServer(svc, "").routes(), http.MethodGet, "/api/insiders/aapl", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "aapl", svc.lastTicker)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	body := decode(t, rec)
	assert.Equal(t, "AAPL", body["ticker"])
}

func TestRequestIDIsEchoed(t *testing.T) {
	rec := serve(t, newServer(&stubLookups{}, "").routes(), http.MethodGet, "/api/health", map[string]string{"X-Request-ID": "abc-123"})
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "ok", decode(t, rec)["status"])
}

func TestMalformedTickerIsRejected(t *testing.T) {
	svc := &stubLookups{}
	rec := serve(t, newServer(svc, "").routes(), http.MethodGet, "/api/ownership/AAPL$", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, svc.lastTicker)
	assert.Equal(t, errs.ClassInvalid, decode(t, rec)["class"])
}

func TestErrorStatusMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		class  string
	}{
		{&errs.NotFoundError{Kind: "symbol", Key: "NOPE"}, http.StatusNotFound, errs.ClassNotFound},
		{&errs.RateLimitError{Provider: "edgar"}, http.StatusTooManyRequests, errs.ClassRateLimited},
		{&errs.AllProvidersFailedError{Symbol: "AAPL"}, http.StatusServiceUnavailable, errs.ClassUnavailable},
	}
	for _, tc := range cases {
		rec := serve(t, newServer(&stubLookups{err: tc.err}, "").routes(), http.MethodGet, "/api/ownership/NOPE", nil)
		assert.Equal(t, tc.status, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, tc.class, body["class"])
		assert.Equal(t, "ownership", body["what"])
		assert.Contains(t, body["message"], "unable to retrieve ownership")
	}
}

func TestHistoryDays(t *testing.T) {
	svc := &stubLookups{}
	h := newServer(svc, "").routes()

	rec := serve(t, h, http.MethodGet, "/api/history/MSFT", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultHistoryDays, svc.lastDays)

	rec = serve(t, h, http.MethodGet, "/api/history/MSFT?days=90", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 90, svc.lastDays)
	assert.Len(t, decode(t, rec)["bars"], 1)

	rec = serve(t, h, http.MethodGet, "/api/history/MSFT?days=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, h, http.MethodGet, "/api/history/MSFT?days=5000", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	rec := serve(t, newServer(&stubLookups{}, "").routes(), http.MethodGet, "/api/cache/clear", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestLimitsRoute(t *testing.T) {
	rec := serve(t, newServer(&stubLookups{}, "").routes(), http.MethodGet, "/api/limits", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var st models.RateLimitStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	require.Len(t, st.Providers, 1)
	assert.Equal(t, 247, st.Providers[0].Remaining)
}

func TestAdminKeyRequired(t *testing.T) {
	svc := &stubLookups{}
	h := newServer(svc, "s3cret").routes()

	rec := serve(t, h, http.MethodPost, "/api/cache/clear", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, svc.cleared)

	rec = serve(t, h, http.MethodPost, "/api/cache/clear", map[string]string{"X-Admin-Key": "s3cret"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(t, h, http.MethodPost, "/api/identifiers/refresh", map[string]string{"Authorization": "Bearer s3cret"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, svc.cleared)
	assert.Equal(t, 1, svc.refreshed)
}

func TestAdminWithoutKeyIsRateLimited(t *testing.T) {
	svc := &stubLookups{}
	h := newServer(svc, "").routes()

	assert.Equal(t, http.StatusOK, serve(t, h, http.MethodPost, "/api/cache/clear", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(t, h, http.MethodPost, "/api/cache/clear", nil).Code)
	assert.Equal(t, http.StatusOK, serve(t, h, http.MethodPost, "/api/cache/clear", map[string]string{"X-Forwarded-For": "198.51.100.7"}).Code)
	assert.Equal(t, 2, svc.cleared)
}

func TestRateLimiterInterval(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	rl := newRateLimiter(5 * time.Second)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.allow("a"))
	assert.False(t, rl.allow("a"))
	assert.True(t, rl.allow("b"))
	now = now.Add(5 * time.Second)
	assert.True(t, rl.allow("a"))
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.9:5555"
	assert.Equal(t, "203.0.113.9", clientIP(req))
	req.Header.Set("X-Forwarded-For", "198.51.100.1, 10.0.0.1")
	assert.Equal(t, "198.51.100.1", clientIP(req))
}
