package main

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/phuslu/log"

	"github.com/bighogz/ownership-lens/internal/errs"
	"github.com/bighogz/ownership-lens/internal/models"
)

// lookups is the part of pipeline.Service the HTTP layer serves.
type lookups interface {
	GetInsiderTransactions(ctx context.Context, ticker string) (*models.InsiderReport, error)
	GetDetailedOwnership(ctx context.Context, ticker string) (*models.DetailedOwnership, error)
	GetCurrentPrice(ctx context.Context, ticker string) (models.Quote, error)
	GetHistoricalPrices(ctx context.Context, ticker string, days int) ([]models.OHLCV, error)
	GetPriceTrend(ctx context.Context, ticker string) (*models.PriceTrend, error)
	GetRateLimitStatus() models.RateLimitStatus
	ClearAllCaches(ctx context.Context) error
	RefreshIdentifiers(ctx context.Context) error
}

const defaultHistoryDays = 30

var tickerPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9.\-]{0,11}$`)

var validate = func() *validator.Validate {
	v := validator.New()
	v.RegisterValidation("ticker", func(fl validator.FieldLevel) bool {
		return tickerPattern.MatchString(fl.Field().String())
	})
	return v
}()

type server struct {
	svc          lookups
	adminKey     string
	adminLimiter *rateLimiter
	started      time.Time
}

func newServer(svc lookups, adminKey string) *server {
	return &server{
		svc:          svc,
		adminKey:     adminKey,
		adminLimiter: newRateLimiter(5 * time.Second),
		started:      time.Now(),
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/insiders/{ticker}", s.handleInsiders)
	mux.HandleFunc("GET /api/ownership/{ticker}", s.handleOwnership)
	mux.HandleFunc("GET /api/quote/{ticker}", s.handleQuote)
	mux.HandleFunc("GET /api/history/{ticker}", s.handleHistory)
	mux.HandleFunc("GET /api/trend/{ticker}", s.handleTrend)
	mux.HandleFunc("GET /api/limits", s.handleLimits)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/cache/clear", s.adminOrRateLimit(s.handleClearCaches))
	mux.HandleFunc("POST /api/identifiers/refresh", s.adminOrRateLimit(s.handleRefreshIdentifiers))
	return withRequestID(securityHeaders(mux))
}

// ticker reads and checks the {ticker} path value, answering 400 itself when
// it is malformed.
func ticker(w http.ResponseWriter, r *http.Request) (string, bool) {
	t := r.PathValue("ticker")
	if err := validate.Var(t, "required,ticker"); err != nil {
		writeError(w, r, "ticker", &errs.InvalidInputError{Field: "ticker", Reason: "expected 1-12 letters, digits, dots or dashes"})
		return "", false
	}
	return t, true
}

func (s *server) handleInsiders(w http.ResponseWriter, r *http.Request) {
	t, ok := ticker(w, r)
	if !ok {
		return
	}
	report, err := s.svc.GetInsiderTransactions(r.Context(), t)
	if err != nil {
		writeError(w, r, "insider transactions", err)
		return
	}
	jsonResponse(w, http.StatusOK, report)
}

func (s *server) handleOwnership(w http.ResponseWriter, r *http.Request) {
	t, ok := ticker(w, r)
	if !ok {
		return
	}
	d, err := s.svc.GetDetailedOwnership(r.Context(), t)
	if err != nil {
		writeError(w, r, "ownership", err)
		return
	}
	jsonResponse(w, http.StatusOK, d)
}

func (s *server) handleQuote(w http.ResponseWriter, r *http.Request) {
	t, ok := ticker(w, r)
	if !ok {
		return
	}
	q, err := s.svc.GetCurrentPrice(r.Context(), t)
	if err != nil {
		writeError(w, r, "quote", err)
		return
	}
	jsonResponse(w, http.StatusOK, q)
}

func (s *server) handleHistory(w http.ResponseWriter, r *http.Request) {
	t, ok := ticker(w, r)
	if !ok {
		return
	}
	days := defaultHistoryDays
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, r, "price history", &errs.InvalidInputError{Field: "days", Reason: "not an integer"})
			return
		}
		days = n
	}
	bars, err := s.svc.GetHistoricalPrices(r.Context(), t, days)
	if err != nil {
		writeError(w, r, "price history", err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"symbol": t,
		"days":   days,
		"bars":   bars,
	})
}

func (s *server) handleTrend(w http.ResponseWriter, r *http.Request) {
	t, ok := ticker(w, r)
	if !ok {
		return
	}
	tr, err := s.svc.GetPriceTrend(r.Context(), t)
	if err != nil {
		writeError(w, r, "price trend", err)
		return
	}
	jsonResponse(w, http.StatusOK, tr)
}

func (s *server) handleLimits(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, s.svc.GetRateLimitStatus())
}

func (s *server) handleClearCaches(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.ClearAllCaches(r.Context()); err != nil {
		writeError(w, r, "cache clear", err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]string{"status": "caches cleared"})
}

func (s *server) handleRefreshIdentifiers(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.RefreshIdentifiers(r.Context()); err != nil {
		writeError(w, r, "identifier table", err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]string{"status": "identifiers refreshed"})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]string{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

func writeError(w http.ResponseWriter, r *http.Request, what string, err error) {
	status := errs.StatusCode(err)
	ev := log.Warn()
	if status >= http.StatusInternalServerError {
		ev = log.Error()
	}
	ev.Str("request_id", requestID(r.Context())).Str("path", r.URL.Path).Int("status", status).Err(err).Msg("request failed")
	jsonResponse(w, status, errs.Describe(what, err))
}

func jsonResponse(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
