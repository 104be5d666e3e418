package pipeline

import (
	"context"
	"fmt"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/bighogz/ownership-lens/internal/cache"
	"github.com/bighogz/ownership-lens/internal/edgar"
	"github.com/bighogz/ownership-lens/internal/errs"
	"github.com/bighogz/ownership-lens/internal/models"
	"github.com/bighogz/ownership-lens/internal/trend"
)

const (
	maxHistoryDays = 1260
	trendDays      = 90
	smaWindow      = 50
)

// GetCurrentPrice returns the latest quote from the first provider that answers.
func (s *Service) GetCurrentPrice(ctx context.Context, ticker string) (q models.Quote, err error) {
	sym := edgar.NormalizeSymbol(ticker)
	ctx, span := s.span(ctx, "lookup quote", sym)
	defer func() { endSpan(span, err) }()

	return cache.GetOrCompute(ctx, s.cache, cache.KindQuotes, sym, func(ctx context.Context) (models.Quote, error) {
		return s.market.Quote(ctx, sym)
	})
}

// GetHistoricalPrices returns up to days daily bars, oldest first.
func (s *Service) GetHistoricalPrices(ctx context.Context, ticker string, days int) (bars []models.OHLCV, err error) {
	sym := edgar.NormalizeSymbol(ticker)
	if days <= 0 || days > maxHistoryDays {
		return nil, &errs.InvalidInputError{Field: "days", Reason: fmt.Sprintf("must be between 1 and %d", maxHistoryDays)}
	}
	ctx, span := s.span(ctx, "lookup history", sym)
	defer func() { endSpan(span, err) }()

	return cache.GetOrCompute(ctx, s.cache, cache.KindHistory, sym+":"+strconv.Itoa(days), func(ctx context.Context) ([]models.OHLCV, error) {
		return s.market.History(ctx, sym, days)
	})
}

// GetPriceTrend fetches the quote and a quarter of history together and
// derives the quarterly return, regression slope and 50-day average.
func (s *Service) GetPriceTrend(ctx context.Context, ticker string) (*models.PriceTrend, error) {
	sym := edgar.NormalizeSymbol(ticker)
	var (
		quote models.Quote
		bars  []models.OHLCV
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		quote, err = s.GetCurrentPrice(gctx, sym)
		return err
	})
	g.Go(func() (err error) {
		bars, err = s.GetHistoricalPrices(gctx, sym, trendDays)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	out := &models.PriceTrend{
		Symbol:   sym,
		Price:    quote.Price,
		Points:   len(closes),
		Provider: quote.Provider,
		SMA50:    trend.SMA(closes, smaWindow),
	}
	if t := trend.FromCloses(closes); t != nil {
		out.QuarterPct = t.QuarterPct
		out.Slope = t.Slope
	}
	return out, nil
}
