// Package market chains quote and price-history providers behind daily quotas.
package market

import (
	"context"
	"errors"
	"fmt"

	"github.com/phuslu/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/bighogz/ownership-lens/internal/errs"
	"github.com/bighogz/ownership-lens/internal/httpclient"
	"github.com/bighogz/ownership-lens/internal/models"
)

// Provider is one upstream source of market data.
type Provider interface {
	Name() string
	Quote(ctx context.Context, symbol string) (models.Quote, error)
	History(ctx context.Context, symbol string, days int) ([]models.OHLCV, error)
}

// Fetcher is the subset of httpclient.Fetcher providers need.
type Fetcher interface {
	Fetch(ctx context.Context, family, url string, opts ...httpclient.RequestOption) (*httpclient.Response, error)
}

var errQuotaExhausted = errors.New("daily quota exhausted")

// Chain tries providers in order until one answers.
type Chain struct {
	providers []Provider
	quotas    *QuotaTracker
}

func NewChain(quotas *QuotaTracker, providers ...Provider) *Chain {
	if quotas == nil {
		quotas = NewQuotaTracker(nil, nil)
	}
	return &Chain{providers: providers, quotas: quotas}
}

func (c *Chain) Quote(ctx context.Context, symbol string) (models.Quote, error) {
	return tryEach(ctx, c, "quote", symbol, func(ctx context.Context, p Provider) (models.Quote, error) {
		return p.Quote(ctx, symbol)
	})
}

func (c *Chain) History(ctx context.Context, symbol string, days int) ([]models.OHLCV, error) {
	return tryEach(ctx, c, "history", symbol, func(ctx context.Context, p Provider) ([]models.OHLCV, error) {
		bars, err := p.History(ctx, symbol, days)
		if err == nil && len(bars) == 0 {
			err = &errs.NotFoundError{Kind: "price history", Key: symbol}
		}
		return bars, err
	})
}

// Usage reports quota consumption in chain order.
func (c *Chain) Usage() []models.ProviderUsage {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return c.quotas.Usage(names)
}

func tryEach[T any](ctx context.Context, c *Chain, op, symbol string, call func(context.Context, Provider) (T, error)) (T, error) {
	ctx, span := otel.Tracer("ownership-lens/market").Start(ctx, "market "+op)
	defer span.End()
	span.SetAttributes(attribute.String("symbol", symbol))

	var zero T
	failures := make([]errs.ProviderFailure, 0, len(c.providers))
	for _, p := range c.providers {
		name := p.Name()
		if !c.quotas.Acquire(name) {
			log.Debug().Str("provider", name).Str("symbol", symbol).Str("op", op).Msg("skipping provider with exhausted quota")
			failures = append(failures, errs.ProviderFailure{Provider: name, Reason: "rate_limit", Err: errQuotaExhausted.Error()})
			continue
		}
		v, err := call(ctx, p)
		if err == nil {
			span.SetAttributes(attribute.String("provider", name))
			return v, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		reason := errs.Reason(err)
		if errs.IsRateLimited(err) {
			c.quotas.MarkExhausted(name)
		}
		log.Warn().Str("provider", name).Str("symbol", symbol).Str("op", op).Str("reason", reason).Err(err).Msg("market provider failed")
		failures = append(failures, errs.ProviderFailure{Provider: name, Reason: reason, Err: err.Error()})
	}
	err := &errs.AllProvidersFailedError{Symbol: symbol, Failures: failures}
	span.RecordError(err)
	return zero, fmt.Errorf("%s: %w", op, err)
}
