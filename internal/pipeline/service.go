// Package pipeline is the lookup facade: it wires identifier resolution,
// filing selection, parsing, aggregation, caching and market data together.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/phuslu/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/bighogz/ownership-lens/internal/aggregator"
	"github.com/bighogz/ownership-lens/internal/cache"
	"github.com/bighogz/ownership-lens/internal/config"
	"github.com/bighogz/ownership-lens/internal/edgar"
	"github.com/bighogz/ownership-lens/internal/eodhd"
	"github.com/bighogz/ownership-lens/internal/fmp"
	"github.com/bighogz/ownership-lens/internal/httpclient"
	"github.com/bighogz/ownership-lens/internal/market"
	"github.com/bighogz/ownership-lens/internal/models"
	"github.com/bighogz/ownership-lens/internal/yahoo"
)

var tracer = otel.Tracer("ownership-lens/pipeline")

// Options are the lookup limits taken from configuration.
type Options struct {
	InsiderForms          []string
	MaxInsiderFilings     int
	BeneficialForms       []string
	MaxBeneficialFilings  int
	InstitutionalManagers []string
	// Concurrency bounds the documents fetched at once for one lookup.
	Concurrency int
}

func OptionsFrom(cfg *config.Config) Options {
	return Options{
		InsiderForms:          cfg.InsiderForms,
		MaxInsiderFilings:     cfg.MaxInsiderFilings,
		BeneficialForms:       cfg.BeneficialForms,
		MaxBeneficialFilings:  cfg.MaxBeneficialFilings,
		InstitutionalManagers: cfg.InstitutionalManagers,
		Concurrency:           4,
	}
}

// Deps are the collaborators a Service is built from.
type Deps struct {
	Fetcher    *httpclient.Fetcher
	Cache      *cache.Cache
	Endpoints  edgar.Endpoints
	Market     *market.Chain
	Aggregator *aggregator.Aggregator
	Now        func() time.Time
}

type Service struct {
	opts       Options
	fetcher    *httpclient.Fetcher
	cache      *cache.Cache
	resolver   *edgar.Resolver
	index      *edgar.IndexService
	archive    *edgar.Archive
	aggregator *aggregator.Aggregator
	market     *market.Chain
	now        func() time.Time
	group      singleflight.Group
	closers    []func(context.Context) error
}

func New(opts Options, d Deps) *Service {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Aggregator == nil {
		d.Aggregator = aggregator.New(0.7)
	}
	if d.Market == nil {
		d.Market = market.NewChain(nil)
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Service{
		opts:       opts,
		fetcher:    d.Fetcher,
		cache:      d.Cache,
		resolver:   edgar.NewResolver(d.Fetcher, d.Cache, d.Endpoints),
		index:      edgar.NewIndexService(d.Fetcher, d.Cache, d.Endpoints),
		archive:    edgar.NewArchive(d.Fetcher, d.Endpoints),
		aggregator: d.Aggregator,
		market:     d.Market,
		now:        d.Now,
	}
}

// Open builds a Service and its storage, transport and providers from cfg.
func Open(ctx context.Context, cfg *config.Config) (*Service, error) {
	store, err := cache.OpenStore(ctx, cfg.CacheBackend, cfg.DataDir, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open %s cache: %w", cfg.CacheBackend, err)
	}
	c := cache.New(store)

	fetcher := httpclient.NewFetcher(
		httpclient.WithUserAgent(cfg.UserAgent),
		httpclient.WithRetries(cfg.MaxRetries, cfg.RetryBaseDelay.Std()),
		httpclient.WithFamily(httpclient.FamilyEdgar, cfg.EdgarMinInterval.Std()),
		httpclient.WithFamily(httpclient.FamilyMarket, cfg.MarketInterval.Std()),
	)

	quotas := map[string]int{}
	providers := make([]market.Provider, 0, len(cfg.MarketProviders))
	for _, name := range cfg.MarketProviders {
		quotas[name] = cfg.QuotaFor(name)
		switch name {
		case fmp.Name:
			providers = append(providers, fmp.New(fetcher, cfg.FMPAPIKey))
		case yahoo.Name:
			providers = append(providers, yahoo.New(fetcher))
		case eodhd.Name:
			providers = append(providers, eodhd.NewClient(fetcher, cfg.EODHDAPIKey))
		}
	}

	agg := aggregator.New(cfg.KnownFloatFraction)
	var closers []func(context.Context) error
	if cfg.EstimatorWASM != "" {
		wasm, err := aggregator.LoadWASMEstimator(ctx, cfg.EstimatorWASM)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("load estimator %s: %w", cfg.EstimatorWASM, err)
		}
		agg.Estimator = aggregator.Chain{aggregator.BackSolve{}, wasm, aggregator.KnownFraction{Fraction: cfg.KnownFloatFraction}}
		closers = append(closers, wasm.Close)
	}

	s := New(OptionsFrom(cfg), Deps{
		Fetcher:    fetcher,
		Cache:      c,
		Endpoints:  edgar.DefaultEndpoints,
		Market:     market.NewChain(market.NewQuotaTracker(quotas, nil), providers...),
		Aggregator: agg,
	})
	s.closers = closers
	log.Info().Str("cache", cfg.CacheBackend).Strs("providers", cfg.MarketProviders).Msg("pipeline ready")
	return s, nil
}

func (s *Service) Close(ctx context.Context) error {
	var errList []error
	for _, fn := range s.closers {
		errList = append(errList, fn(ctx))
	}
	if s.cache != nil {
		errList = append(errList, s.cache.Close())
	}
	return errors.Join(errList...)
}

func (s *Service) span(ctx context.Context, name, ticker string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attribute.String("ticker", ticker)))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// GetRateLimitStatus reports provider quotas and request-family counters.
func (s *Service) GetRateLimitStatus() models.RateLimitStatus {
	st := models.RateLimitStatus{Providers: s.market.Usage(), Families: []models.FamilyUsage{}}
	if s.fetcher != nil {
		st.Families = s.fetcher.Stats()
	}
	return st
}

// ClearAllCaches drops the memory tier, marks durable entries for recompute
// and forgets the loaded identifier table.
func (s *Service) ClearAllCaches(ctx context.Context) error {
	s.resolver.Reset()
	if err := s.cache.ClearAll(ctx); err != nil {
		return err
	}
	log.Info().Msg("all caches cleared")
	return nil
}

// RefreshIdentifiers reloads the symbol table from upstream.
func (s *Service) RefreshIdentifiers(ctx context.Context) error {
	return s.resolver.Refresh(ctx)
}
