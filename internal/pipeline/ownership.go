package pipeline

import (
	"context"
	"sync"

	"github.com/phuslu/log"
	"golang.org/x/sync/errgroup"

	"github.com/bighogz/ownership-lens/internal/aggregator"
	"github.com/bighogz/ownership-lens/internal/cache"
	"github.com/bighogz/ownership-lens/internal/edgar"
	"github.com/bighogz/ownership-lens/internal/errs"
	"github.com/bighogz/ownership-lens/internal/models"
	"github.com/bighogz/ownership-lens/internal/parser"
)

var institutionalForms = []string{"13F-HR"}

// GetDetailedOwnership combines insider, beneficial-owner and institutional
// filings into an ownership breakdown. A category that cannot be retrieved is
// reported in Warnings instead of failing the lookup; such degraded results
// are not cached.
func (s *Service) GetDetailedOwnership(ctx context.Context, ticker string) (out *models.DetailedOwnership, err error) {
	sym := edgar.NormalizeSymbol(ticker)
	ctx, span := s.span(ctx, "lookup ownership", sym)
	defer func() { endSpan(span, err) }()

	if v, ok := cache.Peek[*models.DetailedOwnership](ctx, s.cache, cache.KindOwnership, sym); ok && v != nil {
		return v, nil
	}
	ch := s.group.DoChan("ownership:"+sym, func() (interface{}, error) {
		bg := context.WithoutCancel(ctx)
		d, err := s.computeOwnership(bg, sym)
		if err != nil {
			return nil, err
		}
		if len(d.Warnings) == 0 {
			if err := cache.Set(bg, s.cache, cache.KindOwnership, sym, d); err != nil {
				log.Warn().Err(err).Str("ticker", sym).Msg("ownership not cached")
			}
		}
		return d, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*models.DetailedOwnership), nil
	}
}

func (s *Service) computeOwnership(ctx context.Context, sym string) (*models.DetailedOwnership, error) {
	id, err := s.resolver.Resolve(ctx, sym)
	if err != nil {
		return nil, err
	}
	sub, err := s.index.Submissions(ctx, id.RegulatoryID)
	if err != nil {
		return nil, err
	}
	issuer := companyName(id, sub)

	var (
		mu            sync.Mutex
		warnings      []string
		insiderTxs    []models.TransactionRecord
		beneficial    []models.HolderRecord
		institutional []models.HolderRecord
	)
	warn := func(msgs ...string) {
		mu.Lock()
		warnings = append(warnings, msgs...)
		mu.Unlock()
	}

	var g errgroup.Group
	g.Go(func() error {
		report, err := s.GetInsiderTransactions(ctx, sym)
		if err != nil {
			warn(errs.Describe("insider transactions", err).Message)
			return nil
		}
		insiderTxs = report.Transactions
		warn(report.Warnings...)
		return nil
	})
	g.Go(func() error {
		selected := edgar.Select(sub.Filings, s.opts.BeneficialForms, s.opts.MaxBeneficialFilings)
		var w []string
		beneficial, w = s.beneficialOwners(ctx, id.RegulatoryID, selected)
		warn(w...)
		return nil
	})
	g.Go(func() error {
		var w []string
		institutional, w = s.institutionalHolders(ctx, issuer)
		warn(w...)
		return nil
	})
	g.Wait()

	breakdown, top := s.aggregator.Aggregate(insiderTxs, beneficial, institutional)
	beneficial = aggregator.LatestPerHolder(beneficial)
	if beneficial == nil {
		beneficial = []models.HolderRecord{}
	}
	if institutional == nil {
		institutional = []models.HolderRecord{}
	}
	log.Info().Str("ticker", sym).Int("beneficial", len(beneficial)).Int("institutional", len(institutional)).
		Str("quality", string(breakdown.DataQuality)).Int("warnings", len(warnings)).Msg("ownership aggregated")
	return &models.DetailedOwnership{
		Ticker:               sym,
		FilerID:              id.RegulatoryID,
		CompanyName:          issuer,
		Breakdown:            breakdown,
		TopHolders:           top,
		BeneficialOwners:     beneficial,
		InstitutionalHolders: institutional,
		InsiderSummary:       models.Summarize(insiderTxs),
		Warnings:             warnings,
		AsOf:                 s.now().UTC(),
	}, nil
}

// beneficialOwners parses Schedule 13D/G filings, keeping selection order.
// It returns one warning per filing that could not be fetched.
func (s *Service) beneficialOwners(ctx context.Context, filerID string, filings []models.FilingRecord) ([]models.HolderRecord, []string) {
	slots := make([]*models.HolderRecord, len(filings))
	failures := make([]string, len(filings))
	var g errgroup.Group
	g.SetLimit(s.opts.Concurrency)
	for i, f := range filings {
		g.Go(func() error {
			h, err := cache.GetOrCompute(ctx, s.cache, cache.KindFilings, "beneficial:"+f.AccessionID, func(ctx context.Context) (*models.HolderRecord, error) {
				doc, err := s.archive.PrimaryDocument(ctx, filerID, f)
				if err != nil {
					return nil, err
				}
				return parser.ParseBeneficialOwner(doc.Body, parser.FilingContext{
					FormType:    f.FormType,
					FilingDate:  f.FilingDate,
					AccessionID: f.AccessionID,
					SourceURL:   doc.URL,
				}), nil
			})
			if err != nil {
				log.Warn().Str("accession", f.AccessionID).Str("form", f.FormType).Err(err).Msg("beneficial filing unavailable")
				failures[i] = filingWarning(f, err)
				return nil
			}
			slots[i] = h
			return nil
		})
	}
	g.Wait()

	out := make([]models.HolderRecord, 0, len(filings))
	var warnings []string
	for i, h := range slots {
		if failures[i] != "" {
			warnings = append(warnings, failures[i])
		}
		if h != nil {
			out = append(out, *h)
		}
	}
	return out, warnings
}

// institutionalHolders reads the latest 13F-HR information table of every
// configured manager and keeps the positions in issuer.
func (s *Service) institutionalHolders(ctx context.Context, issuer string) ([]models.HolderRecord, []string) {
	managers := s.opts.InstitutionalManagers
	slots := make([]*models.HolderRecord, len(managers))
	warnings := make([]string, len(managers))
	var g errgroup.Group
	g.SetLimit(s.opts.Concurrency)
	for i, manager := range managers {
		g.Go(func() error {
			h, err := s.managerPosition(ctx, manager, issuer)
			if err != nil {
				log.Warn().Str("manager", manager).Str("issuer", issuer).Err(err).Msg("13F holdings unavailable")
				warnings[i] = errs.Describe("13F holdings of manager "+manager, err).Message
				return nil
			}
			slots[i] = h
			return nil
		})
	}
	g.Wait()

	out := make([]models.HolderRecord, 0, len(managers))
	var warn []string
	for i := range managers {
		if slots[i] != nil {
			out = append(out, *slots[i])
		}
		if warnings[i] != "" {
			warn = append(warn, warnings[i])
		}
	}
	return out, warn
}

func (s *Service) managerPosition(ctx context.Context, manager, issuer string) (*models.HolderRecord, error) {
	msub, err := s.index.Submissions(ctx, manager)
	if err != nil {
		return nil, err
	}
	latest := edgar.Select(msub.Filings, institutionalForms, 1)
	if len(latest) == 0 {
		return nil, nil
	}
	f := latest[0]
	key := "13f:" + f.AccessionID + ":" + parser.NormalizeIssuer(issuer)
	return cache.GetOrCompute(ctx, s.cache, cache.KindFilings, key, func(ctx context.Context) (*models.HolderRecord, error) {
		doc, err := s.archive.InformationTable(ctx, msub.FilerID, f.AccessionID)
		if err != nil {
			return nil, err
		}
		return parser.ParseInfoTable(doc.Body, parser.FilingContext{
			FormType:    f.FormType,
			FilingDate:  f.FilingDate,
			AccessionID: f.AccessionID,
			SourceURL:   doc.URL,
		}, msub.Name, issuer), nil
	})
}
