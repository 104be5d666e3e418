package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/phuslu/log"
	"golang.org/x/sync/errgroup"

	"github.com/bighogz/ownership-lens/internal/cache"
	"github.com/bighogz/ownership-lens/internal/edgar"
	"github.com/bighogz/ownership-lens/internal/errs"
	"github.com/bighogz/ownership-lens/internal/models"
	"github.com/bighogz/ownership-lens/internal/parser"
)

// GetInsiderTransactions returns the parsed Forms 3/4/5 of ticker's issuer,
// newest filing first. Filings that could not be fetched appear as placeholder
// records and in Warnings; such reports are not cached.
func (s *Service) GetInsiderTransactions(ctx context.Context, ticker string) (report *models.InsiderReport, err error) {
	sym := edgar.NormalizeSymbol(ticker)
	ctx, span := s.span(ctx, "lookup insiders", sym)
	defer func() { endSpan(span, err) }()

	return cache.GetOrComputeIf(ctx, s.cache, cache.KindInsiders, sym, func(ctx context.Context) (*models.InsiderReport, error) {
		id, err := s.resolver.Resolve(ctx, sym)
		if err != nil {
			return nil, err
		}
		sub, err := s.index.Submissions(ctx, id.RegulatoryID)
		if err != nil {
			return nil, err
		}
		selected := edgar.Select(sub.Filings, s.opts.InsiderForms, s.opts.MaxInsiderFilings)
		txs, warnings := s.insiderTransactions(ctx, id.RegulatoryID, selected)
		log.Info().Str("ticker", sym).Int("filings", len(selected)).Int("transactions", len(txs)).
			Int("warnings", len(warnings)).Msg("insider transactions collected")
		return &models.InsiderReport{
			Ticker:       sym,
			FilerID:      id.RegulatoryID,
			CompanyName:  companyName(id, sub),
			Summary:      models.Summarize(txs),
			Transactions: txs,
			Warnings:     warnings,
		}, nil
	}, func(r *models.InsiderReport) bool { return len(r.Warnings) == 0 })
}

// insiderTransactions parses filings concurrently and concatenates the results
// in selection order, with one warning per filing that could not be fetched.
func (s *Service) insiderTransactions(ctx context.Context, filerID string, filings []models.FilingRecord) ([]models.TransactionRecord, []string) {
	slots := make([][]models.TransactionRecord, len(filings))
	failures := make([]string, len(filings))
	var g errgroup.Group
	g.SetLimit(s.opts.Concurrency)
	for i, f := range filings {
		g.Go(func() error {
			txs, err := s.filingTransactions(ctx, filerID, f)
			if err != nil {
				failures[i] = filingWarning(f, err)
			}
			slots[i] = txs
			return nil
		})
	}
	g.Wait()

	out := make([]models.TransactionRecord, 0, len(filings))
	var warnings []string
	for i, txs := range slots {
		out = append(out, txs...)
		if failures[i] != "" {
			warnings = append(warnings, failures[i])
		}
	}
	return out, warnings
}

// filingTransactions always yields records: a filing that cannot be fetched
// is represented by a placeholder and the fetch error is returned alongside.
func (s *Service) filingTransactions(ctx context.Context, filerID string, f models.FilingRecord) ([]models.TransactionRecord, error) {
	fc := parser.FilingContext{
		FormType:    f.FormType,
		FilingDate:  f.FilingDate,
		AccessionID: f.AccessionID,
		SourceURL:   s.archive.URL(filerID, f),
	}
	txs, err := cache.GetOrCompute(ctx, s.cache, cache.KindFilings, "ownership:"+f.AccessionID, func(ctx context.Context) ([]models.TransactionRecord, error) {
		doc, err := s.archive.PrimaryDocument(ctx, filerID, f)
		if err != nil {
			return nil, err
		}
		dfc := fc
		dfc.SourceURL = doc.URL
		txs := parser.ParseTransactions(doc.Body, dfc)
		if len(txs) == 0 {
			txs = []models.TransactionRecord{parser.Placeholder(dfc)}
		}
		return txs, nil
	})
	if err != nil {
		log.Warn().Str("accession", f.AccessionID).Str("form", f.FormType).Err(err).Msg("filing unavailable")
		return []models.TransactionRecord{parser.Placeholder(fc)}, err
	}
	return txs, nil
}

func filingWarning(f models.FilingRecord, err error) string {
	return errs.Describe(fmt.Sprintf("form %s %s", f.FormType, f.AccessionID), err).Message
}

func companyName(id models.FilerIdentity, sub *edgar.Submissions) string {
	if sub != nil && strings.TrimSpace(sub.Name) != "" {
		return sub.Name
	}
	return id.DisplayName
}
