package edgar

import (
	"context"
	"fmt"
	"strings"

	"github.com/bighogz/ownership-lens/internal/cache"
	"github.com/bighogz/ownership-lens/internal/errs"
	"github.com/bighogz/ownership-lens/internal/models"
)

// Submissions is the filer header plus its recent filings, in index order.
type Submissions struct {
	FilerID string                `json:"filer_id"`
	Name    string                `json:"name"`
	Tickers []string              `json:"tickers"`
	Filings []models.FilingRecord `json:"filings"`
}

type recentIndex struct {
	AccessionNumber []string `json:"accessionNumber"`
	FilingDate      []string `json:"filingDate"`
	ReportDate      []string `json:"reportDate"`
	Form            []string `json:"form"`
	PrimaryDocument []string `json:"primaryDocument"`
}

type submissionsResponse struct {
	CIK     string   `json:"cik"`
	Name    string   `json:"name"`
	Tickers []string `json:"tickers"`
	Filings struct {
		Recent recentIndex `json:"recent"`
	} `json:"filings"`
}

type IndexService struct {
	fetcher   Fetcher
	cache     *cache.Cache
	endpoints Endpoints
}

func NewIndexService(f Fetcher, c *cache.Cache, ep Endpoints) *IndexService {
	return &IndexService{fetcher: f, cache: c, endpoints: ep}
}

// ListFilings returns every filing in the filer's recent index.
func (s *IndexService) ListFilings(ctx context.Context, filerID string) ([]models.FilingRecord, error) {
	sub, err := s.Submissions(ctx, filerID)
	if err != nil {
		return nil, err
	}
	return sub.Filings, nil
}

// Submissions returns the cached submission index for filerID.
func (s *IndexService) Submissions(ctx context.Context, filerID string) (*Submissions, error) {
	id := PadCIK(filerID)
	return cache.GetOrCompute(ctx, s.cache, cache.KindSubmissions, id, func(ctx context.Context) (*Submissions, error) {
		return s.fetch(ctx, id)
	})
}

func (s *IndexService) fetch(ctx context.Context, id string) (*Submissions, error) {
	var resp submissionsResponse
	if err := fetchJSON(ctx, s.fetcher, s.endpoints.submissionsURL(id), &resp); err != nil {
		if errs.IsNotFound(err) {
			return nil, &errs.NotFoundError{Kind: "filer", Key: id}
		}
		return nil, fmt.Errorf("fetch submissions for %s: %w", id, err)
	}
	return &Submissions{
		FilerID: id,
		Name:    strings.TrimSpace(resp.Name),
		Tickers: resp.Tickers,
		Filings: zipRecent(resp.Filings.Recent),
	}, nil
}

// zipRecent turns the parallel arrays into records. An index position missing
// any required field is skipped; the report date is optional.
func zipRecent(r recentIndex) []models.FilingRecord {
	at := func(arr []string, i int) string {
		if i < len(arr) {
			return strings.TrimSpace(arr[i])
		}
		return ""
	}
	out := make([]models.FilingRecord, 0, len(r.AccessionNumber))
	for i := range r.AccessionNumber {
		rec := models.FilingRecord{
			FormType:            at(r.Form, i),
			AccessionID:         at(r.AccessionNumber, i),
			FilingDate:          at(r.FilingDate, i),
			PrimaryDocumentPath: at(r.PrimaryDocument, i),
		}
		if rec.FormType == "" || rec.AccessionID == "" || rec.FilingDate == "" || rec.PrimaryDocumentPath == "" {
			continue
		}
		if rd := at(r.ReportDate, i); rd != "" {
			rec.ReportDate = &rd
		}
		out = append(out, rec)
	}
	return out
}
