package sp500

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/bighogz/ownership-lens/internal/httpclient"
)

const CSVURL = "https://raw.githubusercontent.com/datasets/s-and-p-500-companies/master/data/constituents.csv"

type Fetcher interface {
	Fetch(ctx context.Context, family, url string, opts ...httpclient.RequestOption) (*httpclient.Response, error)
}

type Company struct {
	Symbol      string `json:"symbol"`
	Name        string `json:"name"`
	Sector      string `json:"sector"`
	SubIndustry string `json:"sub_industry,omitempty"`
}

// Load downloads the constituents list from url (CSVURL when empty).
func Load(ctx context.Context, f Fetcher, url string) ([]Company, error) {
	if url == "" {
		url = CSVURL
	}
	resp, err := f.Fetch(ctx, httpclient.FamilyMarket, url, httpclient.WithProvider("sp500"))
	if err != nil {
		return nil, err
	}
	return Parse(resp.Body)
}

// columnAliases maps a Company field onto the header spellings seen in
// constituent lists.
var columnAliases = map[string][]string{
	"symbol":       {"symbol"},
	"name":         {"security", "name"},
	"sector":       {"gics sector", "sector"},
	"sub_industry": {"gics sub-industry", "sub-industry"},
}

// Parse reads a constituents CSV. Only the symbol column is required; the
// first row for a symbol wins.
func Parse(body []byte) ([]Company, error) {
	r := csv.NewReader(bytes.NewReader(body))
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read constituents: %w", err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("constituents list is empty")
	}
	header := make(map[string]int, len(rows[0]))
	for i, h := range rows[0] {
		header[strings.ToLower(strings.TrimSpace(h))] = i
	}
	idx := make(map[string]int, len(columnAliases))
	for field, aliases := range columnAliases {
		for _, a := range aliases {
			if i, ok := header[a]; ok {
				idx[field] = i
				break
			}
		}
	}
	if _, ok := idx["symbol"]; !ok {
		return nil, fmt.Errorf("constituents list has no symbol column")
	}
	cell := func(row []string, field string) string {
		i, ok := idx[field]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	companies := make([]Company, 0, len(rows)-1)
	for _, row := range rows[1:] {
		c := Company{
			Symbol:      strings.ToUpper(cell(row, "symbol")),
			Name:        cell(row, "name"),
			Sector:      cell(row, "sector"),
			SubIndustry: cell(row, "sub_industry"),
		}
		if c.Symbol == "" {
			continue
		}
		if c.Sector == "" {
			c.Sector = "Unknown"
		}
		companies = append(companies, c)
	}
	return lo.UniqBy(companies, func(c Company) string { return c.Symbol }), nil
}

func Symbols(companies []Company) []string {
	return lo.Map(companies, func(c Company, _ int) string { return c.Symbol })
}
