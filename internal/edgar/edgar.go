// Package edgar talks to the SEC EDGAR endpoints: the ticker table, per-filer
// submission indexes and the filing archive.
package edgar

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/bighogz/ownership-lens/internal/httpclient"
)

// Fetcher is the subset of httpclient.Fetcher used here.
type Fetcher interface {
	Fetch(ctx context.Context, family, url string, opts ...httpclient.RequestOption) (*httpclient.Response, error)
}

// Endpoints holds the EDGAR hosts. Tests point them at httptest servers.
type Endpoints struct {
	WWW  string
	Data string
}

var DefaultEndpoints = Endpoints{
	WWW:  "https://www.sec.gov",
	Data: "https://data.sec.gov",
}

func (e Endpoints) tickersURL() string {
	return e.WWW + "/files/company_tickers.json"
}

func (e Endpoints) submissionsURL(filerID string) string {
	return fmt.Sprintf("%s/submissions/CIK%s.json", e.Data, PadCIK(filerID))
}

// ArchiveURL builds the archive location of a document inside a filing.
func (e Endpoints) ArchiveURL(filerID, accession, document string) string {
	return fmt.Sprintf("%s/Archives/edgar/data/%s/%s/%s", e.WWW, TrimCIK(filerID), strings.ReplaceAll(accession, "-", ""), document)
}

// PadCIK zero-pads a numeric filer id to 10 digits.
func PadCIK(id string) string {
	id = strings.TrimSpace(id)
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return id
	}
	return fmt.Sprintf("%010d", n)
}

// TrimCIK drops leading zeros, as archive paths expect.
func TrimCIK(id string) string {
	t := strings.TrimLeft(strings.TrimSpace(id), "0")
	if t == "" {
		return "0"
	}
	return t
}
