package edgar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/bighogz/ownership-lens/internal/errs"
	"github.com/bighogz/ownership-lens/internal/httpclient"
	"github.com/bighogz/ownership-lens/internal/models"
)

// Archive fetches documents from filing folders.
type Archive struct {
	fetcher   Fetcher
	endpoints Endpoints
}

func NewArchive(f Fetcher, ep Endpoints) *Archive {
	return &Archive{fetcher: f, endpoints: ep}
}

// Document is a fetched filing document and where it came from.
type Document struct {
	URL  string
	Body []byte
}

// RawDocumentPath strips the stylesheet folder EDGAR prefixes onto rendered
// ownership forms ("xslF345X05/form4.xml" -> "form4.xml").
func RawDocumentPath(p string) string {
	dir, file := path.Split(p)
	if strings.HasPrefix(strings.ToLower(dir), "xsl") {
		return file
	}
	return p
}

// URL is where the filing's raw primary document lives.
func (a *Archive) URL(filerID string, f models.FilingRecord) string {
	return a.endpoints.ArchiveURL(filerID, f.AccessionID, RawDocumentPath(f.PrimaryDocumentPath))
}

// PrimaryDocument fetches the filing's primary document in its raw form. When
// the archive has no such file, the full submission text is used instead.
func (a *Archive) PrimaryDocument(ctx context.Context, filerID string, f models.FilingRecord) (*Document, error) {
	u := a.URL(filerID, f)
	resp, err := a.fetcher.Fetch(ctx, httpclient.FamilyEdgar, u)
	if err == nil {
		return &Document{URL: u, Body: resp.Body}, nil
	}
	if !errs.IsNotFound(err) {
		return nil, err
	}
	return a.FullSubmission(ctx, filerID, f.AccessionID)
}

// FullSubmission fetches the complete SGML submission text of a filing.
func (a *Archive) FullSubmission(ctx context.Context, filerID, accession string) (*Document, error) {
	u := a.endpoints.ArchiveURL(filerID, accession, accession+".txt")
	resp, err := a.fetcher.Fetch(ctx, httpclient.FamilyEdgar, u)
	if err != nil {
		if errs.IsNotFound(err) {
			return nil, &errs.NotFoundError{Kind: "filing", Key: accession}
		}
		return nil, err
	}
	return &Document{URL: u, Body: resp.Body}, nil
}

// IndexItem is one file listed in a filing folder.
type IndexItem struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Size string `json:"size"`
	URL  string `json:"-"`
}

// FolderIndex lists the files of a filing folder. Older folders without an
// index.json are listed from the filing index page.
func (a *Archive) FolderIndex(ctx context.Context, filerID, accession string) ([]IndexItem, error) {
	items, err := a.folderJSON(ctx, filerID, accession)
	if err == nil && len(items) > 0 {
		return items, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	pageItems, perr := a.IndexPage(ctx, filerID, accession)
	if perr != nil {
		if err != nil {
			return nil, err
		}
		return nil, perr
	}
	return pageItems, nil
}

// IndexPage scrapes the document table of the "{accession}-index.htm" page.
func (a *Archive) IndexPage(ctx context.Context, filerID, accession string) ([]IndexItem, error) {
	u := a.endpoints.ArchiveURL(filerID, accession, accession+"-index.htm")
	resp, err := a.fetcher.Fetch(ctx, httpclient.FamilyEdgar, u)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, &errs.ParseError{Source: u, Err: err}
	}
	var items []IndexItem
	doc.Find("table.tableFile tr").Each(func(_ int, row *goquery.Selection) {
		href, ok := row.Find("a[href]").First().Attr("href")
		if !ok {
			return
		}
		name := path.Base(href)
		cells := row.Find("td")
		items = append(items, IndexItem{
			Name: name,
			Type: strings.TrimSpace(cells.Eq(3).Text()),
			Size: strings.TrimSpace(cells.Eq(4).Text()),
			URL:  a.endpoints.ArchiveURL(filerID, accession, name),
		})
	})
	if len(items) == 0 {
		return nil, &errs.NotFoundError{Kind: "filing index", Key: accession}
	}
	return items, nil
}

func (a *Archive) folderJSON(ctx context.Context, filerID, accession string) ([]IndexItem, error) {
	u := a.endpoints.ArchiveURL(filerID, accession, "index.json")
	var index struct {
		Directory struct {
			Item []IndexItem `json:"item"`
		} `json:"directory"`
	}
	if err := fetchJSON(ctx, a.fetcher, u, &index); err != nil {
		return nil, err
	}
	items := index.Directory.Item
	for i := range items {
		items[i].URL = a.endpoints.ArchiveURL(filerID, accession, items[i].Name)
	}
	return items, nil
}

// InformationTable fetches the holdings table XML of a 13F-HR filing.
func (a *Archive) InformationTable(ctx context.Context, filerID, accession string) (*Document, error) {
	items, err := a.FolderIndex(ctx, filerID, accession)
	if err != nil {
		return nil, err
	}
	var best *IndexItem
	for i := range items {
		name := strings.ToLower(items[i].Name)
		if !strings.HasSuffix(name, ".xml") || name == "primary_doc.xml" {
			continue
		}
		if strings.Contains(name, "info") || strings.Contains(name, "table") {
			best = &items[i]
			break
		}
		if best == nil {
			best = &items[i]
		}
	}
	if best == nil {
		return nil, &errs.NotFoundError{Kind: "information table", Key: accession}
	}
	resp, err := a.fetcher.Fetch(ctx, httpclient.FamilyEdgar, best.URL)
	if err != nil {
		return nil, err
	}
	return &Document{URL: best.URL, Body: resp.Body}, nil
}

func fetchJSON(ctx context.Context, f Fetcher, url string, v interface{}) error {
	resp, err := f.Fetch(ctx, httpclient.FamilyEdgar, url)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return &errs.ParseError{Source: url, Err: fmt.Errorf("decode json: %w", err)}
	}
	return nil
}
