package edgar

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bighogz/ownership-lens/internal/cache"
	"github.com/bighogz/ownership-lens/internal/errs"
	"github.com/bighogz/ownership-lens/internal/httpclient"
	"github.com/bighogz/ownership-lens/internal/models"
)

const tickersJSON = `{
	"0": {"cik_str": 320193, "ticker": "AAPL", "title": "Apple Inc."},
	"1": {"cik_str": 1067983, "ticker": "BRK-B", "title": "BERKSHIRE HATHAWAY INC"},
	"2": {"cik_str": "789019", "ticker": "msft", "title": "MICROSOFT CORP"}
}`

const submissionsJSON = `{
	"cik": "320193",
	"name": "Apple Inc.",
	"tickers": ["AAPL"],
	"filings": {"recent": {
		"accessionNumber": ["0000320193-24-000010", "0000320193-24-000009", "0000320193-24-000008"],
		"filingDate":      ["2024-05-01", "2024-04-02", "2024-03-01"],
		"reportDate":      ["2024-04-29", "", "2024-02-28"],
		"form":            ["4", "10-Q", "4"],
		"primaryDocument": ["xslF345X05/wk-form4_1.xml", "aapl-20240330.htm"]
	}}
}`

type fakeEdgar struct {
	srv  *httptest.Server
	hits sync.Map
}

func (f *fakeEdgar) count(path string) int32 {
	v, ok := f.hits.Load(path)
	if !ok {
		return 0
	}
	return v.(*atomic.Int32).Load()
}

func newFakeEdgar(t *testing.T, routes map[string]string) *fakeEdgar {
	f := &fakeEdgar{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		v, _ := f.hits.LoadOrStore(r.URL.Path, &atomic.Int32{})
		v.(*atomic.Int32).Add(1)
		body, ok := routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		time.Sleep(5 * time.Millisecond)
		w.Write([]byte(body))
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeEdgar) endpoints() Endpoints {
	return Endpoints{WWW: f.srv.URL, Data: f.srv.URL}
}

func testFetcher() *httpclient.Fetcher {
	return httpclient.NewFetcher(
		httpclient.WithRetries(1, time.Millisecond),
		httpclient.WithFamily(httpclient.FamilyEdgar, time.Millisecond),
	)
}

func TestResolveKnownSymbol(t *testing.T) {
	fake := newFakeEdgar(t, map[string]string{"/files/company_tickers.json": tickersJSON})
	r := NewResolver(testFetcher(), cache.New(nil), fake.endpoints())

	id, err := r.Resolve(context.Background(), " aapl ")
	require.NoError(t, err)
	assert.Equal(t, "0000320193", id.RegulatoryID)
	assert.Equal(t, "Apple Inc.", id.DisplayName)

	id, err = r.Resolve(context.Background(), "MSFT")
	require.NoError(t, err)
	assert.Equal(t, "0000789019", id.RegulatoryID)

	id, err = r.Resolve(context.Background(), "BRK.B")
	require.NoError(t, err)
	assert.Equal(t, "0001067983", id.RegulatoryID)
}

func TestResolveUnknownSymbol(t *testing.T) {
	fake := newFakeEdgar(t, map[string]string{"/files/company_tickers.json": tickersJSON})
	r := NewResolver(testFetcher(), cache.New(nil), fake.endpoints())

	_, err := r.Resolve(context.Background(), "ZZZZ")
	var nf *errs.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "ZZZZ", nf.Key)
}

func TestResolveLoadsTableOnceForConcurrentCallers(t *testing.T) {
	fake := newFakeEdgar(t, map[string]string{"/files/company_tickers.json": tickersJSON})
	r := NewResolver(testFetcher(), cache.New(nil), fake.endpoints())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Resolve(context.Background(), "AAPL")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), fake.count("/files/company_tickers.json"))
}

func TestResolverRefreshAndReset(t *testing.T) {
	fake := newFakeEdgar(t, map[string]string{"/files/company_tickers.json": tickersJSON})
	c := cache.New(nil)
	r := NewResolver(testFetcher(), c, fake.endpoints())
	ctx := context.Background()

	_, err := r.Resolve(ctx, "AAPL")
	require.NoError(t, err)
	require.NoError(t, r.Refresh(ctx))
	assert.Equal(t, int32(2), fake.count("/files/company_tickers.json"))

	r.Reset()
	_, err = r.Resolve(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, int32(2), fake.count("/files/company_tickers.json"), "reset reloads from the cache tier")
}

func TestParseTickerTableLayouts(t *testing.T) {
	arr := `[{"cik_str": 320193, "ticker": "AAPL", "title": "Apple Inc."}]`
	table, err := ParseTickerTable([]byte(arr))
	require.NoError(t, err)
	assert.Equal(t, "0000320193", table["AAPL"].RegulatoryID)

	columnar := `{"fields": ["cik", "name", "ticker", "exchange"],
		"data": [[320193, "Apple Inc.", "AAPL", "Nasdaq"], [1045810, "NVIDIA CORP", "NVDA", "Nasdaq"], ["bad"]]}`
	table, err = ParseTickerTable([]byte(columnar))
	require.NoError(t, err)
	assert.Equal(t, "0001045810", table["NVDA"].RegulatoryID)
	assert.Equal(t, "NVIDIA CORP", table["NVDA"].DisplayName)

	_, err = ParseTickerTable([]byte(`"nope"`))
	assert.Error(t, err)
	_, err = ParseTickerTable([]byte(`{}`))
	assert.Error(t, err)
}

func TestListFilingsSkipsIncompleteIndexPositions(t *testing.T) {
	fake := newFakeEdgar(t, map[string]string{"/submissions/CIK0000320193.json": submissionsJSON})
	svc := NewIndexService(testFetcher(), cache.New(nil), fake.endpoints())

	filings, err := svc.ListFilings(context.Background(), "320193")
	require.NoError(t, err)
	require.Len(t, filings, 2)
	assert.Equal(t, "0000320193-24-000010", filings[0].AccessionID)
	require.NotNil(t, filings[0].ReportDate)
	assert.Equal(t, "2024-04-29", *filings[0].ReportDate)
	assert.Nil(t, filings[1].ReportDate)

	_, err = svc.ListFilings(context.Background(), "0000320193")
	require.NoError(t, err)
	assert.Equal(t, int32(1), fake.count("/submissions/CIK0000320193.json"))
}

func TestSubmissionsHeader(t *testing.T) {
	fake := newFakeEdgar(t, map[string]string{"/submissions/CIK0000320193.json": submissionsJSON})
	svc := NewIndexService(testFetcher(), cache.New(nil), fake.endpoints())

	sub, err := svc.Submissions(context.Background(), "320193")
	require.NoError(t, err)
	assert.Equal(t, "0000320193", sub.FilerID)
	assert.Equal(t, "Apple Inc.", sub.Name)
	assert.Equal(t, []string{"AAPL"}, sub.Tickers)
	assert.Len(t, sub.Filings, 2)
}

func TestListFilingsUnknownFiler(t *testing.T) {
	fake := newFakeEdgar(t, map[string]string{})
	svc := NewIndexService(testFetcher(), cache.New(nil), fake.endpoints())
	_, err := svc.ListFilings(context.Background(), "0000000001")
	assert.True(t, errs.IsNotFound(err))
}

func TestSelectNewestFirstWithLimit(t *testing.T) {
	forms := []string{"4", "10-K", "4", "3"}
	dates := []string{"2024-03-01", "2024-02-01", "2024-05-01", "2024-01-01"}
	filings := make([]models.FilingRecord, len(forms))
	for i := range forms {
		filings[i] = models.FilingRecord{FormType: forms[i], FilingDate: dates[i], AccessionID: forms[i] + dates[i]}
	}

	got := Select(filings, []string{"3", "4"}, 2)
	require.Len(t, got, 2)
	assert.Equal(t, "2024-05-01", got[0].FilingDate)
	assert.Equal(t, "2024-03-01", got[1].FilingDate)

	all := Select(filings, []string{"3", "4"}, 0)
	assert.Len(t, all, 3)
	assert.Equal(t, "2024-01-01", all[2].FilingDate)
	assert.Equal(t, "4", filings[0].FormType, "input is not reordered")
}

func TestSelectUndatedSortsLast(t *testing.T) {
	filings := []models.FilingRecord{
		{FormType: "4", FilingDate: "not-a-date", AccessionID: "a"},
		{FormType: "4", FilingDate: "1999-01-01", AccessionID: "b"},
		{FormType: "4/A", FilingDate: "2024-01-01", AccessionID: "c"},
	}
	got := Select(filings, []string{"4"}, 10)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].AccessionID)
	assert.Equal(t, "a", got[1].AccessionID)
}

func TestSelectEmpty(t *testing.T) {
	assert.Empty(t, Select(nil, []string{"4"}, 5))
}

func TestRawDocumentPath(t *testing.T) {
	assert.Equal(t, "wk-form4_1.xml", RawDocumentPath("xslF345X05/wk-form4_1.xml"))
	assert.Equal(t, "primary_doc.xml", RawDocumentPath("primary_doc.xml"))
	assert.Equal(t, "d123.htm", RawDocumentPath("d123.htm"))
}

func TestPrimaryDocumentFallsBackToFullSubmission(t *testing.T) {
	fake := newFakeEdgar(t, map[string]string{
		"/Archives/edgar/data/320193/000032019324000008/0000320193-24-000008.txt": "<SEC-DOCUMENT><XML><ownershipDocument/></XML>",
	})
	a := NewArchive(testFetcher(), fake.endpoints())
	doc, err := a.PrimaryDocument(context.Background(), "0000320193", models.FilingRecord{
		FormType: "4", AccessionID: "0000320193-24-000008", PrimaryDocumentPath: "xslF345X03/form4.xml",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(doc.URL, ".txt"))
	assert.Contains(t, string(doc.Body), "ownershipDocument")
}

func TestInformationTable(t *testing.T) {
	fake := newFakeEdgar(t, map[string]string{
		"/Archives/edgar/data/102909/000010290924000001/index.json": `{"directory": {"item": [
			{"name": "primary_doc.xml", "type": "text/xml"},
			{"name": "0000102909-24-000001-index.htm", "type": "text/html"},
			{"name": "vanguard_13f_infotable.xml", "type": "text/xml"}
		]}}`,
		"/Archives/edgar/data/102909/000010290924000001/vanguard_13f_infotable.xml": "<informationTable/>",
	})
	a := NewArchive(testFetcher(), fake.endpoints())
	doc, err := a.InformationTable(context.Background(), "0000102909", "0000102909-24-000001")
	require.NoError(t, err)
	assert.Equal(t, "<informationTable/>", string(doc.Body))
}

func TestInformationTableFromIndexPage(t *testing.T) {
	fake := newFakeEdgar(t, map[string]string{
		"/Archives/edgar/data/1364742/000108514624001234/0001085146-24-001234-index.htm": `<html><body>
<table class="tableFile" summary="Document Format Files">
<tr><th>Seq</th><th>Description</th><th>Document</th><th>Type</th><th>Size</th></tr>
<tr><td>1</td><td>13F-HR</td><td><a href="/Archives/edgar/data/1364742/000108514624001234/xslForm13F_X02/primary_doc.xml">primary_doc.html</a></td><td>13F-HR</td><td>3561</td></tr>
<tr><td>2</td><td>INFORMATION TABLE</td><td><a href="/Archives/edgar/data/1364742/000108514624001234/xslForm13F_X02/form13fInfoTable.xml">form13fInfoTable.html</a></td><td>INFORMATION TABLE</td><td>9123456</td></tr>
</table></body></html>`,
		"/Archives/edgar/data/1364742/000108514624001234/form13fInfoTable.xml": "<informationTable/>",
	})
	a := NewArchive(testFetcher(), fake.endpoints())

	items, err := a.FolderIndex(context.Background(), "0001364742", "0001085146-24-001234")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "INFORMATION TABLE", items[1].Type)

	doc, err := a.InformationTable(context.Background(), "0001364742", "0001085146-24-001234")
	require.NoError(t, err)
	assert.Equal(t, "<informationTable/>", string(doc.Body))
	assert.True(t, strings.HasSuffix(doc.URL, "/form13fInfoTable.xml"))
}
