package edgar

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/phuslu/log"
	"golang.org/x/sync/singleflight"

	"github.com/bighogz/ownership-lens/internal/cache"
	"github.com/bighogz/ownership-lens/internal/errs"
	"github.com/bighogz/ownership-lens/internal/httpclient"
	"github.com/bighogz/ownership-lens/internal/models"
)

const tickerTableKey = "company_tickers"

// Resolver maps trading symbols to filer identities. The ticker table is
// loaded once, shared by concurrent callers, and kept for the identifiers TTL.
type Resolver struct {
	fetcher   Fetcher
	cache     *cache.Cache
	endpoints Endpoints
	clock     cache.Clock

	mu       sync.RWMutex
	table    map[string]models.FilerIdentity
	loadedAt time.Time

	group singleflight.Group
}

func NewResolver(f Fetcher, c *cache.Cache, ep Endpoints) *Resolver {
	return &Resolver{fetcher: f, cache: c, endpoints: ep, clock: cache.SystemClock{}}
}

// NormalizeSymbol upper-cases and trims a symbol.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Resolve returns the filer identity for symbol, or NotFoundError.
func (r *Resolver) Resolve(ctx context.Context, symbol string) (models.FilerIdentity, error) {
	sym := NormalizeSymbol(symbol)
	if sym == "" {
		return models.FilerIdentity{}, &errs.NotFoundError{Kind: "symbol", Key: symbol}
	}
	table, err := r.load(ctx)
	if err != nil {
		return models.FilerIdentity{}, err
	}
	for _, candidate := range []string{sym, strings.ReplaceAll(sym, ".", "-"), strings.ReplaceAll(sym, "-", ".")} {
		if id, ok := table[candidate]; ok {
			return id, nil
		}
	}
	return models.FilerIdentity{}, &errs.NotFoundError{Kind: "symbol", Key: sym}
}

func (r *Resolver) load(ctx context.Context) (map[string]models.FilerIdentity, error) {
	r.mu.RLock()
	table, loadedAt := r.table, r.loadedAt
	r.mu.RUnlock()
	if table != nil && r.clock.Now().Sub(loadedAt) < cache.KindIdentifiers.TTL {
		return table, nil
	}

	v, err, _ := r.group.Do("load", func() (interface{}, error) {
		t, err := cache.GetOrCompute(context.WithoutCancel(ctx), r.cache, cache.KindIdentifiers, tickerTableKey, r.fetchTable)
		if err != nil {
			return nil, err
		}
		r.install(t)
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]models.FilerIdentity), nil
}

func (r *Resolver) install(t map[string]models.FilerIdentity) {
	r.mu.Lock()
	r.table = t
	r.loadedAt = r.clock.Now()
	r.mu.Unlock()
}

// Refresh reloads the ticker table wholesale, bypassing every cache tier.
func (r *Resolver) Refresh(ctx context.Context) error {
	t, err := r.fetchTable(ctx)
	if err != nil {
		return err
	}
	if err := cache.Set(ctx, r.cache, cache.KindIdentifiers, tickerTableKey, t); err != nil {
		return err
	}
	r.install(t)
	log.Info().Int("symbols", len(t)).Msg("identifier table refreshed")
	return nil
}

// Reset forgets the in-process table; the next Resolve reloads it.
func (r *Resolver) Reset() {
	r.mu.Lock()
	r.table = nil
	r.loadedAt = time.Time{}
	r.mu.Unlock()
}

func (r *Resolver) fetchTable(ctx context.Context) (map[string]models.FilerIdentity, error) {
	resp, err := r.fetcher.Fetch(ctx, httpclient.FamilyEdgar, r.endpoints.tickersURL())
	if err != nil {
		return nil, fmt.Errorf("fetch ticker table: %w", err)
	}
	t, err := ParseTickerTable(resp.Body)
	if err != nil {
		return nil, &errs.ParseError{Source: "company_tickers", Err: err}
	}
	log.Debug().Int("symbols", len(t)).Msg("loaded ticker table")
	return t, nil
}

// ParseTickerTable accepts the object-of-rows layout, a plain array of rows,
// and the columnar {fields, data} layout.
func ParseTickerTable(body []byte) (map[string]models.FilerIdentity, error) {
	var raw interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	out := make(map[string]models.FilerIdentity)
	add := func(cik interface{}, ticker, title string) {
		id := cikString(cik)
		sym := NormalizeSymbol(ticker)
		if id == "" || sym == "" {
			return
		}
		if _, dup := out[sym]; dup {
			return
		}
		out[sym] = models.FilerIdentity{Symbol: sym, RegulatoryID: id, DisplayName: strings.TrimSpace(title)}
	}
	addRow := func(v interface{}) {
		m, ok := v.(map[string]interface{})
		if !ok {
			return
		}
		cik := m["cik_str"]
		if cik == nil {
			cik = m["cik"]
		}
		title := str(m["title"])
		if title == "" {
			title = str(m["name"])
		}
		add(cik, str(m["ticker"]), title)
	}

	switch v := raw.(type) {
	case []interface{}:
		for _, row := range v {
			addRow(row)
		}
	case map[string]interface{}:
		fields, hasFields := v["fields"].([]interface{})
		data, hasData := v["data"].([]interface{})
		if hasFields && hasData {
			idx := map[string]int{}
			for i, f := range fields {
				idx[strings.ToLower(str(f))] = i
			}
			cikIdx, okC := idx["cik"]
			tickIdx, okT := idx["ticker"]
			nameIdx, okN := idx["name"]
			if !okC || !okT {
				return nil, fmt.Errorf("columnar ticker table missing cik/ticker fields")
			}
			for _, row := range data {
				cols, ok := row.([]interface{})
				if !ok || cikIdx >= len(cols) || tickIdx >= len(cols) {
					continue
				}
				name := ""
				if okN && nameIdx < len(cols) {
					name = str(cols[nameIdx])
				}
				add(cols[cikIdx], str(cols[tickIdx]), name)
			}
			break
		}
		for _, row := range v {
			addRow(row)
		}
	default:
		return nil, fmt.Errorf("unexpected ticker table layout")
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("ticker table has no usable rows")
	}
	return out, nil
}

func cikString(v interface{}) string {
	switch x := v.(type) {
	case float64:
		if x <= 0 {
			return ""
		}
		return fmt.Sprintf("%010d", int64(x))
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil || n <= 0 {
			return ""
		}
		return fmt.Sprintf("%010d", n)
	}
	return ""
}

func str(v interface{}) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}
