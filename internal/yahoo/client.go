package yahoo

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bighogz/ownership-lens/internal/errs"
	"github.com/bighogz/ownership-lens/internal/httpclient"
	"github.com/bighogz/ownership-lens/internal/market"
	"github.com/bighogz/ownership-lens/internal/models"
)

const (
	Name           = "yahoo"
	DefaultBaseURL = "https://query1.finance.yahoo.com"
)

// User-Agent required: Yahoo blocks generic clients (401/429)
const yahooUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

type Client struct {
	fetcher market.Fetcher
	baseURL string
	now     func() time.Time
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func New(f market.Fetcher, opts ...Option) *Client {
	c := &Client{fetcher: f, baseURL: DefaultBaseURL, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string { return Name }

// ToYahooSymbol converts class-share symbols to Yahoo format: BRK.B -> BRK-B
func ToYahooSymbol(s string) string {
	return strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(s)), ".", "-")
}

// FromYahooSymbol converts Yahoo symbols back: BRK-B -> BRK.B
func FromYahooSymbol(s string) string {
	return strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(s)), "-", ".")
}

func (c *Client) chart(ctx context.Context, symbol string, params url.Values) (interface{}, error) {
	params.Set("interval", "1d")
	u := c.baseURL + "/v8/finance/chart/" + url.PathEscape(ToYahooSymbol(symbol)) + "?" + params.Encode()
	resp, err := c.fetcher.Fetch(ctx, httpclient.FamilyMarket, u,
		httpclient.WithProvider(Name),
		httpclient.WithHeader("User-Agent", yahooUserAgent),
	)
	if err != nil {
		return nil, err
	}
	data, err := market.Decode(Name+" chart", resp.Body)
	if err != nil {
		return nil, err
	}
	if code := market.String(data, "$.chart.error.code"); code != "" {
		if strings.EqualFold(code, "Not Found") {
			return nil, &errs.NotFoundError{Kind: "symbol", Key: symbol}
		}
		desc := market.String(data, "$.chart.error.description")
		return nil, &errs.ParseError{Source: Name + " chart", Err: fmt.Errorf("%s: %s", code, desc)}
	}
	result, ok := market.Lookup(data, "$.chart.result[0]")
	if !ok {
		return nil, &errs.NotFoundError{Kind: "symbol", Key: symbol}
	}
	return result, nil
}

func (c *Client) Quote(ctx context.Context, symbol string) (models.Quote, error) {
	params := url.Values{}
	params.Set("range", "5d")
	result, err := c.chart(ctx, symbol, params)
	if err != nil {
		return models.Quote{}, err
	}
	price, ok := market.Number(result, "$.meta.regularMarketPrice")
	if !ok || price <= 0 {
		return models.Quote{}, &errs.ParseError{Source: Name + " chart", Err: errors.New("no regularMarketPrice")}
	}
	q := models.Quote{
		Symbol:    FromYahooSymbol(market.String(result, "$.meta.symbol")),
		Price:     price,
		Provider:  Name,
		FetchedAt: c.now().UTC(),
	}
	if q.Symbol == "" {
		q.Symbol = strings.ToUpper(symbol)
	}
	q.PreviousClose, _ = market.Number(result, "$.meta.previousClose", "$.meta.chartPreviousClose")
	q.Volume, _ = market.Number(result, "$.meta.regularMarketVolume")
	if q.PreviousClose > 0 {
		q.Change = price - q.PreviousClose
		q.ChangePercent = q.Change / q.PreviousClose * 100
	}
	return q, nil
}

func (c *Client) History(ctx context.Context, symbol string, days int) ([]models.OHLCV, error) {
	if days <= 0 {
		days = 1
	}
	to := c.now().UTC()
	from := to.AddDate(0, 0, -(days*7/5 + 10))
	params := url.Values{}
	params.Set("period1", strconv.FormatInt(from.Unix(), 10))
	params.Set("period2", strconv.FormatInt(to.Unix(), 10))
	result, err := c.chart(ctx, symbol, params)
	if err != nil {
		return nil, err
	}
	stamps := market.Rows(result, "$.timestamp")
	series := func(name string) []interface{} {
		return market.Rows(result, "$.indicators.quote[0]."+name)
	}
	opens, highs, lows, closes, volumes := series("open"), series("high"), series("low"), series("close"), series("volume")
	at := func(vals []interface{}, i int) float64 {
		if i < len(vals) {
			if f, ok := vals[i].(float64); ok {
				return f
			}
		}
		return 0
	}
	out := make([]models.OHLCV, 0, len(stamps))
	for i, ts := range stamps {
		sec, ok := ts.(float64)
		closePx := at(closes, i)
		if !ok || closePx <= 0 {
			continue
		}
		out = append(out, models.OHLCV{
			Date:   time.Unix(int64(sec), 0).UTC().Format("2006-01-02"),
			Open:   at(opens, i),
			High:   at(highs, i),
			Low:    at(lows, i),
			Close:  closePx,
			Volume: at(volumes, i),
		})
	}
	return market.LastN(out, days), nil
}
