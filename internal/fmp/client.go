package fmp

import (
	"context"
	"errors"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/bighogz/ownership-lens/internal/errs"
	"github.com/bighogz/ownership-lens/internal/httpclient"
	"github.com/bighogz/ownership-lens/internal/market"
	"github.com/bighogz/ownership-lens/internal/models"
)

const (
	Name           = "fmp"
	DefaultBaseURL = "https://financialmodelingprep.com/stable"
)

var ErrNoAPIKey = errors.New("fmp: FMP_API_KEY not set")

type Client struct {
	fetcher market.Fetcher
	apiKey  string
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

func New(f market.Fetcher, apiKey string, opts ...Option) *Client {
	c := &Client{fetcher: f, apiKey: apiKey, baseURL: DefaultBaseURL, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string { return Name }

func (c *Client) get(ctx context.Context, path string, params url.Values) (interface{}, error) {
	if c.apiKey == "" {
		return nil, ErrNoAPIKey
	}
	params.Set("apikey", c.apiKey)
	u := c.baseURL + path + "?" + params.Encode()
	resp, err := c.fetcher.Fetch(ctx, httpclient.FamilyMarket, u, httpclient.WithProvider(Name))
	if err != nil {
		return nil, err
	}
	data, err := market.Decode(Name+path, resp.Body)
	if err != nil {
		return nil, err
	}
	// FMP reports plan limits and bad keys in a 200 body
	if msg := market.String(data, `$["Error Message"]`, "$.error"); msg != "" {
		if strings.Contains(strings.ToLower(msg), "limit") {
			return nil, &errs.RateLimitError{Provider: Name}
		}
		return nil, &errs.ParseError{Source: Name + path, Err: errors.New(msg)}
	}
	return data, nil
}

func (c *Client) Quote(ctx context.Context, symbol string) (models.Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	params := url.Values{}
	params.Set("symbol", symbol)
	data, err := c.get(ctx, "/quote", params)
	if err != nil {
		return models.Quote{}, err
	}
	price, ok := market.Number(data, "$[0].price")
	if !ok || price <= 0 {
		return models.Quote{}, &errs.NotFoundError{Kind: "quote", Key: symbol}
	}
	q := models.Quote{
		Symbol:    symbol,
		Price:     price,
		Provider:  Name,
		FetchedAt: c.now().UTC(),
	}
	q.Change, _ = market.Number(data, "$[0].change")
	q.ChangePercent, _ = market.Number(data, "$[0].changePercentage", "$[0].changesPercentage")
	q.PreviousClose, _ = market.Number(data, "$[0].previousClose")
	q.Volume, _ = market.Number(data, "$[0].volume")
	return q, nil
}

func (c *Client) History(ctx context.Context, symbol string, days int) ([]models.OHLCV, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	to := c.now().UTC()
	from := to.AddDate(0, 0, -calendarSpan(days))
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("from", from.Format("2006-01-02"))
	params.Set("to", to.Format("2006-01-02"))
	data, err := c.get(ctx, "/historical-price-eod/full", params)
	if err != nil {
		return nil, err
	}
	rows := market.Rows(data, "$.historical", "$")
	out := make([]models.OHLCV, 0, len(rows))
	for _, row := range rows {
		date := market.String(row, "$.date")
		closePx, ok := market.Number(row, "$.close", "$.adjClose")
		if len(date) < 10 || !ok || closePx <= 0 {
			continue
		}
		bar := models.OHLCV{Date: date[:10], Close: closePx}
		bar.Open, _ = market.Number(row, "$.open")
		bar.High, _ = market.Number(row, "$.high")
		bar.Low, _ = market.Number(row, "$.low")
		bar.Volume, _ = market.Number(row, "$.volume")
		out = append(out, bar)
	}
	return market.LastN(out, days), nil
}

// calendarSpan widens a trading-day count to calendar days with some slack.
func calendarSpan(days int) int {
	if days <= 0 {
		days = 1
	}
	return days*7/5 + 10
}

// SP500Tickers returns the current index constituents.
func (c *Client) SP500Tickers(ctx context.Context) ([]string, error) {
	data, err := c.get(ctx, "/sp500-constituent", url.Values{})
	if err != nil {
		return nil, err
	}
	rows := market.Rows(data, "$")
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		if sym := market.String(row, "$.symbol"); sym != "" {
			out = append(out, sym)
		}
	}
	sort.Strings(out)
	return out, nil
}
