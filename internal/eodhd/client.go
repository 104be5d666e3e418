package eodhd

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/bighogz/ownership-lens/internal/errs"
	"github.com/bighogz/ownership-lens/internal/httpclient"
	"github.com/bighogz/ownership-lens/internal/market"
	"github.com/bighogz/ownership-lens/internal/models"
)

const (
	Name = "eodhd"
	// DefaultBaseURL is the base URL for the EODHD API.
	DefaultBaseURL = "https://eodhd.com/api"
)

var ErrNoAPIKey = errors.New("eodhd: EODHD_API_KEY not set")

// Client is an EODHD API client. Symbols are assumed to trade on a US exchange.
type Client struct {
	fetcher market.Fetcher
	apiKey  string
	baseURL string
	now     func() time.Time
}

type ClientOption func(*Client)

// WithBaseURL sets a custom base URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(baseURL, "/") }
}

func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) { c.now = now }
}

func NewClient(f market.Fetcher, apiKey string, opts ...ClientOption) *Client {
	c := &Client{fetcher: f, apiKey: apiKey, baseURL: DefaultBaseURL, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string { return Name }

func exchangeSymbol(symbol string) string {
	return strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(symbol)), ".", "-") + ".US"
}

// get performs a GET request to the API.
func (c *Client) get(ctx context.Context, path string, params url.Values) (interface{}, error) {
	if c.apiKey == "" {
		return nil, ErrNoAPIKey
	}
	if params == nil {
		params = url.Values{}
	}
	params.Set("api_token", c.apiKey)
	params.Set("fmt", "json")
	resp, err := c.fetcher.Fetch(ctx, httpclient.FamilyMarket, c.baseURL+path+"?"+params.Encode(), httpclient.WithProvider(Name))
	if err != nil {
		return nil, err
	}
	return market.Decode(Name+path, resp.Body)
}

// Quote reads the real-time endpoint. Outside trading hours EODHD answers with
// "NA" fields, which count as no quote.
func (c *Client) Quote(ctx context.Context, symbol string) (models.Quote, error) {
	data, err := c.get(ctx, "/real-time/"+exchangeSymbol(symbol), nil)
	if err != nil {
		return models.Quote{}, err
	}
	price, ok := market.Number(data, "$.close")
	if !ok || price <= 0 {
		return models.Quote{}, &errs.NotFoundError{Kind: "quote", Key: symbol}
	}
	q := models.Quote{
		Symbol:    strings.ToUpper(symbol),
		Price:     price,
		Provider:  Name,
		FetchedAt: c.now().UTC(),
	}
	q.Change, _ = market.Number(data, "$.change")
	q.ChangePercent, _ = market.Number(data, "$.change_p")
	q.PreviousClose, _ = market.Number(data, "$.previousClose")
	q.Volume, _ = market.Number(data, "$.volume")
	return q, nil
}

// History retrieves end-of-day bars in ascending order.
func (c *Client) History(ctx context.Context, symbol string, days int) ([]models.OHLCV, error) {
	if days <= 0 {
		days = 1
	}
	to := c.now().UTC()
	params := url.Values{}
	params.Set("from", to.AddDate(0, 0, -(days*7/5+10)).Format("2006-01-02"))
	params.Set("to", to.Format("2006-01-02"))
	params.Set("period", "d")
	params.Set("order", "a")
	data, err := c.get(ctx, "/eod/"+exchangeSymbol(symbol), params)
	if err != nil {
		return nil, err
	}
	rows := market.Rows(data, "$")
	out := make([]models.OHLCV, 0, len(rows))
	for _, row := range rows {
		date := market.String(row, "$.date")
		closePx, ok := market.Number(row, "$.close")
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
