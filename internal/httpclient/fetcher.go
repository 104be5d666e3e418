package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/phuslu/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/bighogz/ownership-lens/internal/errs"
	"github.com/bighogz/ownership-lens/internal/models"
)

// Request families. Each family has its own minimum spacing between requests.
const (
	FamilyEdgar  = "edgar"
	FamilyMarket = "market"
)

const maxBodyBytes = 64 << 20

type family struct {
	name     string
	interval time.Duration
	limiter  *rate.Limiter
	requests atomic.Int64
	failures atomic.Int64
	last     atomic.Int64
}

// Fetcher performs GET requests with per-family throttling and bounded retries.
type Fetcher struct {
	client          *http.Client
	userAgent       string
	maxRetries      int
	baseDelay       time.Duration
	defaultInterval time.Duration

	mu       sync.Mutex
	families map[string]*family
}

type Option func(*Fetcher)

func WithClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

func WithUserAgent(ua string) Option {
	return func(f *Fetcher) { f.userAgent = ua }
}

// WithRetries sets how many retries follow the first attempt and the first backoff delay.
func WithRetries(n int, base time.Duration) Option {
	return func(f *Fetcher) {
		f.maxRetries = n
		f.baseDelay = base
	}
}

// WithFamily registers a family with its minimum interval between requests.
func WithFamily(name string, interval time.Duration) Option {
	return func(f *Fetcher) { f.families[name] = newFamily(name, interval) }
}

func NewFetcher(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:          NewClient(DefaultTimeout),
		maxRetries:      3,
		baseDelay:       time.Second,
		defaultInterval: 250 * time.Millisecond,
		families:        make(map[string]*family),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func newFamily(name string, interval time.Duration) *family {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &family{name: name, interval: interval, limiter: rate.NewLimiter(limit, 1)}
}

func (f *Fetcher) family(name string) *family {
	f.mu.Lock()
	defer f.mu.Unlock()
	fam, ok := f.families[name]
	if !ok {
		fam = newFamily(name, f.defaultInterval)
		f.families[name] = fam
	}
	return fam
}

// Response is a fully read upstream response.
type Response struct {
	URL    string
	Status int
	Header http.Header
	Body   []byte
}

type request struct {
	headers  map[string]string
	provider string
}

type RequestOption func(*request)

func WithHeader(key, value string) RequestOption {
	return func(r *request) { r.headers[key] = value }
}

// WithProvider names the upstream in rate-limit errors. Defaults to the family name.
func WithProvider(name string) RequestOption {
	return func(r *request) { r.provider = name }
}

// Fetch GETs url through the family's limiter. Transport failures and 502/503/504
// are retried with exponential backoff; 429 and other statuses are returned at once.
func (f *Fetcher) Fetch(ctx context.Context, familyName, url string, opts ...RequestOption) (*Response, error) {
	req := &request{headers: map[string]string{}, provider: familyName}
	for _, opt := range opts {
		opt(req)
	}
	fam := f.family(familyName)

	ctx, span := otel.Tracer("ownership-lens/httpclient").Start(ctx, "fetch "+familyName)
	defer span.End()
	span.SetAttributes(attribute.String("http.url", url))

	attempts := 0
	var out *Response
	op := func() error {
		attempts++
		if err := fam.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		fam.requests.Add(1)
		fam.last.Store(time.Now().UnixNano())

		resp, err := f.do(ctx, url, req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		switch {
		case resp.Status >= 200 && resp.Status < 300:
			out = resp
			return nil
		case resp.Status == http.StatusTooManyRequests:
			return backoff.Permanent(&errs.RateLimitError{
				Provider:   req.provider,
				RetryAfter: retryAfter(resp.Header.Get("Retry-After")),
			})
		case resp.Status == http.StatusBadGateway, resp.Status == http.StatusServiceUnavailable, resp.Status == http.StatusGatewayTimeout:
			return &errs.HTTPError{URL: url, Status: resp.Status, Body: snippet(resp.Body)}
		default:
			return backoff.Permanent(&errs.HTTPError{URL: url, Status: resp.Status, Body: snippet(resp.Body)})
		}
	}

	b := backoff.WithContext(backoff.WithMaxRetries(f.newBackOff(), uint64(f.maxRetries)), ctx)
	err := backoff.RetryNotify(op, b, func(err error, wait time.Duration) {
		log.Debug().Str("family", familyName).Str("url", url).Int("attempt", attempts).Dur("wait", wait).Err(err).Msg("retrying request")
	})
	span.SetAttributes(attribute.Int("http.attempts", attempts))
	if err == nil {
		span.SetAttributes(attribute.Int("http.status_code", out.Status))
		return out, nil
	}

	fam.failures.Add(1)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	var he *errs.HTTPError
	var rl *errs.RateLimitError
	switch {
	case errors.As(err, &he), errors.As(err, &rl):
		return nil, err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, err
	}
	return nil, &errs.NetworkError{URL: url, Attempts: attempts, Err: err}
}

// FetchJSON fetches url and decodes the body into v.
func (f *Fetcher) FetchJSON(ctx context.Context, familyName, url string, v interface{}, opts ...RequestOption) error {
	resp, err := f.Fetch(ctx, familyName, url, opts...)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return &errs.ParseError{Source: url, Err: err}
	}
	return nil
}

func (f *Fetcher) do(ctx context.Context, url string, r *request) (*Response, error) {
	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	if f.userAgent != "" {
		hreq.Header.Set("User-Agent", f.userAgent)
	}
	for k, v := range r.headers {
		hreq.Header.Set(k, v)
	}
	resp, err := f.client.Do(hreq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return &Response{URL: url, Status: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

func (f *Fetcher) newBackOff() backoff.BackOff {
	return backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(f.baseDelay),
		backoff.WithRandomizationFactor(0),
		backoff.WithMultiplier(2),
		backoff.WithMaxInterval(time.Minute),
		backoff.WithMaxElapsedTime(0),
	)
}

// Stats reports request counters for every family seen so far.
func (f *Fetcher) Stats() []models.FamilyUsage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.FamilyUsage, 0, len(f.families))
	for _, fam := range f.families {
		u := models.FamilyUsage{
			Family:      fam.name,
			MinInterval: fam.interval.String(),
			Requests:    fam.requests.Load(),
			Failures:    fam.failures.Load(),
		}
		if ns := fam.last.Load(); ns > 0 {
			t := time.Unix(0, ns).UTC()
			u.LastRequest = &t
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Family < out[j].Family })
	return out
}

func retryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func snippet(b []byte) string {
	if len(b) > 200 {
		return string(b[:200])
	}
	return string(b)
}
