package httpclient

import (
	"errors"
	"net/http"
	"time"
)

// DefaultTimeout bounds one upstream attempt; retries get their own.
const DefaultTimeout = 30 * time.Second

const maxRedirects = 5

// NewClient returns an HTTP client tuned for the handful of hosts the fetcher
// talks to: EDGAR plus the market-data providers.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			ForceAttemptHTTP2:   true,
			MaxIdleConns:        32,
			MaxIdleConnsPerHost: 8,
			MaxConnsPerHost:     16,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return errors.New("too many redirects")
			}
			return nil
		},
	}
}
