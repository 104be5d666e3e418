package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"not found", &NotFoundError{Kind: "symbol", Key: "ZZZZ"}, ClassNotFound},
		{"http 404", &HTTPError{URL: "u", Status: 404}, ClassNotFound},
		{"wrapped not found", fmt.Errorf("resolve: %w", &NotFoundError{Kind: "symbol", Key: "X"}), ClassNotFound},
		{"rate limit", &RateLimitError{Provider: "fmp"}, ClassRateLimited},
		{"network", &NetworkError{URL: "u", Attempts: 4, Err: errors.New("reset")}, ClassUnavailable},
		{"http 503", &HTTPError{URL: "u", Status: 503}, ClassUnavailable},
		{"all failed", &AllProvidersFailedError{Symbol: "AAPL"}, ClassUnavailable},
		{"other", errors.New("boom"), ClassInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
	assert.Equal(t, "", Classify(nil))
}

func TestReason(t *testing.T) {
	assert.Equal(t, "rate_limit", Reason(&RateLimitError{Provider: "fmp"}))
	assert.Equal(t, "not_found", Reason(&NotFoundError{Kind: "quote", Key: "X"}))
	assert.Equal(t, "network", Reason(&NetworkError{Err: errors.New("dial")}))
	assert.Equal(t, "http", Reason(&HTTPError{Status: 500}))
	assert.Equal(t, "invalid", Reason(&ParseError{Source: "fmp", Err: errors.New("no price")}))
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, StatusCode(&InvalidInputError{Field: "days", Reason: "must be positive"}))
	assert.Equal(t, http.StatusNotFound, StatusCode(&NotFoundError{Kind: "symbol", Key: "X"}))
	assert.Equal(t, http.StatusServiceUnavailable, StatusCode(&AllProvidersFailedError{Symbol: "X"}))
	assert.Equal(t, http.StatusTooManyRequests, StatusCode(&RateLimitError{Provider: "edgar"}))
	assert.Equal(t, http.StatusInternalServerError, StatusCode(errors.New("x")))
}

func TestAllProvidersFailedMessage(t *testing.T) {
	err := &AllProvidersFailedError{Symbol: "AAPL", Failures: []ProviderFailure{
		{Provider: "fmp", Reason: "rate_limit"},
		{Provider: "yahoo", Reason: "network"},
	}}
	assert.Contains(t, err.Error(), "fmp: rate_limit; yahoo: network")
}

func TestDescribe(t *testing.T) {
	f := Describe("ownership for ZZZZ", &NotFoundError{Kind: "symbol", Key: "ZZZZ"})
	assert.Equal(t, ClassNotFound, f.Class)
	assert.Contains(t, f.Message, "unable to retrieve ownership for ZZZZ")
}
