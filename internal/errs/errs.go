// Package errs defines the failure taxonomy shared by fetchers, resolvers,
// providers and the lookup facade.
package errs

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// NetworkError is a transport failure that survived every retry.
type NetworkError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error fetching %s after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// HTTPError is a non-success status from an upstream.
type HTTPError struct {
	URL    string
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("http %d from %s: %s", e.Status, e.URL, e.Body)
	}
	return fmt.Sprintf("http %d from %s", e.Status, e.URL)
}

// RateLimitError means the upstream (or our own quota bookkeeping) refused the call.
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: rate limited, retry after %s", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("%s: rate limited", e.Provider)
}

// NotFoundError is returned for unknown symbols, filers and documents.
type NotFoundError struct {
	Kind string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Key)
}

// ParseError records a document that could not be interpreted. Parsers log it
// and return empty results; it never reaches callers of the lookup facade.
type ParseError struct {
	Source string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// InvalidInputError rejects a request before any upstream is contacted.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ProviderFailure is one entry of an AllProvidersFailedError.
type ProviderFailure struct {
	Provider string `json:"provider"`
	Reason   string `json:"reason"`
	Err      string `json:"error"`
}

// AllProvidersFailedError is returned when every market-data provider in the chain failed.
type AllProvidersFailedError struct {
	Symbol   string
	Failures []ProviderFailure
}

func (e *AllProvidersFailedError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.Provider+": "+f.Reason)
	}
	return fmt.Sprintf("all providers failed for %s (%s)", e.Symbol, strings.Join(parts, "; "))
}

// IsNotFound reports whether err means the requested entity does not exist.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return true
	}
	var he *HTTPError
	return errors.As(err, &he) && he.Status == http.StatusNotFound
}

// IsRateLimited reports whether err carries a RateLimitError.
func IsRateLimited(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

const (
	ClassNotFound    = "not_found"
	ClassRateLimited = "rate_limited"
	ClassUnavailable = "upstream_unavailable"
	ClassInternal    = "internal"
	ClassInvalid     = "invalid_input"
)

// Classify maps an error onto the coarse classes exposed to callers.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	var ne *NetworkError
	var he *HTTPError
	var ap *AllProvidersFailedError
	var ii *InvalidInputError
	switch {
	case errors.As(err, &ii):
		return ClassInvalid
	case IsNotFound(err):
		return ClassNotFound
	case errors.As(err, &ap):
		return ClassUnavailable
	case IsRateLimited(err):
		return ClassRateLimited
	case errors.As(err, &ne), errors.As(err, &he):
		return ClassUnavailable
	}
	return ClassInternal
}

// Reason is the short label used when logging provider failures.
func Reason(err error) string {
	var ne *NetworkError
	var he *HTTPError
	var pe *ParseError
	switch {
	case IsRateLimited(err):
		return "rate_limit"
	case IsNotFound(err):
		return "not_found"
	case errors.As(err, &ne):
		return "network"
	case errors.As(err, &he):
		return "http"
	case errors.As(err, &pe):
		return "invalid"
	}
	return "error"
}

// Failure is the structured "unable to retrieve" result handed to callers.
type Failure struct {
	What    string `json:"what"`
	Class   string `json:"class"`
	Message string `json:"message"`
}

func Describe(what string, err error) Failure {
	return Failure{
		What:    what,
		Class:   Classify(err),
		Message: fmt.Sprintf("unable to retrieve %s: %v", what, err),
	}
}

// StatusCode maps an error class onto an HTTP status.
func StatusCode(err error) int {
	switch Classify(err) {
	case ClassNotFound:
		return http.StatusNotFound
	case ClassRateLimited:
		return http.StatusTooManyRequests
	case ClassUnavailable:
		return http.StatusServiceUnavailable
	case ClassInvalid:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
