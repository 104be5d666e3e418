package market

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/PaesslerAG/jsonpath"

	"github.com/bighogz/ownership-lens/internal/errs"
	"github.com/bighogz/ownership-lens/internal/models"
)

// Decode parses a provider body into the generic form jsonpath walks.
func Decode(source string, body []byte) (interface{}, error) {
	var v interface{}
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, &errs.ParseError{Source: source, Err: err}
	}
	return v, nil
}

// Lookup evaluates the first path that resolves to something non-null.
func Lookup(v interface{}, paths ...string) (interface{}, bool) {
	for _, p := range paths {
		got, err := jsonpath.Get(p, v)
		if err != nil || got == nil {
			continue
		}
		// filters and wildcards yield a list even for a single match
		if list, ok := got.([]interface{}); ok && strings.ContainsAny(p, "*?") {
			if len(list) == 0 {
				continue
			}
			got = list[0]
		}
		return got, true
	}
	return nil, false
}

// Number reads a numeric field that providers may encode as a number, a
// numeric string or a placeholder such as "NA".
func Number(v interface{}, paths ...string) (float64, bool) {
	for _, p := range paths {
		got, ok := Lookup(v, p)
		if !ok {
			continue
		}
		switch x := got.(type) {
		case float64:
			return x, true
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

// String reads a string field, accepting numbers as their decimal text.
func String(v interface{}, paths ...string) string {
	for _, p := range paths {
		got, ok := Lookup(v, p)
		if !ok {
			continue
		}
		switch x := got.(type) {
		case string:
			if s := strings.TrimSpace(x); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(x, 'f', -1, 64)
		}
	}
	return ""
}

// Rows returns the first path that resolves to a list.
func Rows(v interface{}, paths ...string) []interface{} {
	for _, p := range paths {
		got, err := jsonpath.Get(p, v)
		if err != nil {
			continue
		}
		if list, ok := got.([]interface{}); ok {
			return list
		}
	}
	return nil
}

// LastN sorts bars by date ascending and keeps the newest n.
func LastN(bars []models.OHLCV, n int) []models.OHLCV {
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Date < bars[j].Date })
	if n > 0 && len(bars) > n {
		bars = bars[len(bars)-n:]
	}
	return bars
}
