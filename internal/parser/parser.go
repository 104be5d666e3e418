// Package parser turns EDGAR ownership documents into typed records. Every
// entry point is total: malformed input yields an empty result and a logged
// ParseError, never a panic or an error return.
package parser

import (
	"bytes"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/phuslu/log"

	"github.com/bighogz/ownership-lens/internal/errs"
	"github.com/bighogz/ownership-lens/internal/models"
)

// FilingContext carries the index metadata of the document being parsed.
type FilingContext struct {
	FormType    string
	FilingDate  string
	AccessionID string
	SourceURL   string
}

func logParseError(fc FilingContext, err error) {
	pe := &errs.ParseError{Source: fc.SourceURL, Err: err}
	log.Warn().Str("form", fc.FormType).Str("accession", fc.AccessionID).Err(pe).Msg("document not parsed")
}

// guard converts a panic inside a parser into a logged ParseError.
func guard(fc FilingContext) {
	if r := recover(); r != nil {
		logParseError(fc, fmt.Errorf("panic: %v", r))
	}
}

var xmlBlock = regexp.MustCompile(`(?is)<XML>\s*(.*?)\s*</XML>`)

// ExtractXML returns the XML payload of raw. Full-submission SGML files wrap it
// in <XML> blocks; plain XML is returned unchanged.
func ExtractXML(raw []byte) []byte {
	raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))
	if m := xmlBlock.FindSubmatch(raw); m != nil {
		return m[1]
	}
	return bytes.TrimSpace(raw)
}

func parseXML(raw []byte) (*xmlquery.Node, error) {
	body := ExtractXML(raw)
	if len(body) == 0 || body[0] != '<' {
		return nil, fmt.Errorf("no xml payload")
	}
	doc, err := xmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// field returns the text of the first path that yields a non-empty value.
// Each path is tried with a <value> wrapper first, then as a scalar.
func field(n *xmlquery.Node, paths ...string) string {
	for _, p := range paths {
		for _, candidate := range []string{p + "/value", p} {
			if hit := xmlquery.FindOne(n, candidate); hit != nil {
				if s := strings.TrimSpace(hit.InnerText()); s != "" {
					return s
				}
			}
		}
	}
	return ""
}

// localPath builds a namespace-agnostic relative path from element names.
func localPath(names ...string) string {
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = fmt.Sprintf("*[local-name()='%s']", n)
	}
	return strings.Join(parts, "/")
}

// anywhere finds the first non-empty element with any of the local names.
func anywhere(n *xmlquery.Node, names ...string) string {
	for _, name := range names {
		if hit := xmlquery.FindOne(n, "//"+localPath(name)); hit != nil {
			if s := strings.TrimSpace(hit.InnerText()); s != "" {
				return s
			}
		}
	}
	return ""
}

var numberJunk = strings.NewReplacer(",", "", "$", "", "%", "", " ", "")

// parseNumber reads a finite number, tolerating thousands separators.
func parseNumber(s string) (float64, bool) {
	s = numberJunk.Replace(strings.TrimSpace(s))
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func normalizeDate(s, fallback string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 10 {
		return s[:10]
	}
	if s == "" {
		return fallback
	}
	return s
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Classify maps the acquired/disposed code and the transaction code onto a
// direction. The acquired/disposed code wins when present.
func Classify(acquiredDisposed, code string) models.TransactionKind {
	switch strings.ToUpper(strings.TrimSpace(acquiredDisposed)) {
	case "A":
		return models.KindBuy
	case "D":
		return models.KindSell
	}
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "P":
		return models.KindBuy
	case "S":
		return models.KindSell
	}
	return models.KindOther
}

// Placeholder is the record callers substitute for a filing whose details
// could not be extracted.
func Placeholder(fc FilingContext) models.TransactionRecord {
	note := "details unavailable"
	return models.TransactionRecord{
		Date:      normalizeDate(fc.FilingDate, ""),
		PartyName: "Unknown",
		FormType:  fc.FormType,
		Kind:      models.KindOther,
		SourceURL: fc.SourceURL,
		Note:      &note,
	}
}
