package parser

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/xmlquery"

	"github.com/bighogz/ownership-lens/internal/models"
)

// Candidate element names across Schedule 13D/G XML vintages.
var (
	holderNameTags  = []string{"reportingPersonName", "nameOfReportingPerson", "reportingPersonNameOrId", "filerName", "rptOwnerName"}
	holderShareTags = []string{
		"aggregateAmountOwned", "reportingPersonBeneficiallyOwnedAggregateNumberOfShares",
		"aggregateAmountBeneficiallyOwned", "amountBeneficiallyOwned",
	}
	holderPercentTags = []string{"percentOfClass", "classPercent", "percentOfClassRepresented"}
	holderPurposeTags = []string{"purposeOfTransaction", "transactionPurpose"}
)

var (
	reAggregate = regexp.MustCompile(`(?is)aggregate\s+amount\s+beneficially\s+owned\s+by\s+each\s+reporting\s+person[^0-9]{0,80}?(\d[\d,]*)`)
	rePercent   = regexp.MustCompile(`(?is)percent\s+of\s+class\s+represented\s+by\s+amount\s+in\s+row\s*\(?\d+\)?[^0-9]{0,80}?(\d+(?:\.\d+)?)\s*%`)
	rePurpose   = regexp.MustCompile(`(?i)purpose\s+of\s+(?:the\s+)?transaction\.?\s*:?\s*(.+)`)
	reNameLabel = regexp.MustCompile(`(?i)names?\s+of\s+reporting\s+persons?\.?`)
	reIRSLine   = regexp.MustCompile(`(?i)^(i\.?r\.?s\.?|s\.?s\.?\s+or|identification|\(entities only\)|\d+\.?$)`)
)

// ParseBeneficialOwner extracts the reporting holder from a Schedule 13D/13G
// filing. It returns nil when no name or share count can be found.
func ParseBeneficialOwner(raw []byte, fc FilingContext) (out *models.HolderRecord) {
	defer guard(fc)

	if doc, err := parseXML(raw); err == nil {
		if h := beneficialFromXML(doc, fc); h != nil {
			return h
		}
	}
	h, err := beneficialFromText(raw, fc)
	if err != nil {
		logParseError(fc, err)
		return nil
	}
	return h
}

func beneficialFromXML(doc *xmlquery.Node, fc FilingContext) *models.HolderRecord {
	name := anywhere(doc, holderNameTags...)
	shares, ok := parseNumber(anywhere(doc, holderShareTags...))
	if name == "" || !ok || shares <= 0 {
		return nil
	}
	h := &models.HolderRecord{
		Name:       name,
		Shares:     shares,
		FilingDate: normalizeDate(fc.FilingDate, ""),
		FormType:   fc.FormType,
		Purpose:    optional(anywhere(doc, holderPurposeTags...)),
		SourceURL:  fc.SourceURL,
	}
	if pct, ok := parseNumber(anywhere(doc, holderPercentTags...)); ok && pct >= 0 && pct <= 100 {
		h.PercentOwnership = &pct
	}
	return h
}

// documentLines renders an HTML or plain-text filing into trimmed, non-empty lines.
func documentLines(raw []byte) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	doc.Find("script, style").Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("p, div, tr, td, th, li, h1, h2, h3, h4, h5, h6").AppendHtml("\n")
	text := strings.ReplaceAll(doc.Text(), "\u00a0", " ")
	lines := make([]string, 0)
	for _, l := range strings.Split(text, "\n") {
		if l = strings.Join(strings.Fields(l), " "); l != "" {
			lines = append(lines, l)
		}
	}
	return lines, nil
}

func beneficialFromText(raw []byte, fc FilingContext) (*models.HolderRecord, error) {
	lines, err := documentLines(raw)
	if err != nil {
		return nil, err
	}
	joined := strings.Join(lines, "\n")

	name := holderNameFromLines(lines)
	m := reAggregate.FindStringSubmatch(joined)
	if name == "" || m == nil {
		return nil, fmt.Errorf("no reporting person or aggregate amount found")
	}
	shares, ok := parseNumber(m[1])
	if !ok || shares <= 0 {
		return nil, fmt.Errorf("aggregate amount %q is not a share count", m[1])
	}
	h := &models.HolderRecord{
		Name:       name,
		Shares:     shares,
		FilingDate: normalizeDate(fc.FilingDate, ""),
		FormType:   fc.FormType,
		SourceURL:  fc.SourceURL,
	}
	if pm := rePercent.FindStringSubmatch(joined); pm != nil {
		if pct, ok := parseNumber(pm[1]); ok && pct <= 100 {
			h.PercentOwnership = &pct
		}
	}
	if pm := rePurpose.FindStringSubmatch(joined); pm != nil {
		h.Purpose = optional(strings.TrimSpace(pm[1]))
	}
	return h, nil
}

// holderNameFromLines takes the text after the first "Name of Reporting Person"
// label, skipping tax-id boilerplate and row numbers.
func holderNameFromLines(lines []string) string {
	for i, l := range lines {
		loc := reNameLabel.FindStringIndex(l)
		if loc == nil {
			continue
		}
		if rest := cleanName(l[loc[1]:]); rest != "" {
			return rest
		}
		for j := i + 1; j < len(lines) && j <= i+4; j++ {
			if reIRSLine.MatchString(lines[j]) {
				continue
			}
			if name := cleanName(lines[j]); name != "" {
				return name
			}
		}
	}
	return ""
}

func cleanName(s string) string {
	s = strings.TrimRight(strings.TrimLeft(s, ":.- \t"), ":- \t")
	if idx := reIRSLine.FindStringIndex(s); idx != nil && idx[0] == 0 {
		return ""
	}
	if i := strings.Index(strings.ToUpper(s), "I.R.S."); i > 0 {
		s = strings.TrimSpace(s[:i])
	}
	if len(s) < 2 || !strings.ContainsAny(strings.ToUpper(s), "ABCDEFGHIJKLMNOPQRSTUVWXYZ") {
		return ""
	}
	return s
}
