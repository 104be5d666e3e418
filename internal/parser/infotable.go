package parser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/antchfx/xmlquery"

	"github.com/bighogz/ownership-lens/internal/models"
)

var issuerSuffixes = map[string]bool{
	"INC": true, "INCORPORATED": true, "CORP": true, "CORPORATION": true, "CO": true,
	"COMPANY": true, "LTD": true, "LIMITED": true, "PLC": true, "LLC": true, "LP": true,
	"THE": true, "NEW": true, "DEL": true, "COM": true, "CL": true, "CLASS": true,
	"A": true, "B": true, "SA": true, "NV": true, "AG": true, "HLDGS": true, "HOLDINGS": true,
}

var nonAlnum = regexp.MustCompile(`[^A-Z0-9 ]+`)

// NormalizeIssuer reduces an issuer name to comparable tokens:
// "Apple Inc." and "APPLE INC" both become "APPLE".
func NormalizeIssuer(name string) string {
	up := nonAlnum.ReplaceAllString(strings.ToUpper(name), " ")
	kept := make([]string, 0)
	for _, tok := range strings.Fields(up) {
		if !issuerSuffixes[tok] {
			kept = append(kept, tok)
		}
	}
	return strings.Join(kept, " ")
}

// ParseInfoTable sums the common-share positions a 13F-HR information table
// reports for issuer. Option rows and principal-amount rows are ignored. It
// returns nil when the manager holds no matching shares.
func ParseInfoTable(raw []byte, fc FilingContext, manager, issuer string) (out *models.HolderRecord) {
	defer guard(fc)

	doc, err := parseXML(raw)
	if err != nil {
		logParseError(fc, err)
		return nil
	}
	rows := xmlquery.Find(doc, "//"+localPath("infoTable"))
	if len(rows) == 0 {
		logParseError(fc, fmt.Errorf("no infoTable rows"))
		return nil
	}
	target := NormalizeIssuer(issuer)
	if target == "" {
		return nil
	}
	var total float64
	for _, row := range rows {
		if NormalizeIssuer(rowText(row, "nameOfIssuer")) != target {
			continue
		}
		if rowText(row, "putCall") != "" {
			continue
		}
		if t := strings.ToUpper(rowText(row, "shrsOrPrnAmt", "sshPrnamtType")); t != "" && t != "SH" {
			continue
		}
		if shares, ok := parseNumber(rowText(row, "shrsOrPrnAmt", "sshPrnamt")); ok && shares > 0 {
			total += shares
		}
	}
	if total == 0 {
		return nil
	}
	return &models.HolderRecord{
		Name:       strings.TrimSpace(manager),
		Shares:     total,
		FilingDate: normalizeDate(fc.FilingDate, ""),
		FormType:   fc.FormType,
		SourceURL:  fc.SourceURL,
	}
}

func rowText(row *xmlquery.Node, names ...string) string {
	if hit := xmlquery.FindOne(row, localPath(names...)); hit != nil {
		return strings.TrimSpace(hit.InnerText())
	}
	return ""
}
