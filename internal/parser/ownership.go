package parser

import (
	"fmt"
	"strings"

	"github.com/antchfx/xmlquery"

	"github.com/bighogz/ownership-lens/internal/models"
)

// ownershipShape is one known layout of a Form 3/4/5 document.
type ownershipShape struct {
	name         string
	match        func(doc *xmlquery.Node) bool
	transactions []string
	owner        []string
	shares       []string
	price        []string
	adCode       []string
	code         []string
	date         []string
	security     []string
}

var ownershipShapes = []ownershipShape{
	{
		name: "ownershipDocument",
		match: func(doc *xmlquery.Node) bool {
			return xmlquery.FindOne(doc, "/ownershipDocument") != nil &&
				xmlquery.FindOne(doc, "//transactionAmounts/transactionShares/value") != nil
		},
		transactions: []string{"//nonDerivativeTable/nonDerivativeTransaction"},
		owner:        []string{"//reportingOwner/reportingOwnerId/rptOwnerName"},
		shares:       []string{"transactionAmounts/transactionShares"},
		price:        []string{"transactionAmounts/transactionPricePerShare"},
		adCode:       []string{"transactionAmounts/transactionAcquiredDisposedCode"},
		code:         []string{"transactionCoding/transactionCode"},
		date:         []string{"transactionDate"},
		security:     []string{"securityTitle"},
	},
	{
		name: "legacy",
		match: func(doc *xmlquery.Node) bool {
			return xmlquery.FindOne(doc, "//nonDerivativeTransaction|//transaction") != nil
		},
		transactions: []string{"//nonDerivativeTransaction", "//transaction"},
		owner:        []string{"//reportingOwner//rptOwnerName", "//rptOwnerName", "//reportingOwnerName", "//ownerName"},
		shares: []string{
			"transactionShares", "transactionAmounts/transactionShares", "amounts/shares", "shares",
			".//transactionShares",
		},
		price: []string{
			"transactionPricePerShare", "transactionAmounts/transactionPricePerShare", "pricePerShare", "price",
			".//transactionPricePerShare",
		},
		adCode: []string{
			"transactionAcquiredDisposedCode", "transactionAmounts/transactionAcquiredDisposedCode",
			"acquiredDisposedCode", "acquiredDisposed", ".//transactionAcquiredDisposedCode",
		},
		code:     []string{"transactionCoding/transactionCode", "transactionCode", "code", ".//transactionCode"},
		date:     []string{"transactionDate", "date", ".//transactionDate"},
		security: []string{"securityTitle", "security", ".//securityTitle"},
	},
}

// ParseTransactions extracts insider transactions from a Form 3/4/5 document.
// Records with zero or non-finite share counts are dropped.
func ParseTransactions(raw []byte, fc FilingContext) (out []models.TransactionRecord) {
	defer guard(fc)

	doc, err := parseXML(raw)
	if err != nil {
		logParseError(fc, err)
		return nil
	}
	for _, shape := range ownershipShapes {
		if !shape.match(doc) {
			continue
		}
		return shape.extract(doc, fc)
	}
	if xmlquery.FindOne(doc, "//ownershipDocument") == nil {
		logParseError(fc, fmt.Errorf("unrecognised ownership layout"))
	}
	return nil
}

func (s ownershipShape) extract(doc *xmlquery.Node, fc FilingContext) []models.TransactionRecord {
	owner := "Unknown"
	for _, p := range s.owner {
		if hit := xmlquery.FindOne(doc, p); hit != nil {
			if name := strings.TrimSpace(hit.InnerText()); name != "" {
				owner = name
				break
			}
		}
	}
	role := ownerRole(doc)

	out := make([]models.TransactionRecord, 0)
	for _, path := range s.transactions {
		for _, tx := range xmlquery.Find(doc, path) {
			shares, ok := parseNumber(field(tx, s.shares...))
			if !ok || shares == 0 {
				continue
			}
			if shares < 0 {
				shares = -shares
			}
			code := field(tx, s.code...)
			rec := models.TransactionRecord{
				Date:            normalizeDate(field(tx, s.date...), normalizeDate(fc.FilingDate, "")),
				PartyName:       owner,
				PartyRole:       role,
				FormType:        fc.FormType,
				TransactionCode: optional(code),
				Kind:            Classify(field(tx, s.adCode...), code),
				Shares:          shares,
				SecurityTitle:   optional(field(tx, s.security...)),
				SourceURL:       fc.SourceURL,
			}
			if price, ok := parseNumber(field(tx, s.price...)); ok && price > 0 {
				rec.PricePerShare = &price
			}
			out = append(out, rec)
		}
		// The legacy shape lists overlapping paths; stop at the first that yields rows.
		if s.name == "legacy" && len(out) > 0 {
			break
		}
	}
	return out
}

func ownerRole(doc *xmlquery.Node) *string {
	rel := xmlquery.FindOne(doc, "//reportingOwnerRelationship")
	if rel == nil {
		return nil
	}
	truthy := func(name string) bool {
		v := strings.ToLower(field(rel, name))
		return v == "1" || v == "true"
	}
	roles := make([]string, 0, 3)
	if truthy("isOfficer") {
		if title := field(rel, "officerTitle"); title != "" {
			roles = append(roles, title)
		} else {
			roles = append(roles, "Officer")
		}
	}
	if truthy("isDirector") {
		roles = append(roles, "Director")
	}
	if truthy("isTenPercentOwner") {
		roles = append(roles, "10% Owner")
	}
	if truthy("isOther") {
		if other := field(rel, "otherText"); other != "" {
			roles = append(roles, other)
		}
	}
	return optional(strings.Join(roles, ", "))
}
