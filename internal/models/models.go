package models

import "time"

// FilerIdentity maps a trading symbol onto its regulatory filer id (zero-padded CIK).
type FilerIdentity struct {
	Symbol       string `json:"symbol"`
	RegulatoryID string `json:"regulatory_id"`
	DisplayName  string `json:"display_name"`
}

type FilingRecord struct {
	FormType            string  `json:"form_type"`
	AccessionID         string  `json:"accession_id"`
	FilingDate          string  `json:"filing_date"`
	ReportDate          *string `json:"report_date,omitempty"`
	PrimaryDocumentPath string  `json:"primary_document_path"`
}

type TransactionKind string

const (
	KindBuy   TransactionKind = "buy"
	KindSell  TransactionKind = "sell"
	KindOther TransactionKind = "other"
)

type TransactionRecord struct {
	Date            string          `json:"date"`
	PartyName       string          `json:"party_name"`
	PartyRole       *string         `json:"party_role,omitempty"`
	FormType        string          `json:"form_type"`
	TransactionCode *string         `json:"transaction_code,omitempty"`
	Kind            TransactionKind `json:"kind"`
	Shares          float64         `json:"shares"`
	PricePerShare   *float64        `json:"price_per_share,omitempty"`
	SecurityTitle   *string         `json:"security_title,omitempty"`
	SourceURL       string          `json:"source_url"`
	Note            *string         `json:"note,omitempty"`
}

type TransactionSummary struct {
	TotalBuyShares  float64 `json:"total_buy_shares"`
	TotalSellShares float64 `json:"total_sell_shares"`
	NetShares       float64 `json:"net_shares"`
}

// Summarize totals buys and sells. Records of kind other do not contribute.
func Summarize(txs []TransactionRecord) TransactionSummary {
	var s TransactionSummary
	for _, tx := range txs {
		switch tx.Kind {
		case KindBuy:
			s.TotalBuyShares += tx.Shares
		case KindSell:
			s.TotalSellShares += tx.Shares
		}
	}
	s.NetShares = s.TotalBuyShares - s.TotalSellShares
	return s
}

// HolderRecord describes a beneficial (>5%) owner or an institutional holder.
type HolderRecord struct {
	Name             string   `json:"name"`
	Shares           float64  `json:"shares"`
	PercentOwnership *float64 `json:"percent_ownership,omitempty"`
	FilingDate       string   `json:"filing_date"`
	FormType         string   `json:"form_type"`
	Purpose          *string  `json:"purpose,omitempty"`
	SourceURL        string   `json:"source_url"`
}

type DataQuality string

const (
	QualityReported    DataQuality = "reported"
	QualityEstimated   DataQuality = "estimated"
	QualityUnavailable DataQuality = "unavailable"
)

type OwnershipBreakdown struct {
	InsiderShares        float64     `json:"insider_shares"`
	InsiderPercent       float64     `json:"insider_percent"`
	BeneficialShares     float64     `json:"beneficial_shares"`
	BeneficialPercent    float64     `json:"beneficial_percent"`
	InstitutionalShares  float64     `json:"institutional_shares"`
	InstitutionalPercent float64     `json:"institutional_percent"`
	PublicShares         float64     `json:"public_shares"`
	PublicPercent        float64     `json:"public_percent"`
	FloatShares          float64     `json:"float_shares"`
	TotalSharesEstimate  float64     `json:"total_shares_estimate"`
	EstimateMethod       string      `json:"estimate_method,omitempty"`
	DataQuality          DataQuality `json:"data_quality"`
}

type HolderType string

const (
	HolderInsider       HolderType = "insider"
	HolderBeneficial    HolderType = "beneficial"
	HolderInstitutional HolderType = "institutional"
)

type TopHolder struct {
	Name             string     `json:"name"`
	Shares           float64    `json:"shares"`
	PercentOwnership float64    `json:"percent_ownership"`
	Type             HolderType `json:"type"`
	Source           string     `json:"source"`
}

type InsiderReport struct {
	Ticker       string              `json:"ticker"`
	FilerID      string              `json:"filer_id"`
	CompanyName  string              `json:"company_name"`
	Summary      TransactionSummary  `json:"summary"`
	Transactions []TransactionRecord `json:"transactions"`
	Warnings     []string            `json:"warnings,omitempty"`
}

type DetailedOwnership struct {
	Ticker               string             `json:"ticker"`
	FilerID              string             `json:"filer_id"`
	CompanyName          string             `json:"company_name"`
	Breakdown            OwnershipBreakdown `json:"breakdown"`
	TopHolders           []TopHolder        `json:"top_holders"`
	BeneficialOwners     []HolderRecord     `json:"beneficial_owners"`
	InstitutionalHolders []HolderRecord     `json:"institutional_holders"`
	InsiderSummary       TransactionSummary `json:"insider_summary"`
	Warnings             []string           `json:"warnings,omitempty"`
	AsOf                 time.Time          `json:"as_of"`
}

type Quote struct {
	Symbol        string    `json:"symbol"`
	Price         float64   `json:"price"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"change_percent"`
	PreviousClose float64   `json:"previous_close,omitempty"`
	Volume        float64   `json:"volume,omitempty"`
	Provider      string    `json:"provider"`
	FetchedAt     time.Time `json:"fetched_at"`
}

type OHLCV struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

type PriceTrend struct {
	Symbol     string  `json:"symbol"`
	Price      float64 `json:"price"`
	QuarterPct float64 `json:"quarter_pct"`
	Slope      float64 `json:"slope"`
	SMA50      float64 `json:"sma_50,omitempty"`
	Points     int     `json:"points"`
	Provider   string  `json:"provider"`
}

type ProviderUsage struct {
	Name       string `json:"name"`
	Used       int    `json:"used"`
	DailyQuota int    `json:"daily_quota"`
	Remaining  int    `json:"remaining"`
	Exhausted  bool   `json:"exhausted"`
	Day        string `json:"day"`
}

type FamilyUsage struct {
	Family      string     `json:"family"`
	MinInterval string     `json:"min_interval"`
	Requests    int64      `json:"requests"`
	Failures    int64      `json:"failures"`
	LastRequest *time.Time `json:"last_request,omitempty"`
}

type RateLimitStatus struct {
	Providers []ProviderUsage `json:"providers"`
	Families  []FamilyUsage   `json:"families"`
}
