package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bighogz/ownership-lens/internal/models"
)

var form4Ctx = FilingContext{
	FormType:    "4",
	FilingDate:  "2024-05-01",
	AccessionID: "0000320193-24-000010",
	SourceURL:   "https://www.sec.gov/Archives/edgar/data/320193/000032019324000010/wk-form4_1.xml",
}

const canonicalForm4 = `<?xml version="1.0"?>
<ownershipDocument>
  <schemaVersion>X0508</schemaVersion>
  <documentType>4</documentType>
  <reportingOwner>
    <reportingOwnerId>
      <rptOwnerCik>0001214156</rptOwnerCik>
      <rptOwnerName>COOK TIMOTHY D</rptOwnerName>
    </reportingOwnerId>
    <reportingOwnerRelationship>
      <isDirector>1</isDirector>
      <isOfficer>1</isOfficer>
      <officerTitle>Chief Executive Officer</officerTitle>
    </reportingOwnerRelationship>
  </reportingOwner>
  <nonDerivativeTable>
    <nonDerivativeTransaction>
      <securityTitle><value>Common Stock</value></securityTitle>
      <transactionDate><value>2024-04-29</value></transactionDate>
      <transactionCoding><transactionFormType>4</transactionFormType><transactionCode>M</transactionCode></transactionCoding>
      <transactionAmounts>
        <transactionShares><value>100</value></transactionShares>
        <transactionPricePerShare><value>10.50</value></transactionPricePerShare>
        <transactionAcquiredDisposedCode><value>A</value></transactionAcquiredDisposedCode>
      </transactionAmounts>
    </nonDerivativeTransaction>
    <nonDerivativeTransaction>
      <securityTitle><value>Common Stock</value></securityTitle>
      <transactionDate><value>2024-04-30-05:00</value></transactionDate>
      <transactionCoding><transactionCode>S</transactionCode></transactionCoding>
      <transactionAmounts>
        <transactionShares><value>40</value></transactionShares>
        <transactionPricePerShare><value>170.25</value></transactionPricePerShare>
        <transactionAcquiredDisposedCode><value>D</value></transactionAcquiredDisposedCode>
      </transactionAmounts>
    </nonDerivativeTransaction>
    <nonDerivativeTransaction>
      <securityTitle><value>Common Stock</value></securityTitle>
      <transactionDate><value>2024-04-30</value></transactionDate>
      <transactionCoding><transactionCode>G</transactionCode></transactionCoding>
      <transactionAmounts>
        <transactionShares><value>0</value></transactionShares>
        <transactionAcquiredDisposedCode><value>D</value></transactionAcquiredDisposedCode>
      </transactionAmounts>
    </nonDerivativeTransaction>
  </nonDerivativeTable>
  <derivativeTable>
    <derivativeTransaction>
      <securityTitle><value>Restricted Stock Unit</value></securityTitle>
      <transactionAmounts>
        <transactionShares><value>100</value></transactionShares>
        <transactionAcquiredDisposedCode><value>D</value></transactionAcquiredDisposedCode>
      </transactionAmounts>
    </derivativeTransaction>
  </derivativeTable>
</ownershipDocument>`

func TestParseCanonicalForm4(t *testing.T) {
	txs := ParseTransactions([]byte(canonicalForm4), form4Ctx)
	require.Len(t, txs, 2)

	buy := txs[0]
	assert.Equal(t, models.KindBuy, buy.Kind)
	assert.Equal(t, 100.0, buy.Shares)
	assert.Equal(t, "COOK TIMOTHY D", buy.PartyName)
	assert.Equal(t, "2024-04-29", buy.Date)
	require.NotNil(t, buy.PricePerShare)
	assert.Equal(t, 10.5, *buy.PricePerShare)
	require.NotNil(t, buy.PartyRole)
	assert.Equal(t, "Chief Executive Officer, Director", *buy.PartyRole)
	require.NotNil(t, buy.TransactionCode)
	assert.Equal(t, "M", *buy.TransactionCode)
	assert.Equal(t, form4Ctx.SourceURL, buy.SourceURL)

	sell := txs[1]
	assert.Equal(t, models.KindSell, sell.Kind)
	assert.Equal(t, 40.0, sell.Shares)
	assert.Equal(t, "2024-04-30", sell.Date)

	s := models.Summarize(txs)
	assert.Equal(t, 60.0, s.NetShares)
}

const legacyForm4 = `<?xml version="1.0"?>
<ownershipDocument>
  <reportingOwner><rptOwnerName>DOE JANE</rptOwnerName></reportingOwner>
  <nonDerivativeTransaction>
    <securityTitle>Common Stock</securityTitle>
    <transactionDate>2003-07-15</transactionDate>
    <transactionCode>P</transactionCode>
    <transactionShares>1,250</transactionShares>
    <transactionPricePerShare>$12.00</transactionPricePerShare>
  </nonDerivativeTransaction>
  <nonDerivativeTransaction>
    <details>
      <transactionCode>S</transactionCode>
      <amounts><transactionShares>300</transactionShares></amounts>
    </details>
  </nonDerivativeTransaction>
  <nonDerivativeTransaction>
    <transactionCode>S</transactionCode>
    <transactionShares>NaN</transactionShares>
  </nonDerivativeTransaction>
</ownershipDocument>`

func TestParseLegacyScalarForm4(t *testing.T) {
	txs := ParseTransactions([]byte(legacyForm4), form4Ctx)
	require.Len(t, txs, 2)
	assert.Equal(t, "DOE JANE", txs[0].PartyName)
	assert.Equal(t, models.KindBuy, txs[0].Kind)
	assert.Equal(t, 1250.0, txs[0].Shares)
	require.NotNil(t, txs[0].PricePerShare)
	assert.Equal(t, 12.0, *txs[0].PricePerShare)

	assert.Equal(t, models.KindSell, txs[1].Kind)
	assert.Equal(t, 300.0, txs[1].Shares)
	assert.Equal(t, "2024-05-01", txs[1].Date, "missing transaction date falls back to the filing date")
}

func TestParseFullSubmissionWrapper(t *testing.T) {
	sgml := "<SEC-DOCUMENT>0000320193-24-000010.txt : 20240501\n<DOCUMENT>\n<TYPE>4\n<TEXT>\n<XML>\n" +
		canonicalForm4[len(`<?xml version="1.0"?>`)+1:] +
		"\n</XML>\n</TEXT>\n</DOCUMENT>\n</SEC-DOCUMENT>"
	txs := ParseTransactions([]byte(sgml), form4Ctx)
	assert.Len(t, txs, 2)
}

func TestParseTransactionsNeverPanics(t *testing.T) {
	inputs := []string{
		"",
		"not xml at all",
		"<ownershipDocument><nonDerivativeTable>",
		"<html><body>rendered form</body></html>",
		"<ownershipDocument><nonDerivativeTable><nonDerivativeTransaction><transactionAmounts><transactionShares><value>abc</value></transactionShares></transactionAmounts></nonDerivativeTransaction></nonDerivativeTable></ownershipDocument>",
	}
	for _, in := range inputs {
		assert.NotPanics(t, func() {
			assert.Empty(t, ParseTransactions([]byte(in), form4Ctx))
		})
	}
}

func TestParseForm3HoldingsOnly(t *testing.T) {
	doc := `<ownershipDocument><documentType>3</documentType>
		<reportingOwner><reportingOwnerId><rptOwnerName>NEW DIRECTOR</rptOwnerName></reportingOwnerId></reportingOwner>
		<nonDerivativeTable><nonDerivativeHolding>
			<securityTitle><value>Common Stock</value></securityTitle>
			<postTransactionAmounts><sharesOwnedFollowingTransaction><value>5000</value></sharesOwnedFollowingTransaction></postTransactionAmounts>
		</nonDerivativeHolding></nonDerivativeTable></ownershipDocument>`
	assert.Empty(t, ParseTransactions([]byte(doc), FilingContext{FormType: "3"}))
}

func TestClassify(t *testing.T) {
	cases := []struct {
		ad, code string
		want     models.TransactionKind
	}{
		{"A", "S", models.KindBuy},
		{"D", "P", models.KindSell},
		{"", "P", models.KindBuy},
		{"", "s", models.KindSell},
		{"", "M", models.KindOther},
		{"X", "", models.KindOther},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.ad, tc.code), "ad=%q code=%q", tc.ad, tc.code)
	}
}

func TestPlaceholder(t *testing.T) {
	p := Placeholder(form4Ctx)
	assert.Equal(t, models.KindOther, p.Kind)
	assert.Equal(t, 0.0, p.Shares)
	assert.Equal(t, "2024-05-01", p.Date)
	require.NotNil(t, p.Note)
	assert.Equal(t, "details unavailable", *p.Note)
	assert.Equal(t, form4Ctx.SourceURL, p.SourceURL)
}

func TestExtractXML(t *testing.T) {
	assert.Equal(t, "<a/>", string(ExtractXML([]byte("junk<XML>\n<a/>\n</XML>junk"))))
	assert.Equal(t, "<a/>", string(ExtractXML([]byte("\xef\xbb\xbf <a/> "))))
}
