package aggregator

import (
	"math"
	"sort"
	"strings"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/bighogz/ownership-lens/internal/models"
)

const maxTopHolders = 20

type Aggregator struct {
	Estimator Estimator
}

// New returns an aggregator that back-solves the share count from beneficial
// filings and otherwise falls back to the known-fraction heuristic.
func New(knownFraction float64) *Aggregator {
	return &Aggregator{Estimator: Chain{BackSolve{}, KnownFraction{Fraction: knownFraction}}}
}

type partyNet struct {
	name   string
	shares float64
}

// Aggregate merges insider transactions, beneficial owners and institutional
// holders into a breakdown whose percentages stay within [0, 100] and sum to
// at most 100, plus the largest holders across all three categories.
func (a *Aggregator) Aggregate(insiderTx []models.TransactionRecord, beneficial, institutional []models.HolderRecord) (models.OwnershipBreakdown, []models.TopHolder) {
	insiders := netByParty(insiderTx)
	beneficial = LatestPerHolder(beneficial)
	institutional = LatestPerHolder(institutional)

	in := EstimateInput{
		Insider:       lo.SumBy(insiders, func(p partyNet) float64 { return p.shares }),
		Beneficial:    lo.SumBy(beneficial, func(h models.HolderRecord) float64 { return h.Shares }),
		Institutional: lo.SumBy(institutional, func(h models.HolderRecord) float64 { return h.Shares }),
		Holders:       beneficial,
	}
	b := models.OwnershipBreakdown{
		InsiderShares:       in.Insider,
		BeneficialShares:    in.Beneficial,
		InstitutionalShares: in.Institutional,
		DataQuality:         models.QualityUnavailable,
	}
	if in.Known() <= 0 {
		return b, []models.TopHolder{}
	}

	est := Estimate{}
	if a.Estimator != nil {
		est = a.Estimator.Estimate(in)
	}
	total := est.Total
	switch {
	case total <= 0 || math.IsNaN(total) || math.IsInf(total, 0):
		total = in.Known()
		est = Estimate{Total: total, Method: "known_only", Quality: models.QualityEstimated}
	case total < in.Known():
		// a total below what is already attributed cannot be right
		total = in.Known()
		est.Method += "_floored"
	}
	b.TotalSharesEstimate = total
	b.EstimateMethod = est.Method
	b.DataQuality = est.Quality

	insiderPct := clampPct(in.Insider / total * 100)
	beneficialPct := clampPct(in.Beneficial / total * 100)
	institutionalPct := clampPct(in.Institutional / total * 100)
	if sum := insiderPct + beneficialPct + institutionalPct; sum > 100 {
		scale := 100 / sum
		insiderPct *= scale
		beneficialPct *= scale
		institutionalPct *= scale
	}
	rounded := roundedShares(insiderPct, beneficialPct, institutionalPct)
	b.InsiderPercent, b.BeneficialPercent, b.InstitutionalPercent = rounded[0], rounded[1], rounded[2]
	publicPct := math.Max(0, 100-insiderPct-beneficialPct-institutionalPct)
	b.PublicPercent = round2(math.Max(0, 100-rounded[0]-rounded[1]-rounded[2]))
	b.PublicShares = math.Round(publicPct / 100 * total)
	b.FloatShares = math.Max(0, total-in.Insider-in.Beneficial)

	return b, topHolders(insiders, beneficial, institutional, total)
}

// netByParty sums buys minus sells per reporting party and keeps positive nets.
func netByParty(txs []models.TransactionRecord) []partyNet {
	net := map[string]float64{}
	names := map[string]string{}
	for _, tx := range txs {
		key := holderKey(tx.PartyName)
		if key == "" {
			continue
		}
		switch tx.Kind {
		case models.KindBuy:
			net[key] += tx.Shares
		case models.KindSell:
			net[key] -= tx.Shares
		default:
			continue
		}
		if _, ok := names[key]; !ok {
			names[key] = strings.TrimSpace(tx.PartyName)
		}
	}
	out := make([]partyNet, 0, len(net))
	for key, shares := range net {
		if shares > 0 {
			out = append(out, partyNet{name: names[key], shares: shares})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// LatestPerHolder keeps the most recent filing per holder name, so amendments
// replace the positions they supersede.
func LatestPerHolder(holders []models.HolderRecord) []models.HolderRecord {
	sorted := make([]models.HolderRecord, 0, len(holders))
	for _, h := range holders {
		if h.Shares > 0 && holderKey(h.Name) != "" {
			sorted = append(sorted, h)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].FilingDate > sorted[j].FilingDate })
	return lo.UniqBy(sorted, func(h models.HolderRecord) string { return holderKey(h.Name) })
}

func holderKey(name string) string {
	return strings.ToUpper(strings.Join(strings.Fields(name), " "))
}

func topHolders(insiders []partyNet, beneficial, institutional []models.HolderRecord, total float64) []models.TopHolder {
	out := make([]models.TopHolder, 0, len(insiders)+len(beneficial)+len(institutional))
	pct := func(shares float64, reported *float64) float64 {
		if reported != nil {
			return round2(clampPct(*reported))
		}
		return round2(clampPct(shares / total * 100))
	}
	for _, p := range insiders {
		out = append(out, models.TopHolder{Name: p.name, Shares: p.shares, PercentOwnership: pct(p.shares, nil), Type: models.HolderInsider, Source: "Forms 3/4/5"})
	}
	for _, h := range beneficial {
		out = append(out, models.TopHolder{Name: h.Name, Shares: h.Shares, PercentOwnership: pct(h.Shares, h.PercentOwnership), Type: models.HolderBeneficial, Source: h.FormType})
	}
	for _, h := range institutional {
		out = append(out, models.TopHolder{Name: h.Name, Shares: h.Shares, PercentOwnership: pct(h.Shares, h.PercentOwnership), Type: models.HolderInstitutional, Source: h.FormType})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Shares > out[j].Shares })
	if len(out) > maxTopHolders {
		out = out[:maxTopHolders]
	}
	return out
}

func clampPct(p float64) float64 {
	if math.IsNaN(p) || p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// roundedShares rounds each percent to two places and takes any overshoot
// past 100 off the largest, so the rounded parts never exceed the whole.
func roundedShares(pcts ...float64) []float64 {
	out := make([]float64, len(pcts))
	sum := decimal.Zero
	largest := 0
	for i, p := range pcts {
		d := decimal.NewFromFloat(p).Round(2)
		out[i] = d.InexactFloat64()
		sum = sum.Add(d)
		if p > pcts[largest] {
			largest = i
		}
	}
	if excess := sum.Sub(decimal.NewFromInt(100)); excess.IsPositive() {
		out[largest] = decimal.NewFromFloat(out[largest]).Sub(excess).InexactFloat64()
	}
	return out
}

func round2(f float64) float64 {
	return decimal.NewFromFloat(f).Round(2).InexactFloat64()
}
