package aggregator

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/bighogz/ownership-lens/internal/models"
)

type AnomalySignal struct {
	Ticker            string  `json:"ticker"`
	CurrentSharesSold float64 `json:"current_shares_sold"`
	BaselineMean      float64 `json:"baseline_mean"`
	BaselineStd       float64 `json:"baseline_std"`
	ZScore            float64 `json:"z_score"`
	IsAnomaly         bool    `json:"is_anomaly"`
}

type AnomalyParams struct {
	BaselineDays      int
	CurrentDays       int
	StdThreshold      float64
	MinBaselinePoints int
}

// ComputeAnomalySignals compares each ticker's recent insider selling against
// its own daily baseline and flags z-scores at or above the threshold.
func ComputeAnomalySignals(byTicker map[string][]models.TransactionRecord, p AnomalyParams, asOf time.Time) []AnomalySignal {
	if len(byTicker) == 0 {
		return nil
	}
	asOf = truncateDay(asOf)
	baselineEnd := asOf.AddDate(0, 0, -p.CurrentDays)
	baselineStart := baselineEnd.AddDate(0, 0, -p.BaselineDays)
	currentStart := baselineEnd

	results := make([]AnomalySignal, 0, len(byTicker))
	for ticker, txs := range byTicker {
		byDate := dailySells(txs)
		var baselineTotals []float64
		var currentTotal float64
		for dt, shares := range byDate {
			if !dt.Before(baselineStart) && dt.Before(baselineEnd) {
				baselineTotals = append(baselineTotals, shares)
			}
			if !dt.Before(currentStart) && !dt.After(asOf) {
				currentTotal += shares
			}
		}
		sig := AnomalySignal{Ticker: strings.ToUpper(ticker), CurrentSharesSold: currentTotal}
		if len(baselineTotals) < p.MinBaselinePoints {
			results = append(results, sig)
			continue
		}
		meanB, stdB := meanStd(baselineTotals)
		if stdB <= 0 {
			stdB = 1e-9
		}
		numDays := asOf.Sub(currentStart).Hours()/24 + 1
		if numDays < 1 {
			numDays = 1
		}
		z := (currentTotal/numDays - meanB) / stdB
		sig.BaselineMean = meanB
		sig.BaselineStd = stdB
		sig.ZScore = z
		sig.IsAnomaly = z >= p.StdThreshold && currentTotal > 0
		results = append(results, sig)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].ZScore != results[j].ZScore {
			return results[i].ZScore > results[j].ZScore
		}
		return results[i].Ticker < results[j].Ticker
	})
	return results
}

func dailySells(txs []models.TransactionRecord) map[time.Time]float64 {
	out := make(map[time.Time]float64)
	for _, tx := range txs {
		if tx.Kind != models.KindSell {
			continue
		}
		dt, err := time.Parse("2006-01-02", tx.Date)
		if err != nil {
			continue
		}
		out[dt] += tx.Shares
	}
	return out
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func meanStd(vals []float64) (mean, std float64) {
	if len(vals) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	mean = sum / float64(len(vals))
	var sqDiff float64
	for _, v := range vals {
		d := v - mean
		sqDiff += d * d
	}
	std = math.Sqrt(sqDiff / float64(len(vals)))
	return mean, std
}
