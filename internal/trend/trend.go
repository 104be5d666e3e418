// Package trend derives simple price trends from daily closes.
package trend

import "github.com/samber/lo"

const (
	quarterBars = 63
	minBars     = 30
)

// QuarterTrend summarizes roughly one quarter of daily closes.
type QuarterTrend struct {
	QuarterPct float64
	// Slope is the least-squares change per bar.
	Slope  float64
	Last   float64
	Window int
}

// FromCloses looks at the last 63 positive closes, or the newer half of the
// series when it is shorter. It returns nil with fewer than 30 positive closes.
func FromCloses(closes []float64) *QuarterTrend {
	valid := lo.Filter(closes, func(c float64, _ int) bool { return c > 0 })
	if len(valid) < minBars {
		return nil
	}
	window := quarterBars
	if len(valid) <= quarterBars {
		window = len(valid) / 2
	}
	tail := valid[len(valid)-window:]
	first, last := tail[0], tail[len(tail)-1]
	return &QuarterTrend{
		QuarterPct: (last/first - 1) * 100,
		Slope:      leastSquaresSlope(tail),
		Last:       last,
		Window:     window,
	}
}

// SMA averages the last n closes. It returns 0 when fewer than n are available.
func SMA(closes []float64, n int) float64 {
	if n <= 0 || len(closes) < n {
		return 0
	}
	return lo.Sum(closes[len(closes)-n:]) / float64(n)
}

func leastSquaresSlope(y []float64) float64 {
	n := float64(len(y))
	var sx, sy, sxy, sxx float64
	for i, v := range y {
		x := float64(i)
		sx += x
		sy += v
		sxy += x * v
		sxx += x * x
	}
	den := n*sxx - sx*sx
	if den == 0 {
		return 0
	}
	return (n*sxy - sx*sy) / den
}
