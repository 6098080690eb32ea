package valuation

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/actuar/projector/internal/domain"
)

// Summarize computes the derived statistics over a
// per-scenario NPV vector: mean, Bessel-corrected (n-1) standard
// deviation, percentiles by linear interpolation at fractional rank
// i = p*(n-1) over a sorted copy, and cte_95 = mean of the lowest 5% of
// values (the insurer-loss tail resolved Open Question).
// NaN entries (from numeric anomalies) are excluded from every
// statistic, since the scenario carrying the anomaly is disqualified,
// not zero.
func Summarize(npvs []float64) *domain.ValuationResult {
	result := &domain.ValuationResult{
		ScenarioNPVs:  npvs,
		ScenarioCount: len(npvs),
	}

	clean := make([]float64, 0, len(npvs))
	for _, v := range npvs {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			clean = append(clean, v)
		}
	}
	if len(clean) == 0 {
		return result
	}

	result.Statistics.Mean = mean(clean)
	result.Statistics.StdDev = stdDev(clean, result.Statistics.Mean)

	sorted := append([]float64(nil), clean...)
	sort.Float64s(sorted)

	result.Statistics.Percentiles = domain.Percentiles{
		P50: percentile(sorted, 0.50),
		P75: percentile(sorted, 0.75),
		P90: percentile(sorted, 0.90),
		P95: percentile(sorted, 0.95),
		P99: percentile(sorted, 0.99),
	}
	result.Statistics.CTE95 = cte95(sorted)
	return result
}

func mean(v []float64) float64 {
	return floats.Sum(v) / float64(len(v))
}

// stdDev computes the Bessel-corrected (n-1) sample standard deviation.
// For n == 1, the sample variance is undefined; 0 is returned.
func stdDev(v []float64, m float64) float64 {
	if len(v) < 2 {
		return 0
	}
	var ss float64
	for _, x := range v {
		d := x - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(v)-1))
}

// percentile computes the value at fractional rank p (0..1) over a
// sorted slice by linear interpolation at index i = p*(n-1).
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}
	idx := p * float64(n-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// cte95 computes the mean of the lowest 5% of a sorted NPV vector: the
// insurer-loss conditional tail expectation. The tail size is
// max(1, round(0.05*n)) so small portfolios still get a well-defined
// tail.
func cte95(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	tailSize := int(math.Round(0.05 * float64(n)))
	if tailSize < 1 {
		tailSize = 1
	}
	return mean(sorted[:tailSize])
}
