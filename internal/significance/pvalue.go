// Package significance implements the permutation tests that gate every
// inclusion and removal decision of the network inference engine.
package significance

import (
	"math"

	"goinfonet/domain/settings"
	"goinfonet/internal/results"

	"github.com/montanaflynn/stats"
)

// PValue returns the permutation p-value of observed against null. The
// observed value counts as one member of the null, so the smallest possible
// p-value is 1/(len(null)+1). Two-sided p-values compare magnitudes, so an
// observed value of zero always yields one.
func PValue(observed float64, null []float64, tail settings.Tail) float64 {
	count := 1.0
	for _, v := range null {
		if tail == settings.TailTwo {
			if math.Abs(v) >= math.Abs(observed) {
				count++
			}
		} else if v >= observed {
			count++
		}
	}
	return count / float64(len(null)+1)
}

// Significant reports whether p rejects the null at level alpha
func Significant(p, alpha float64) bool {
	return p <= alpha
}

// Summarise computes mean, spread and upper quantiles of a null distribution
func Summarise(null []float64) *results.NullSummary {
	if len(null) == 0 {
		return nil
	}
	data := stats.Float64Data(null)
	summary := &results.NullSummary{N: len(null)}
	summary.Mean, _ = data.Mean()
	summary.StdDev, _ = data.StandardDeviationSample()
	summary.P95, _ = data.Percentile(95)
	summary.Max, _ = data.Max()
	return summary
}
