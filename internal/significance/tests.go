package significance

import (
	"context"
	"math"
	"sort"

	"goinfonet/domain/series"
	"goinfonet/domain/settings"
	apperrors "goinfonet/internal/errors"
	"goinfonet/internal/results"

	"gonum.org/v1/gonum/mat"
)

// Outcome is the result of a single permutation test
type Outcome struct {
	Significant bool                 `json:"significant"`
	PValue      float64              `json:"p_value"`
	Statistic   float64              `json:"statistic"`
	Null        *results.NullSummary `json:"null"`
}

// SequentialOutcome holds per-candidate results of the sequential
// maximum-statistic test, in candidate order.
type SequentialOutcome struct {
	Significant []bool    `json:"significant"`
	PValues     []float64 `json:"p_values"`
	Statistics  []float64 `json:"statistics"`
}

// Suite runs permutation tests with a Runner
type Suite struct {
	runner *Runner
}

// NewSuite creates a new test suite
func NewSuite(runner *Runner) *Suite {
	return &Suite{runner: runner}
}

// Runner returns the runner used for all estimates
func (s *Suite) Runner() *Runner { return s.runner }

// surrogateTable evaluates, for every permutation, the CMI of a surrogate of
// each candidate. table[i][j] belongs to permutation i and candidate j.
func (s *Suite) surrogateTable(ctx context.Context, prob Problem, test string, cands []Candidate, nPerm int) ([][]float64, error) {
	if len(cands) == 0 {
		return nil, apperrors.InvalidInput("permutation test needs at least one candidate")
	}
	if err := prob.CheckPower(nPerm); err != nil {
		return nil, err
	}
	table := make([][]float64, nPerm)
	err := s.runner.Map(ctx, nPerm, func(ctx context.Context, i int) error {
		rng := prob.rng(test, i)
		row := make([]float64, len(cands))
		for j, c := range cands {
			surr, err := series.SurrogateRows(c.Realisations, prob.NReplications, prob.Permutation, rng)
			if err != nil {
				return err
			}
			v, err := s.runner.Estimate(ctx, surr, prob.Target, c.Conditional)
			if err != nil {
				return err
			}
			row[j] = v
		}
		table[i] = row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return table, nil
}

// MaxStatistic tests the largest observed candidate CMI against the
// distribution of the per-permutation maximum over all candidates, which
// controls the family-wise error over the candidate pool.
func (s *Suite) MaxStatistic(ctx context.Context, prob Problem, cands []Candidate, observed float64, nPerm int, alpha float64) (Outcome, error) {
	table, err := s.surrogateTable(ctx, prob, "max_stat", cands, nPerm)
	if err != nil {
		return Outcome{}, err
	}
	null := reduceRows(table, math.Max)
	p := PValue(observed, null, settings.TailOne)
	return Outcome{Significant: Significant(p, alpha), PValue: p, Statistic: observed, Null: Summarise(null)}, nil
}

// MinStatistic tests the smallest observed candidate CMI against the
// distribution of the per-permutation minimum over all candidates.
func (s *Suite) MinStatistic(ctx context.Context, prob Problem, cands []Candidate, observed float64, nPerm int, alpha float64) (Outcome, error) {
	table, err := s.surrogateTable(ctx, prob, "min_stat", cands, nPerm)
	if err != nil {
		return Outcome{}, err
	}
	null := reduceRows(table, math.Min)
	p := PValue(observed, null, settings.TailOne)
	return Outcome{Significant: Significant(p, alpha), PValue: p, Statistic: observed, Null: Summarise(null)}, nil
}

// Omnibus tests the joint CMI of all selected sources. The null permutes the
// source realisations as one block, keeping their mutual dependence while
// destroying their relation to the target.
func (s *Suite) Omnibus(ctx context.Context, prob Problem, sources, conditional *mat.Dense, observed float64, nPerm int, alpha float64, tail settings.Tail) (Outcome, error) {
	if sources == nil {
		return Outcome{}, apperrors.InvalidInput("omnibus test needs at least one source variable")
	}
	table, err := s.surrogateTable(ctx, prob, "omnibus", []Candidate{{Realisations: sources, Conditional: conditional}}, nPerm)
	if err != nil {
		return Outcome{}, err
	}
	null := make([]float64, len(table))
	for i, row := range table {
		null[i] = row[0]
	}
	p := PValue(observed, null, tail)
	return Outcome{Significant: Significant(p, alpha), PValue: p, Statistic: observed, Null: Summarise(null)}, nil
}

// MaxStatisticSequential tests every candidate against a rank-matched null:
// the k-th largest observed statistic is compared with the k-th largest
// surrogate value of each permutation. Testing proceeds from the largest
// statistic downwards and stops at the first failure; all remaining
// candidates are not significant; those never tested keep p = 1.
func (s *Suite) MaxStatisticSequential(ctx context.Context, prob Problem, cands []Candidate, observed []float64, nPerm int, alpha float64) (SequentialOutcome, error) {
	if len(observed) != len(cands) {
		return SequentialOutcome{}, apperrors.InvalidInput("one observed statistic per candidate is required")
	}
	out := SequentialOutcome{
		Significant: make([]bool, len(cands)),
		PValues:     make([]float64, len(cands)),
		Statistics:  append([]float64(nil), observed...),
	}
	for i := range out.PValues {
		out.PValues[i] = 1
	}
	if len(cands) == 0 {
		return out, nil
	}

	table, err := s.surrogateTable(ctx, prob, "max_seq", cands, nPerm)
	if err != nil {
		return SequentialOutcome{}, err
	}
	for _, row := range table {
		sort.Sort(sort.Reverse(sort.Float64Slice(row)))
	}

	order := make([]int, len(observed))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return observed[order[a]] > observed[order[b]] })

	null := make([]float64, len(table))
	for rank, idx := range order {
		for i, row := range table {
			null[i] = row[rank]
		}
		p := PValue(observed[idx], null, settings.TailOne)
		out.PValues[idx] = p
		if !Significant(p, alpha) {
			break
		}
		out.Significant[idx] = true
	}
	return out, nil
}

// reduceRows folds each row of table with f
func reduceRows(table [][]float64, f func(a, b float64) float64) []float64 {
	out := make([]float64, len(table))
	for i, row := range table {
		acc := row[0]
		for _, v := range row[1:] {
			acc = f(acc, v)
		}
		out[i] = acc
	}
	return out
}
