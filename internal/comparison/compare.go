// Package comparison tests whether the information carried by the links of
// two inferred networks differs, either between two conditions recorded from
// one subject (within) or between two groups of subjects (between).
package comparison

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"goinfonet/domain/core"
	"goinfonet/domain/series"
	"goinfonet/domain/settings"
	"goinfonet/internal"
	apperrors "goinfonet/internal/errors"
	"goinfonet/internal/results"
	"goinfonet/internal/significance"
	"goinfonet/ports"

	"github.com/montanaflynn/stats"
)

// Subject pairs the network inferred for one subject with its data
type Subject struct {
	Network *results.NetworkResults
	Data    *series.TimeSeries
}

// Comparer runs network comparisons with fixed settings
type Comparer struct {
	settings settings.Comparison
	// batch parallelises permutations; estimate runs sequentially inside them
	batch    *significance.Runner
	estimate *significance.Runner
	streams  ports.RNGPort
	logger   *internal.Logger
}

// NewComparer validates the comparison settings and creates a comparer
func NewComparer(s settings.Comparison, estimator ports.CMIEstimator, streams ports.RNGPort, workers int, logger *internal.Logger) (*Comparer, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if estimator == nil {
		return nil, apperrors.ConfigInvalid("a CMI estimator is required")
	}
	if streams == nil {
		return nil, apperrors.ConfigInvalid("a random stream source is required")
	}
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &Comparer{
		settings: s,
		batch:    significance.NewRunner(estimator, workers),
		estimate: significance.NewRunner(estimator, 1),
		streams:  streams,
		logger:   logger.WithComponent("Comparison"),
	}, nil
}

// CompareWithin compares two networks inferred from two conditions of the
// same subject. Under the null, replications are exchanged between the
// conditions: pairwise for dependent statistics, pooled for independent ones.
func (c *Comparer) CompareWithin(ctx context.Context, netA, netB *results.NetworkResults, dataA, dataB *series.TimeSeries) (*Result, error) {
	inference, nNodes, union, err := buildUnion([]*results.NetworkResults{netA, netB})
	if err != nil {
		return nil, err
	}
	if err := checkData(nNodes, dataA, dataB); err != nil {
		return nil, err
	}
	if dataA.NSamples() != dataB.NSamples() {
		return nil, apperrors.InvalidInput(fmt.Sprintf("conditions have %d and %d samples", dataA.NSamples(), dataB.NSamples()))
	}
	nA, nB := dataA.NReplications(), dataB.NReplications()
	if err := c.checkPower(nA, nB, "replications"); err != nil {
		return nil, err
	}

	ls := links(union)
	res := c.newResult(KindWithin, nNodes, ls)
	if len(ls) == 0 {
		return res, nil
	}
	c.logger.Info("comparing %d links within subject (%s, %d permutations)", len(ls), c.settings.StatsType, c.settings.NPerm)

	statsA, err := c.linkStatistics(ctx, ls, dataA, inference.Variant)
	if err != nil {
		return nil, err
	}
	statsB, err := c.linkStatistics(ctx, ls, dataB, inference.Variant)
	if err != nil {
		return nil, err
	}

	nulls := make([][]float64, len(ls))
	for i := range nulls {
		nulls[i] = make([]float64, c.settings.NPerm)
	}
	err = c.batch.Map(ctx, c.settings.NPerm, func(ctx context.Context, i int) error {
		groupA, groupB := c.relabel(nA, nB, c.rng("within", i))
		surA, surB, err := series.Regroup(dataA, dataB, groupA, groupB)
		if err != nil {
			return err
		}
		sa, err := c.linkStatistics(ctx, ls, surA, inference.Variant)
		if err != nil {
			return err
		}
		sb, err := c.linkStatistics(ctx, ls, surB, inference.Variant)
		if err != nil {
			return err
		}
		for l := range ls {
			nulls[l][i] = sa[l] - sb[l]
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for l := range ls {
		res.Links[l] = c.evaluate(res.Links[l], statsA[l], statsB[l], nulls[l])
	}
	return res, nil
}

// CompareBetween compares two groups of subjects. Link statistics are
// computed once per subject; under the null, subjects are exchanged between
// the groups and the difference of group means is recomputed.
func (c *Comparer) CompareBetween(ctx context.Context, groupA, groupB []Subject) (*Result, error) {
	if len(groupA) == 0 || len(groupB) == 0 {
		return nil, apperrors.InvalidInput("both groups need at least one subject")
	}
	subjects := append(append([]Subject{}, groupA...), groupB...)
	nets := make([]*results.NetworkResults, len(subjects))
	for i, s := range subjects {
		nets[i] = s.Network
	}
	inference, nNodes, union, err := buildUnion(nets)
	if err != nil {
		return nil, err
	}
	data := make([]*series.TimeSeries, len(subjects))
	for i, s := range subjects {
		data[i] = s.Data
	}
	if err := checkData(nNodes, data...); err != nil {
		return nil, err
	}
	nA, nB := len(groupA), len(groupB)
	if err := c.checkPower(nA, nB, "subjects"); err != nil {
		return nil, err
	}

	ls := links(union)
	res := c.newResult(KindBetween, nNodes, ls)
	if len(ls) == 0 {
		return res, nil
	}
	c.logger.Info("comparing %d links between %d and %d subjects (%s, %d permutations)", len(ls), nA, nB, c.settings.StatsType, c.settings.NPerm)

	// per subject, per link
	perSubject := make([][]float64, len(subjects))
	err = c.batch.Map(ctx, len(subjects), func(ctx context.Context, i int) error {
		v, err := c.linkStatistics(ctx, ls, data[i], inference.Variant)
		if err != nil {
			return fmt.Errorf("subject %d: %w", i, err)
		}
		perSubject[i] = v
		return nil
	})
	if err != nil {
		return nil, err
	}

	identityA, identityB := make([]int, nA), make([]int, nB)
	for i := range identityA {
		identityA[i] = i
	}
	for i := range identityB {
		identityB[i] = nA + i
	}
	for l := range ls {
		column := make([]float64, len(subjects))
		for s := range subjects {
			column[s] = perSubject[s][l]
		}
		null := make([]float64, c.settings.NPerm)
		for i := range null {
			ga, gb := c.relabel(nA, nB, c.rng(fmt.Sprintf("between/link-%d", l), i))
			null[i] = groupMean(column, ga) - groupMean(column, gb)
		}
		res.Links[l] = c.evaluate(res.Links[l], groupMean(column, identityA), groupMean(column, identityB), null)
	}
	return res, nil
}

// linkStatistics estimates the CMI of every link on one dataset
func (c *Comparer) linkStatistics(ctx context.Context, ls []link, data *series.TimeSeries, variant settings.Variant) ([]float64, error) {
	out := make([]float64, len(ls))
	for i, l := range ls {
		in, err := l.inputs(data, variant)
		if err != nil {
			return nil, err
		}
		out[i], err = c.estimate.Estimate(ctx, in.source, in.target, in.conditional)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// relabel draws a surrogate assignment of the pooled indices [0, nA+nB) to
// the two groups.
func (c *Comparer) relabel(nA, nB int, rng *rand.Rand) ([]int, []int) {
	groupA, groupB := make([]int, 0, nA), make([]int, 0, nB)
	if c.settings.StatsType == settings.StatsDependent {
		for i := 0; i < nA; i++ {
			if rng.IntN(2) == 0 {
				groupA, groupB = append(groupA, i), append(groupB, nA+i)
			} else {
				groupA, groupB = append(groupA, nA+i), append(groupB, i)
			}
		}
		return groupA, groupB
	}
	perm := rng.Perm(nA + nB)
	return append(groupA, perm[:nA]...), append(groupB, perm[nA:]...)
}

func (c *Comparer) rng(test string, i int) *rand.Rand {
	return c.streams.Stream(fmt.Sprintf("compare/%s/%d", test, i), c.settings.Seed)
}

// checkPower fails when the label exchange cannot produce NPerm distinct
// surrogates.
func (c *Comparer) checkPower(nA, nB int, unit string) error {
	var available float64
	if c.settings.StatsType == settings.StatsDependent {
		if nA != nB {
			return apperrors.InvalidInput(fmt.Sprintf("dependent comparison needs paired %s, got %d and %d", unit, nA, nB))
		}
		available = math.Pow(2, float64(nA))
	} else {
		available = binomial(nA+nB, nA)
	}
	if available < float64(c.settings.NPerm) {
		return apperrors.Underpowered("exchanging %d and %d %s yields %.0f distinct surrogates, fewer than the %d permutations requested", nA, nB, unit, available, c.settings.NPerm)
	}
	return nil
}

func (c *Comparer) evaluate(lr LinkResult, a, b float64, null []float64) LinkResult {
	lr.StatisticA = a
	lr.StatisticB = b
	lr.Difference = a - b
	lr.PValue = significance.PValue(lr.Difference, null, c.settings.Tail)
	lr.Significant = significance.Significant(lr.PValue, c.settings.Alpha)
	if lr.Significant {
		lr.DiffAbs = math.Abs(lr.Difference)
	}
	return lr
}

func (c *Comparer) newResult(kind Kind, nNodes int, ls []link) *Result {
	res := &Result{
		RunID:     core.NewRunID(),
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
		Kind:      kind,
		Settings:  c.settings,
		NNodes:    nNodes,
		Links:     make([]LinkResult, len(ls)),
	}
	for i, l := range ls {
		res.Links[i] = LinkResult{Source: l.source, Target: l.target.target, PValue: 1}
	}
	return res
}

func checkData(nNodes int, data ...*series.TimeSeries) error {
	for i, d := range data {
		if d == nil {
			return apperrors.InvalidInput(fmt.Sprintf("dataset %d is missing", i))
		}
		if d.NProcesses() != nNodes {
			return apperrors.InvalidInput(fmt.Sprintf("dataset %d has %d processes, networks have %d nodes", i, d.NProcesses(), nNodes))
		}
	}
	return nil
}

func groupMean(values []float64, idx []int) float64 {
	picked := make(stats.Float64Data, len(idx))
	for i, j := range idx {
		picked[i] = values[j]
	}
	m, _ := picked.Mean()
	return m
}

// binomial returns n choose k as a float, saturating at +Inf
func binomial(n, k int) float64 {
	if k < 0 || k > n {
		return 0
	}
	lg := func(x int) float64 {
		v, _ := math.Lgamma(float64(x + 1))
		return v
	}
	return math.Round(math.Exp(lg(n) - lg(k) - lg(n-k)))
}
