package significance

import (
	"context"
	stderrors "errors"
	"math"
	"testing"

	"goinfonet/adapters/estimators"
	"goinfonet/adapters/rng"
	"goinfonet/domain/series"
	"goinfonet/domain/settings"
	apperrors "goinfonet/internal/errors"
	"goinfonet/internal/testkit"
	"goinfonet/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func newProblem(target *mat.Dense) Problem {
	return Problem{
		Target:        target,
		NReplications: 1,
		Permutation:   series.PermutationOptions{InTime: true, Type: series.PermRandom},
		Streams:       rng.NewStreamSource(),
		Seed:          17,
		Name:          "test",
	}
}

func TestPValue(t *testing.T) {
	null := []float64{1, 2, 3}
	assert.Equal(t, 0.5, PValue(2.5, null, settings.TailOne))
	assert.Equal(t, 0.25, PValue(10, null, settings.TailOne))
	assert.Equal(t, 1.0, PValue(0, null, settings.TailOne))
	// ties count against the observed value
	assert.Equal(t, 0.5, PValue(3, null, settings.TailOne))

	assert.Equal(t, 0.25, PValue(10, null, settings.TailTwo))
	assert.Equal(t, 0.25, PValue(-10, null, settings.TailTwo))
	assert.Equal(t, 0.75, PValue(2, null, settings.TailTwo))

	symmetric := []float64{-3, -1, 1, 3}
	assert.Equal(t, 1.0, PValue(0, symmetric, settings.TailTwo))
	assert.Equal(t, 0.6, PValue(2, symmetric, settings.TailTwo))
	assert.Equal(t, 0.6, PValue(-2, symmetric, settings.TailTwo))
}

func TestPValue_Resolution(t *testing.T) {
	nPerm := 19
	null := testkit.Noise(nPerm, 1, 3).RawMatrix().Data
	for _, observed := range []float64{-5, -0.5, 0, 0.3, 1, 5} {
		for _, tail := range []settings.Tail{settings.TailOne, settings.TailTwo} {
			p := PValue(observed, null, tail)
			k := p * float64(nPerm+1)
			assert.InDelta(t, math.Round(k), k, 1e-9, "p=%v is not a multiple of 1/(n+1)", p)
			assert.GreaterOrEqual(t, p, 1/float64(nPerm+1))
			assert.LessOrEqual(t, p, 1.0)
		}
	}
}

func TestSignificant(t *testing.T) {
	assert.True(t, Significant(0.05, 0.05))
	assert.False(t, Significant(0.0501, 0.05))
}

func TestSummarise(t *testing.T) {
	s := Summarise([]float64{1, 2, 3, 4})
	assert.Equal(t, 4, s.N)
	assert.Equal(t, 2.5, s.Mean)
	assert.Equal(t, 4.0, s.Max)
	assert.Nil(t, Summarise(nil))
}

func TestCheckPower(t *testing.T) {
	prob := newProblem(mat.NewDense(30, 1, nil))
	prob.NReplications = 3
	prob.Permutation = series.PermutationOptions{}

	err := prob.CheckPower(20)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeUnderpowered, apperrors.GetCode(err))
	assert.NoError(t, prob.CheckPower(6))

	prob.Permutation = series.PermutationOptions{InTime: true, Type: series.PermRandom}
	assert.NoError(t, prob.CheckPower(1000))
}

func TestMaxStatistic(t *testing.T) {
	x, y := testkit.CorrelatedPair(400, 0.7, 1)
	noise := testkit.Noise(400, 1, 2)
	suite := NewSuite(NewRunner(estimators.NewGaussian(0), 4))
	ctx := context.Background()
	prob := newProblem(y)

	observed, err := suite.Runner().Estimate(ctx, x, y, nil)
	require.NoError(t, err)

	cands := []Candidate{{Realisations: x}, {Realisations: noise}}
	out, err := suite.MaxStatistic(ctx, prob, cands, observed, 49, 0.05)
	require.NoError(t, err)
	assert.True(t, out.Significant)
	assert.Equal(t, 1.0/50, out.PValue)
	require.NotNil(t, out.Null)
	assert.Equal(t, 49, out.Null.N)
	assert.Less(t, out.Null.Max, observed)
}

func TestMaxStatistic_Deterministic(t *testing.T) {
	x, y := testkit.CorrelatedPair(200, 0.1, 4)
	ctx := context.Background()
	prob := newProblem(y)

	seq := NewSuite(NewRunner(estimators.NewGaussian(0), 1))
	par := NewSuite(NewRunner(estimators.NewGaussian(0), 8))
	a, err := seq.MaxStatistic(ctx, prob, []Candidate{{Realisations: x}}, 0.01, 99, 0.05)
	require.NoError(t, err)
	b, err := par.MaxStatistic(ctx, prob, []Candidate{{Realisations: x}}, 0.01, 99, 0.05)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestMinStatistic(t *testing.T) {
	x, y := testkit.CorrelatedPair(400, 0.8, 6)
	suite := NewSuite(NewRunner(estimators.NewGaussian(0), 2))
	ctx := context.Background()
	prob := newProblem(y)

	observed, err := suite.Runner().Estimate(ctx, x, y, nil)
	require.NoError(t, err)
	out, err := suite.MinStatistic(ctx, prob, []Candidate{{Realisations: x}, {Realisations: x}}, observed, 19, 0.05)
	require.NoError(t, err)
	assert.True(t, out.Significant)
	assert.Equal(t, 0.05, out.PValue)
}

func TestOmnibus(t *testing.T) {
	x, y := testkit.CorrelatedPair(300, 0.6, 8)
	noise := testkit.Noise(300, 1, 9)
	sources := series.HStack(x, noise)
	suite := NewSuite(NewRunner(estimators.NewGaussian(0), 2))
	ctx := context.Background()

	observed, err := suite.Runner().Estimate(ctx, sources, y, nil)
	require.NoError(t, err)
	out, err := suite.Omnibus(ctx, newProblem(y), sources, nil, observed, 39, 0.05, settings.TailOne)
	require.NoError(t, err)
	assert.True(t, out.Significant)
	assert.Equal(t, 1.0/40, out.PValue)

	_, err = suite.Omnibus(ctx, newProblem(y), nil, nil, observed, 39, 0.05, settings.TailOne)
	assert.Equal(t, apperrors.CodeInvalidInput, apperrors.GetCode(err))
}

func TestMaxStatisticSequential(t *testing.T) {
	n := 500
	a := testkit.Noise(n, 1, 10)
	b := testkit.Noise(n, 1, 11)
	e := testkit.Noise(n, 1, 12)
	y := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		y.Set(i, 0, a.At(i, 0)+0.7*b.At(i, 0)+0.5*e.At(i, 0))
	}
	suite := NewSuite(NewRunner(estimators.NewGaussian(0), 4))
	ctx := context.Background()

	cands := []Candidate{
		{Realisations: b, Conditional: a},
		{Realisations: a, Conditional: b},
	}
	observed := make([]float64, len(cands))
	for i, c := range cands {
		v, err := suite.Runner().Estimate(ctx, c.Realisations, y, c.Conditional)
		require.NoError(t, err)
		observed[i] = v
	}

	out, err := suite.MaxStatisticSequential(ctx, newProblem(y), cands, observed, 39, 0.05)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, true}, out.Significant)
	assert.Equal(t, []float64{1.0 / 40, 1.0 / 40}, out.PValues)
	assert.Equal(t, observed, out.Statistics)
}

func TestMaxStatisticSequential_StopsAtFirstFailure(t *testing.T) {
	y := testkit.Noise(100, 1, 1)
	suite := NewSuite(NewRunner(estimators.NewGaussian(0), 1))
	cands := []Candidate{
		{Realisations: testkit.Noise(100, 1, 2)},
		{Realisations: testkit.Noise(100, 1, 3)},
		{Realisations: testkit.Noise(100, 1, 4)},
	}
	// observed values below every surrogate fail immediately
	out, err := suite.MaxStatisticSequential(context.Background(), newProblem(y), cands, []float64{-3, -2, -1}, 19, 0.05)
	require.NoError(t, err)
	assert.Equal(t, []bool{false, false, false}, out.Significant)
	assert.Equal(t, 1.0, out.PValues[0])
	assert.Equal(t, 1.0, out.PValues[1])
	assert.Equal(t, 1.0, out.PValues[2])

	_, err = suite.MaxStatisticSequential(context.Background(), newProblem(y), cands, []float64{1}, 19, 0.05)
	assert.Error(t, err)
}

type failingEstimator struct{}

func (failingEstimator) Name() string { return "failing" }

func (failingEstimator) Estimate(context.Context, *mat.Dense, *mat.Dense, *mat.Dense) (float64, error) {
	return 0, stderrors.New("singular matrix")
}

func TestRunner_WrapsEstimatorErrors(t *testing.T) {
	x := mat.NewDense(3, 1, []float64{1, 2, 3})
	for _, workers := range []int{1, 4} {
		runner := NewRunner(failingEstimator{}, workers)
		_, err := runner.EstimateBatch(context.Background(), []ports.EstimationInput{{Source: x, Target: x}, {Source: x, Target: x}})
		require.Error(t, err)
		assert.Equal(t, apperrors.CodeEstimatorFailed, apperrors.GetCode(err))
	}
}

func TestRunner_EstimateBatchKeepsOrder(t *testing.T) {
	runner := NewRunner(estimators.NewGaussian(0), 4)
	var inputs []ports.EstimationInput
	var expected []float64
	for i, rho := range []float64{0.1, 0.3, 0.5, 0.7, 0.9} {
		x, y := testkit.CorrelatedPair(300, rho, uint64(i))
		inputs = append(inputs, ports.EstimationInput{Source: x, Target: y})
		v, err := runner.Estimate(context.Background(), x, y, nil)
		require.NoError(t, err)
		expected = append(expected, v)
	}
	got, err := runner.EstimateBatch(context.Background(), inputs)
	require.NoError(t, err)
	assert.Equal(t, expected, got)
}

func TestRunner_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for _, workers := range []int{1, 4} {
		err := NewRunner(estimators.NewGaussian(0), workers).Map(ctx, 10, func(context.Context, int) error { return nil })
		assert.ErrorIs(t, err, context.Canceled)
	}
}
