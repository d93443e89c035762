package inference

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"goinfonet/adapters/estimators"
	"goinfonet/adapters/rng"
	"goinfonet/domain/series"
	"goinfonet/domain/settings"
	"goinfonet/internal"
	apperrors "goinfonet/internal/errors"
	"goinfonet/internal/results"
	"goinfonet/internal/testkit"
	"goinfonet/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSettings() settings.Settings {
	s := settings.Default()
	s.MaxLagSources = 5
	s.MaxLagTarget = 5
	s.NPermMaxStat = 21
	s.NPermMinStat = 21
	s.NPermOmnibus = 21
	s.NPermMaxSeq = 21
	s.PermuteInTime = true
	s.FDR = false
	s.Seed = 1
	return s
}

func newEngine(t *testing.T, s settings.Settings, est ports.CMIEstimator) *Engine {
	t.Helper()
	e, err := NewEngine(s, est, Options{
		Workers:       4,
		TargetWorkers: 2,
		Streams:       rng.NewStreamSource(),
		Logger:        internal.NewLogger(internal.LogLevelError),
	})
	require.NoError(t, err)
	return e
}

// delayedNetwork couples process 0 into processes 1, 2 and 3 with delays 1, 3 and 5
func delayedNetwork(t *testing.T) *series.TimeSeries {
	t.Helper()
	ts, err := testkit.GenerateNetwork(testkit.NetworkConfig{
		NProcesses: 4,
		NSamples:   600,
		Couplings: []testkit.Coupling{
			{Source: 0, Target: 1, Lag: 1, Weight: 1},
			{Source: 0, Target: 2, Lag: 3, Weight: 1},
			{Source: 0, Target: 3, Lag: 5, Weight: 1},
		},
		Seed: 3,
	})
	require.NoError(t, err)
	return ts
}

func TestNewEngine_InvalidSettings(t *testing.T) {
	s := testSettings()
	s.NPermOmnibus = 5
	_, err := NewEngine(s, estimators.NewGaussian(0), Options{Streams: rng.NewStreamSource()})
	assert.Equal(t, apperrors.CodeConfigInvalid, apperrors.GetCode(err))

	_, err = NewEngine(testSettings(), nil, Options{Streams: rng.NewStreamSource()})
	assert.Equal(t, apperrors.CodeConfigInvalid, apperrors.GetCode(err))
}

func TestAnalyseSingleTarget_TargetOutOfRange(t *testing.T) {
	data := delayedNetwork(t)
	est := &testkit.CorrelationEstimator{}
	e := newEngine(t, testSettings(), est)

	for _, target := range []int{-1, 4, 10} {
		_, err := e.AnalyseSingleTarget(context.Background(), data, target, nil)
		require.Error(t, err)
		assert.Equal(t, apperrors.CodeConfigInvalid, apperrors.GetCode(err), "target %d", target)
	}
	assert.Zero(t, est.Calls())
}

func TestAnalyseSingleTarget_InvalidSources(t *testing.T) {
	data := delayedNetwork(t)
	est := &testkit.CorrelationEstimator{}
	e := newEngine(t, testSettings(), est)

	tests := []struct {
		name    string
		sources []int
	}{
		{"target in sources", []int{0, 1}},
		{"source out of range", []int{0, 7}},
		{"negative source", []int{-1}},
		{"duplicate source", []int{0, 0}},
		{"empty sources", []int{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.AnalyseSingleTarget(context.Background(), data, 1, tt.sources)
			assert.Equal(t, apperrors.CodeConfigInvalid, apperrors.GetCode(err))
		})
	}
	assert.Zero(t, est.Calls())
}

func TestDefineCandidates(t *testing.T) {
	s := testSettings()
	s.TauSources = 2
	s.MaxLagTarget = 4
	s.TauTarget = 2
	e := newEngine(t, s, estimators.NewGaussian(0))

	a, err := e.newAnalysis(delayedNetwork(t), 1, []int{0, 2})
	require.NoError(t, err)
	a.defineCandidates()

	assert.Equal(t, series.Variable{Process: 1, Sample: 5}, a.current)
	assert.Equal(t, []series.Variable{{Process: 1, Sample: 4}, {Process: 1, Sample: 2}}, a.targetCandidates)
	assert.Equal(t, []series.Variable{{Process: 0, Sample: 4}, {Process: 0, Sample: 2}, {Process: 0, Sample: 0}}, a.sourceCandidates[0])
	assert.Len(t, a.sourceCandidates[2], 3)
}

func TestForceConditionals_Faes(t *testing.T) {
	s := testSettings()
	s.AddConditionals = settings.Conditionals{Mode: settings.ConditionalsFaes}
	e := newEngine(t, s, estimators.NewGaussian(0))

	a, err := e.newAnalysis(delayedNetwork(t), 0, nil)
	require.NoError(t, err)
	assert.Equal(t, []series.Variable{
		{Process: 1, Sample: 5},
		{Process: 2, Sample: 5},
		{Process: 3, Sample: 5},
	}, a.conditionals)
}

func TestForceConditionals_Manual(t *testing.T) {
	s := testSettings()
	s.AddConditionals = settings.Conditionals{Mode: settings.ConditionalsManual, Vars: []settings.Lag{{Process: 0, Lag: 1}, {Process: 2, Lag: 3}}}
	e := newEngine(t, s, estimators.NewGaussian(0))

	a, err := e.newAnalysis(delayedNetwork(t), 1, nil)
	require.NoError(t, err)
	assert.Equal(t, []series.Variable{{Process: 0, Sample: 4}, {Process: 2, Sample: 2}}, a.conditionals)

	// forced conditionals are never candidates
	a.defineCandidates()
	assert.NotContains(t, a.sourceCandidates[0], series.Variable{Process: 0, Sample: 4})

	s.AddConditionals.Vars = []settings.Lag{{Process: 0, Lag: 8}}
	e = newEngine(t, s, estimators.NewGaussian(0))
	_, err = e.AnalyseSingleTarget(context.Background(), delayedNetwork(t), 1, nil)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeIndexOutOfRange, apperrors.GetCode(err))
}

func TestAnalyseSingleTarget_SeriesTooShort(t *testing.T) {
	data, err := series.FromProcesses([][]float64{{1, 2, 3, 4}, {4, 3, 2, 1}}, series.Options{})
	require.NoError(t, err)
	e := newEngine(t, testSettings(), estimators.NewGaussian(0))
	_, err = e.AnalyseSingleTarget(context.Background(), data, 0, nil)
	assert.Equal(t, apperrors.CodeIndexOutOfRange, apperrors.GetCode(err))
}

func TestAnalyseSingleTarget_Underpowered(t *testing.T) {
	s := testSettings()
	s.PermuteInTime = false
	est := &testkit.CorrelationEstimator{}
	e := newEngine(t, s, est)

	_, err := e.AnalyseSingleTarget(context.Background(), delayedNetwork(t), 1, nil)
	assert.Equal(t, apperrors.CodeUnderpowered, apperrors.GetCode(err))
	assert.Zero(t, est.Calls())
}

func TestAnalyseNetwork_DelayReconstruction(t *testing.T) {
	data := delayedNetwork(t)
	for _, variant := range []settings.Variant{settings.VariantMultivariate, settings.VariantBivariate} {
		t.Run(string(variant), func(t *testing.T) {
			s := testSettings()
			s.Variant = variant
			e := newEngine(t, s, estimators.NewGaussian(0))

			net, err := e.AnalyseNetwork(context.Background(), data, Request{Targets: []int{1, 2, 3}, Sources: [][]int{{0}}})
			require.NoError(t, err)
			require.Empty(t, net.Failures)

			adj, err := net.AdjacencyMatrix(results.WeightLagFirst, false)
			require.NoError(t, err)
			assert.Equal(t, 1.0, adj.At(0, 1))
			assert.Equal(t, 3.0, adj.At(0, 2))
			assert.Equal(t, 5.0, adj.At(0, 3))
		})
	}
}

func TestAnalyseSingleTarget_SingleLinkEqualsOmnibus(t *testing.T) {
	e := newEngine(t, testSettings(), estimators.NewGaussian(0))
	res, err := e.AnalyseSingleTarget(context.Background(), delayedNetwork(t), 2, []int{0})
	require.NoError(t, err)

	assert.Equal(t, results.StateDone, res.State)
	require.True(t, res.OmnibusSignificant)
	require.Len(t, res.SingleLink, 1)
	assert.Equal(t, 0, res.SingleLink[0].Source)
	assert.Equal(t, res.OmnibusStatistic, res.SingleLink[0].Statistic)
	assert.Equal(t, 3, res.SelectedSources[0].Lag)
}

func TestAnalyseSingleTarget_RecordsNullSummaries(t *testing.T) {
	s := testSettings()
	e := newEngine(t, s, estimators.NewGaussian(0))
	res, err := e.AnalyseSingleTarget(context.Background(), delayedNetwork(t), 2, []int{0})
	require.NoError(t, err)

	require.NotNil(t, res.OmnibusNull)
	assert.Equal(t, s.NPermOmnibus, res.OmnibusNull.N)
	assert.Less(t, res.OmnibusNull.Max, res.OmnibusStatistic)

	var tested int
	for _, step := range res.Steps {
		switch step.Phase {
		case "target", "sources", "prune_min_stat":
			require.NotNil(t, step.Null, "%s step at lag %d", step.Phase, step.Lag)
			assert.Positive(t, step.Null.N)
			tested++
		case "prune_max_seq", "target_fallback":
			assert.Nil(t, step.Null)
		}
	}
	assert.Positive(t, tested)
}

func TestAnalyseSingleTarget_TargetFallback(t *testing.T) {
	// process 1 is driven by process 0 only, so its own past carries nothing
	e := newEngine(t, testSettings(), estimators.NewGaussian(0))
	res, err := e.AnalyseSingleTarget(context.Background(), delayedNetwork(t), 1, []int{0})
	require.NoError(t, err)
	require.NotEmpty(t, res.SelectedTarget)

	var fallback *results.Step
	for i, st := range res.Steps {
		if st.Phase == "target" && st.Accepted {
			t.Skip("a target-past sample was selected, no fallback needed")
		}
		if st.Phase == "target_fallback" {
			fallback = &res.Steps[i]
		}
	}
	require.NotNil(t, fallback)
	assert.Equal(t, 1, fallback.Lag)
	assert.Equal(t, []results.SelectedVariable{{Process: 1, Lag: 1, PValue: 1}}, res.SelectedTarget)
}

func TestAnalyseSingleTarget_PruningIsBounded(t *testing.T) {
	e := newEngine(t, testSettings(), estimators.NewGaussian(0))
	res, err := e.AnalyseSingleTarget(context.Background(), delayedNetwork(t), 3, nil)
	require.NoError(t, err)

	admitted := 0
	for _, st := range res.Steps {
		if st.Phase == "sources" && st.Accepted {
			admitted++
		}
	}
	assert.LessOrEqual(t, res.PruningRounds, admitted+1)
	assert.LessOrEqual(t, len(res.SelectedSources), admitted)
	for _, v := range res.SelectedSources {
		assert.True(t, v.Significant)
		assert.LessOrEqual(t, v.PValue, testSettings().AlphaMaxSeq)
	}
}

func TestAnalyseSingleTarget_MutualInformationAtLagZero(t *testing.T) {
	data, err := testkit.GenerateNetwork(testkit.NetworkConfig{
		NProcesses: 2,
		NSamples:   400,
		Couplings:  []testkit.Coupling{{Source: 0, Target: 1, Lag: 0, Weight: 1}},
		Seed:       8,
	})
	require.NoError(t, err)

	for _, maxLag := range []int{2, 0} {
		t.Run(fmt.Sprintf("max lag %d", maxLag), func(t *testing.T) {
			s := testSettings()
			s.Measure = settings.MeasureMI
			s.MinLagSources = 0
			s.MaxLagSources = maxLag
			s.MaxLagTarget = 0
			e := newEngine(t, s, estimators.NewGaussian(0))

			res, err := e.AnalyseSingleTarget(context.Background(), data, 1, nil)
			require.NoError(t, err)
			assert.Equal(t, maxLag, res.CurrentValue.Sample)
			assert.Empty(t, res.SelectedTarget)
			require.NotEmpty(t, res.SelectedSources)
			assert.Equal(t, 0, res.SelectedSources[0].Lag)
		})
	}
}

func TestAnalyseNetwork_Deterministic(t *testing.T) {
	data := delayedNetwork(t)
	req := Request{Targets: []int{2, 3}}

	a, err := newEngine(t, testSettings(), estimators.NewGaussian(0)).AnalyseNetwork(context.Background(), data, req)
	require.NoError(t, err)
	b, err := newEngine(t, testSettings(), estimators.NewGaussian(0)).AnalyseNetwork(context.Background(), data, req)
	require.NoError(t, err)
	assert.Equal(t, a.Targets, b.Targets)
}

func TestAnalyseNetwork_CollectsEstimatorFailures(t *testing.T) {
	est := &testkit.CorrelationEstimator{Fail: stderrors.New("singular covariance")}
	e := newEngine(t, testSettings(), est)

	net, err := e.AnalyseNetwork(context.Background(), delayedNetwork(t), Request{})
	require.NoError(t, err)
	assert.Empty(t, net.Targets)
	require.Len(t, net.Failures, 4)
	for i, f := range net.Failures {
		assert.Equal(t, i, f.Target)
		assert.Equal(t, apperrors.CodeEstimatorFailed, f.Code)
	}

	_, err = e.AnalyseSingleTarget(context.Background(), delayedNetwork(t), 0, nil)
	assert.Equal(t, apperrors.CodeEstimatorFailed, apperrors.GetCode(err))
}

func TestAnalyseNetwork_ConfigErrorsAreFatal(t *testing.T) {
	est := &testkit.CorrelationEstimator{}
	e := newEngine(t, testSettings(), est)
	data := delayedNetwork(t)

	_, err := e.AnalyseNetwork(context.Background(), data, Request{Targets: []int{0, 9}})
	assert.Equal(t, apperrors.CodeConfigInvalid, apperrors.GetCode(err))

	_, err = e.AnalyseNetwork(context.Background(), data, Request{Targets: []int{1, 1}})
	assert.Equal(t, apperrors.CodeConfigInvalid, apperrors.GetCode(err))

	_, err = e.AnalyseNetwork(context.Background(), data, Request{Targets: []int{1, 2}, Sources: [][]int{{0}, {0}, {0}}})
	assert.Equal(t, apperrors.CodeConfigInvalid, apperrors.GetCode(err))
	assert.Zero(t, est.Calls())
}

func TestAnalyseNetwork_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e := newEngine(t, testSettings(), estimators.NewGaussian(0))
	_, err := e.AnalyseNetwork(ctx, delayedNetwork(t), Request{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAnalyseNetwork_FDR(t *testing.T) {
	s := testSettings()
	s.FDR = true
	s.NPermOmnibus = 199
	e := newEngine(t, s, estimators.NewGaussian(0))

	net, err := e.AnalyseNetwork(context.Background(), delayedNetwork(t), Request{Targets: []int{1, 2, 3}, Sources: [][]int{{0}}})
	require.NoError(t, err)
	require.NotNil(t, net.FDR)
	assert.True(t, net.FDR.ByTarget)
	assert.Equal(t, []int{1, 2, 3}, net.FDR.SignificantTargets)

	adj, err := net.AdjacencyMatrix(results.WeightBinary, true)
	require.NoError(t, err)
	assert.Equal(t, 1.0, adj.At(0, 1))
}
