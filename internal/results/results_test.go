package results

import (
	"path/filepath"
	"testing"

	"goinfonet/domain/series"
	"goinfonet/domain/settings"
	apperrors "goinfonet/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func selected(process, lag int, statistic, p float64) SelectedVariable {
	return SelectedVariable{Process: process, Lag: lag, Statistic: statistic, PValue: p, Significant: true}
}

func targetResult(target int, vars ...SelectedVariable) *TargetResult {
	r := &TargetResult{
		Target:          target,
		CurrentValue:    series.Variable{Process: target, Sample: 5},
		State:           StateDone,
		SelectedSources: vars,
	}
	if len(vars) > 0 {
		r.OmnibusTested = true
		r.OmnibusStatistic = 0.5
		r.OmnibusPValue = 0.002
		r.OmnibusSignificant = true
		for _, p := range r.SourceProcesses() {
			r.SingleLink = append(r.SingleLink, LinkStatistic{Source: p, Statistic: 0.1 * float64(p+1)})
		}
	}
	return r
}

// threeNodes has 0 -> 1 at lags 2 and 4 and 2 -> 1 at lag 1; target 2 has no sources
func threeNodes() *NetworkResults {
	n := New(settings.Default(), 3)
	n.Targets[1] = targetResult(1,
		selected(0, 2, 0.40, 0.002),
		selected(2, 1, 0.20, 0.010),
		selected(0, 4, 0.60, 0.004),
	)
	n.Targets[2] = targetResult(2)
	return n
}

func TestSourceProcessesAndVariables(t *testing.T) {
	r := threeNodes().Targets[1]
	assert.Equal(t, []int{0, 2}, r.SourceProcesses())
	assert.Equal(t, []SelectedVariable{selected(0, 2, 0.40, 0.002), selected(0, 4, 0.60, 0.004)}, r.SourceVariables(0))
	assert.Empty(t, r.SourceVariables(1))

	v := r.SelectedSources[0].Variable(r.CurrentValue)
	assert.Equal(t, series.Variable{Process: 0, Sample: 3}, v)
}

func TestAdjacencyMatrix_Weights(t *testing.T) {
	n := threeNodes()
	tests := []struct {
		weight WeightType
		from0  float64
		from2  float64
	}{
		{WeightLagFirst, 2, 1},
		{WeightLagMaxStatistic, 4, 1},
		{WeightVarsCount, 2, 1},
		{WeightBinary, 1, 1},
	}
	for _, tt := range tests {
		t.Run(string(tt.weight), func(t *testing.T) {
			adj, err := n.AdjacencyMatrix(tt.weight, false)
			require.NoError(t, err)
			r, c := adj.Dims()
			assert.Equal(t, 3, r)
			assert.Equal(t, 3, c)
			assert.Equal(t, tt.from0, adj.At(0, 1))
			assert.Equal(t, tt.from2, adj.At(2, 1))
			assert.Zero(t, adj.At(1, 0))
			assert.Zero(t, adj.At(0, 2))
		})
	}
}

func TestAdjacencyMatrix_Errors(t *testing.T) {
	n := threeNodes()
	_, err := n.AdjacencyMatrix("strongest", false)
	assert.Equal(t, apperrors.CodeConfigInvalid, apperrors.GetCode(err))

	_, err = n.AdjacencyMatrix(WeightBinary, true)
	assert.Equal(t, apperrors.CodeInvalidInput, apperrors.GetCode(err))

	_, err = New(settings.Default(), 0).AdjacencyMatrix(WeightBinary, false)
	assert.Equal(t, apperrors.CodeInvalidInput, apperrors.GetCode(err))
}

func TestEdges(t *testing.T) {
	edges, err := threeNodes().Edges(WeightLagFirst, false)
	require.NoError(t, err)
	require.Len(t, edges, 2)

	assert.Equal(t, Edge{Source: 0, Target: 1, Lag: 2, Weight: 2, PValue: 0.002, Statistic: 0.1}, edges[0])
	assert.Equal(t, 2, edges[1].Source)
	assert.InDelta(t, 0.3, edges[1].Statistic, 1e-12)
	assert.Equal(t, []Link{{Source: 0, Target: 1}, {Source: 2, Target: 1}}, threeNodes().Links())
}

func TestApplyFDR_ByTarget(t *testing.T) {
	n := threeNodes()
	n.Targets[0] = targetResult(0, selected(1, 3, 0.05, 0.3))
	n.Targets[0].OmnibusPValue = 0.3

	summary := n.ApplyFDR(0.05, true)
	assert.Same(t, summary, n.FDR)
	assert.Equal(t, []int{1}, summary.SignificantTargets)
	assert.False(t, summary.Insufficient)
	assert.Equal(t, 0.3, n.Targets[0].OmnibusPValue)

	adj, err := n.AdjacencyMatrix(WeightBinary, true)
	require.NoError(t, err)
	assert.Equal(t, 1.0, adj.At(0, 1))
	assert.Zero(t, adj.At(1, 0))
}

func TestApplyFDR_ByLink(t *testing.T) {
	n := threeNodes()
	n.Targets[1].SelectedSources[1].PValue = 0.2

	summary := n.ApplyFDR(0.05, false)
	assert.Equal(t, []Link{{Source: 0, Target: 1}}, summary.SignificantLinks)

	edges, err := n.Edges(WeightBinary, true)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, 0, edges[0].Source)
}

func TestApplyFDR_InsufficientPermutations(t *testing.T) {
	s := settings.Default()
	s.NPermOmnibus = 20
	n := New(s, 3)
	for i := 0; i < 3; i++ {
		n.Targets[i] = targetResult(i, selected((i+1)%3, 1, 0.5, 1.0/21))
		n.Targets[i].OmnibusPValue = 1.0 / 21
	}
	summary := n.ApplyFDR(0.05, true)
	assert.True(t, summary.Insufficient)
}

func TestCombine(t *testing.T) {
	s := settings.Default()
	a := New(s, 3)
	a.Targets[0] = targetResult(0, selected(1, 1, 0.3, 0.01))
	a.Failures = []Failure{{Target: 2, Code: apperrors.CodeEstimatorFailed, Message: "boom"}}
	b := New(s, 3)
	b.Targets[2] = targetResult(2, selected(0, 3, 0.2, 0.02))
	c := New(s, 3)
	c.Targets[1] = targetResult(1)

	ab, err := Combine(a, b)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, ab.TargetsAnalysed())
	assert.Empty(t, ab.Failures, "a failure is dropped once the target has a result")
	assert.Equal(t, a.RunID, ab.RunID)
	assert.Len(t, a.Targets, 1, "inputs are not modified")

	ba, err := Combine(b, a)
	require.NoError(t, err)
	assert.Equal(t, ab.Targets, ba.Targets)

	left, err := Combine(ab, c)
	require.NoError(t, err)
	bc, err := Combine(b, c)
	require.NoError(t, err)
	right, err := Combine(a, bc)
	require.NoError(t, err)
	assert.Equal(t, left.Targets, right.Targets)
	assert.Equal(t, left.Failures, right.Failures)

	ac, err := Combine(a, c)
	require.NoError(t, err)
	assert.Equal(t, []Failure{{Target: 2, Code: apperrors.CodeEstimatorFailed, Message: "boom"}}, ac.Failures)
}

func TestCombine_Errors(t *testing.T) {
	s := settings.Default()
	a := New(s, 3)
	a.Targets[0] = targetResult(0)

	dup := New(s, 3)
	dup.Targets[0] = targetResult(0)
	_, err := Combine(a, dup)
	assert.Equal(t, apperrors.CodeDuplicateTarget, apperrors.GetCode(err))

	other := s
	other.AlphaOmnibus = 0.01
	_, err = Combine(a, New(other, 3))
	assert.Equal(t, apperrors.CodeSettingsMismatch, apperrors.GetCode(err))

	_, err = Combine(a, New(s, 4))
	assert.Equal(t, apperrors.CodeSettingsMismatch, apperrors.GetCode(err))

	err = a.Combine(dup)
	require.Error(t, err)
	assert.Len(t, a.Targets, 1)

	ok := New(s, 3)
	ok.Targets[1] = targetResult(1)
	require.NoError(t, a.Combine(ok))
	assert.Equal(t, []int{0, 1}, a.TargetsAnalysed())
}

func TestCodec_RoundTrip(t *testing.T) {
	n := threeNodes()
	n.Failures = []Failure{{Target: 0, Code: apperrors.CodeUnderpowered, Message: "too few permutations"}}
	n.ApplyFDR(0.05, true)

	path := filepath.Join(t.TempDir(), "runs", "net.json")
	require.NoError(t, SaveFile(path, n))
	got, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, n.RunID, got.RunID)
	assert.True(t, n.CreatedAt.Equal(got.CreatedAt))
	assert.True(t, n.Settings.Equal(got.Settings))
	assert.Equal(t, n.Targets, got.Targets)
	assert.Equal(t, n.Failures, got.Failures)
	assert.Equal(t, n.FDR, got.FDR)
}

func TestCodec_Errors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Equal(t, apperrors.CodeNotFound, apperrors.GetCode(err))

	_, err = Unmarshal([]byte("{not json"))
	assert.Equal(t, apperrors.CodeInvalidInput, apperrors.GetCode(err))

	n, err := Unmarshal([]byte(`{"n_nodes": 2}`))
	require.NoError(t, err)
	assert.NotNil(t, n.Targets)
}

func TestBenjaminiHochberg(t *testing.T) {
	p := []float64{0.01, 0.04, 0.03, 0.2}
	out := BenjaminiHochberg(p, 0.05, 1000)
	// thresholds: 0.0125, 0.025, 0.0375, 0.05 -> only 0.01 passes
	assert.Equal(t, []bool{true, false, false, false}, out.Significant)
	assert.Equal(t, 0.01, out.Threshold)
	assert.False(t, out.Insufficient)
	// p-values are not modified
	assert.Equal(t, []float64{0.01, 0.04, 0.03, 0.2}, p)

	out = BenjaminiHochberg([]float64{0.001, 0.02, 0.03, 0.04}, 0.05, 1000)
	assert.Equal(t, []bool{true, true, true, true}, out.Significant)
	assert.Equal(t, 0.04, out.Threshold)

	out = BenjaminiHochberg([]float64{0.5, 0.9}, 0.05, 1000)
	assert.Equal(t, []bool{false, false}, out.Significant)
	assert.Equal(t, 0.0, out.Threshold)

	out = BenjaminiHochberg([]float64{0.01, 0.02, 0.03}, 0.05, 20)
	assert.True(t, out.Insufficient)

	assert.Empty(t, BenjaminiHochberg(nil, 0.05, 100).Significant)
}
