package settings

import (
	"os"
	"path/filepath"
	"testing"

	"goinfonet/domain/series"
	apperrors "goinfonet/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	s := Default()
	require.NoError(t, s.Validate())
	assert.Equal(t, 5, s.MaxLag())

	s.MaxLagSources = 0
	require.NoError(t, s.Validate())
	assert.Equal(t, 0, s.MaxLag())

	s.Measure = MeasureTE
	s.MaxLagTarget = 1
	assert.Equal(t, apperrors.CodeConfigInvalid, apperrors.GetCode(s.Validate()))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"unknown measure", func(s *Settings) { s.Measure = "granger" }},
		{"max below min lag", func(s *Settings) { s.MinLagSources = 4; s.MaxLagSources = 2 }},
		{"tau above max lag", func(s *Settings) { s.TauSources = 6 }},
		{"te with zero min lag", func(s *Settings) { s.MinLagSources = 0 }},
		{"te without target past", func(s *Settings) { s.MaxLagTarget = 0 }},
		{"tau target above max lag target", func(s *Settings) { s.MaxLagTarget = 2; s.TauTarget = 3 }},
		{"alpha unreachable", func(s *Settings) { s.NPermMaxStat = 10 }},
		{"omnibus alpha unreachable", func(s *Settings) { s.Tail = TailTwo; s.NPermOmnibus = 15 }},
		{"manual without variables", func(s *Settings) { s.AddConditionals = Conditionals{Mode: ConditionalsManual} }},
		{"variables without manual mode", func(s *Settings) {
			s.AddConditionals = Conditionals{Mode: ConditionalsFaes, Vars: []Lag{{Process: 0, Lag: 1}}}
		}},
		{"bad perm type", func(s *Settings) { s.PermType = "shuffle" }},
		{"alpha out of range", func(s *Settings) { s.AlphaOmnibus = 1.5 }},
		{"missing estimator", func(s *Settings) { s.Estimator = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Default()
			tt.mutate(&s)
			err := s.Validate()
			require.Error(t, err)
			assert.Equal(t, apperrors.CodeConfigInvalid, apperrors.GetCode(err))
		})
	}
}

func TestValidate_MutualInformationAllowsZeroLag(t *testing.T) {
	s := Default()
	s.Measure = MeasureMI
	s.MinLagSources = 0
	s.MaxLagTarget = 0
	require.NoError(t, s.Validate())
	assert.Equal(t, 5, s.MaxLag())
}

func TestValidate_MinStatResolutionOnlyWhenPruning(t *testing.T) {
	s := Default()
	s.NPermMinStat = 5
	require.Error(t, s.Validate())

	s.MinStatPruning = false
	require.NoError(t, s.Validate())
}

func TestCheckResolution(t *testing.T) {
	assert.NoError(t, CheckResolution(19, 0.05))
	assert.Error(t, CheckResolution(18, 0.05))
	assert.NoError(t, CheckResolution(99, 0.01))
}

func TestMaxLag(t *testing.T) {
	s := Default()
	s.MaxLagSources = 3
	s.MaxLagTarget = 7
	assert.Equal(t, 7, s.MaxLag())

	s.Measure = MeasureMI
	assert.Equal(t, 3, s.MaxLag())
}

func TestMaxPermutations(t *testing.T) {
	s := Default()
	s.NPermMaxStat = 100
	s.NPermOmnibus = 300
	s.NPermMaxSeq = 200
	s.NPermMinStat = 1000
	assert.Equal(t, 1000, s.MaxPermutations())

	s.MinStatPruning = false
	assert.Equal(t, 300, s.MaxPermutations())
}

func TestPermutation(t *testing.T) {
	s := Default()
	s.PermuteInTime = true
	s.PermType = series.PermBlock
	s.BlockSize = 4
	assert.Equal(t, series.PermutationOptions{InTime: true, Type: series.PermBlock, BlockSize: 4}, s.Permutation())
}

func TestEqual(t *testing.T) {
	a := Default()
	b := Default()
	assert.True(t, a.Equal(b))

	b.Seed = 99
	assert.False(t, a.Equal(b))

	c := Default()
	c.AddConditionals = Conditionals{Mode: ConditionalsManual, Vars: []Lag{{Process: 1, Lag: 2}}}
	d := Default()
	d.AddConditionals = Conditionals{Mode: ConditionalsManual, Vars: []Lag{{Process: 1, Lag: 2}}}
	assert.True(t, c.Equal(d))
}

func TestParse(t *testing.T) {
	raw := []byte(`
measure: mi
variant: bivariate
cmi_estimator: discrete
n_bins: 4
max_lag_sources: 3
min_lag_sources: 0
add_conditionals:
  mode: manual
  vars:
    - {process: 0, lag: 1}
seed: 12
`)
	s, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, MeasureMI, s.Measure)
	assert.Equal(t, VariantBivariate, s.Variant)
	assert.Equal(t, "discrete", s.Estimator)
	assert.Equal(t, 4, s.NBins)
	assert.Equal(t, 3, s.MaxLagSources)
	assert.Equal(t, []Lag{{Process: 0, Lag: 1}}, s.AddConditionals.Vars)
	assert.Equal(t, uint64(12), s.Seed)
	// unspecified fields keep their defaults
	assert.Equal(t, 500, s.NPermOmnibus)
	assert.True(t, s.FDR)
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte("max_lag_sources: [1, 2]"))
	assert.Equal(t, apperrors.CodeConfigInvalid, apperrors.GetCode(err))

	_, err = Parse([]byte("tau_sources: 9"))
	assert.Equal(t, apperrors.CodeConfigInvalid, apperrors.GetCode(err))
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_lag_sources: 2\nmax_lag_target: 2\n"), 0o600))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, s.MaxLagSources)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Equal(t, apperrors.CodeConfigInvalid, apperrors.GetCode(err))
}
