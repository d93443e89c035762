// Package settings defines the validated configuration of a network analysis.
// A Settings value is built once, validated, and passed by value to every
// component; results carry the value they were produced with.
package settings

import (
	"os"

	"goinfonet/domain/core"
	"goinfonet/domain/series"
	apperrors "goinfonet/internal/errors"

	"gopkg.in/yaml.v3"
)

// Measure selects the information measure being maximised
type Measure string

const (
	MeasureTE Measure = "te"
	MeasureMI Measure = "mi"
)

// Variant selects how source candidates condition on each other
type Variant string

const (
	VariantMultivariate Variant = "multivariate"
	VariantBivariate    Variant = "bivariate"
)

// Tail selects one- or two-sided p-values
type Tail string

const (
	TailOne Tail = "one"
	TailTwo Tail = "two"
)

// ConditionalsMode selects variables forced into the conditioning set
type ConditionalsMode string

const (
	ConditionalsNone   ConditionalsMode = "none"
	ConditionalsFaes   ConditionalsMode = "faes"
	ConditionalsManual ConditionalsMode = "manual"
)

// Lag names a variable by process and lag relative to the current value
type Lag struct {
	Process int `json:"process" yaml:"process" validate:"gte=0"`
	Lag     int `json:"lag" yaml:"lag" validate:"gte=0"`
}

// Conditionals configures variables added to the conditioning set without testing
type Conditionals struct {
	Mode ConditionalsMode `json:"mode" yaml:"mode" validate:"oneof=none faes manual"`
	Vars []Lag            `json:"vars,omitempty" yaml:"vars,omitempty" validate:"dive"`
}

// Settings holds every parameter that influences an analysis result
type Settings struct {
	Measure Measure `json:"measure" yaml:"measure" validate:"oneof=te mi"`
	Variant Variant `json:"variant" yaml:"variant" validate:"oneof=multivariate bivariate"`

	// Estimator names a registered CMI estimator ("gaussian", "discrete", ...).
	Estimator string `json:"cmi_estimator" yaml:"cmi_estimator" validate:"required"`
	// NBins is the number of equal-width bins used by the discrete estimator;
	// 0 means the data are already integer symbols.
	NBins int `json:"n_bins" yaml:"n_bins" validate:"gte=0"`
	// KraskovK is the neighbour count of the nearest-neighbour estimator.
	KraskovK int `json:"kraskov_k" yaml:"kraskov_k" validate:"gte=1"`

	MinLagSources int `json:"min_lag_sources" yaml:"min_lag_sources" validate:"gte=0"`
	MaxLagSources int `json:"max_lag_sources" yaml:"max_lag_sources" validate:"gte=0,gtefield=MinLagSources"`
	MaxLagTarget  int `json:"max_lag_target" yaml:"max_lag_target" validate:"gte=0"`
	TauSources    int `json:"tau_sources" yaml:"tau_sources" validate:"gte=1"`
	TauTarget     int `json:"tau_target" yaml:"tau_target" validate:"gte=1"`

	NPermMaxStat int `json:"n_perm_max_stat" yaml:"n_perm_max_stat" validate:"gte=1"`
	NPermMinStat int `json:"n_perm_min_stat" yaml:"n_perm_min_stat" validate:"gte=1"`
	NPermOmnibus int `json:"n_perm_omnibus" yaml:"n_perm_omnibus" validate:"gte=1"`
	NPermMaxSeq  int `json:"n_perm_max_seq" yaml:"n_perm_max_seq" validate:"gte=1"`

	AlphaMaxStat float64 `json:"alpha_max_stat" yaml:"alpha_max_stat" validate:"gt=0,lt=1"`
	AlphaMinStat float64 `json:"alpha_min_stat" yaml:"alpha_min_stat" validate:"gt=0,lt=1"`
	AlphaOmnibus float64 `json:"alpha_omnibus" yaml:"alpha_omnibus" validate:"gt=0,lt=1"`
	AlphaMaxSeq  float64 `json:"alpha_max_seq" yaml:"alpha_max_seq" validate:"gt=0,lt=1"`
	Tail         Tail    `json:"tail" yaml:"tail" validate:"oneof=one two"`

	// MinStatPruning runs the minimum-statistic removal pass before the
	// sequential maximum-statistic pruning.
	MinStatPruning bool `json:"min_stat_pruning" yaml:"min_stat_pruning"`

	AddConditionals Conditionals `json:"add_conditionals" yaml:"add_conditionals"`

	PermuteInTime bool            `json:"permute_in_time" yaml:"permute_in_time"`
	PermType      series.PermType `json:"perm_type" yaml:"perm_type" validate:"oneof=random circular block"`
	MaxShift      int             `json:"max_shift" yaml:"max_shift" validate:"gte=0"`
	BlockSize     int             `json:"block_size" yaml:"block_size" validate:"gte=0"`

	FDR                bool    `json:"fdr" yaml:"fdr"`
	AlphaFDR           float64 `json:"alpha_fdr" yaml:"alpha_fdr" validate:"gt=0,lt=1"`
	FDRCorrectByTarget bool    `json:"fdr_correct_by_target" yaml:"fdr_correct_by_target"`

	Seed uint64 `json:"seed" yaml:"seed"`
}

// Default returns the settings used when a field is not given explicitly
func Default() Settings {
	return Settings{
		Measure:            MeasureTE,
		Variant:            VariantMultivariate,
		Estimator:          "gaussian",
		KraskovK:           4,
		MinLagSources:      1,
		MaxLagSources:      5,
		MaxLagTarget:       5,
		TauSources:         1,
		TauTarget:          1,
		NPermMaxStat:       200,
		NPermMinStat:       500,
		NPermOmnibus:       500,
		NPermMaxSeq:        500,
		AlphaMaxStat:       0.05,
		AlphaMinStat:       0.05,
		AlphaOmnibus:       0.05,
		AlphaMaxSeq:        0.05,
		Tail:               TailOne,
		MinStatPruning:     true,
		AddConditionals:    Conditionals{Mode: ConditionalsNone},
		PermType:           series.PermRandom,
		FDR:                true,
		AlphaFDR:           0.05,
		FDRCorrectByTarget: true,
	}
}

// Load reads settings from a YAML file on top of Default and validates them
func Load(path string) (Settings, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, apperrors.WithCode(apperrors.CodeConfigInvalid, apperrors.Wrapf(err, "failed to read settings file %s", path))
	}
	return Parse(raw)
}

// Parse decodes YAML settings on top of Default and validates them
func Parse(raw []byte) (Settings, error) {
	s := Default()
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return Settings{}, apperrors.WithCode(apperrors.CodeConfigInvalid, apperrors.Wrap(err, "failed to parse settings"))
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// MaxLag returns the largest lag any candidate may have
func (s Settings) MaxLag() int {
	if s.Measure == MeasureTE && s.MaxLagTarget > s.MaxLagSources {
		return s.MaxLagTarget
	}
	return s.MaxLagSources
}

// Permutation returns the surrogate generation options
func (s Settings) Permutation() series.PermutationOptions {
	return series.PermutationOptions{
		InTime:    s.PermuteInTime,
		Type:      s.PermType,
		MaxShift:  s.MaxShift,
		BlockSize: s.BlockSize,
	}
}

// MaxPermutations returns the largest permutation count any test will request
func (s Settings) MaxPermutations() int {
	n := s.NPermMaxStat
	for _, m := range []int{s.NPermOmnibus, s.NPermMaxSeq} {
		if m > n {
			n = m
		}
	}
	if s.MinStatPruning && s.NPermMinStat > n {
		n = s.NPermMinStat
	}
	return n
}

// Fingerprint returns a hash identifying the settings value
func (s Settings) Fingerprint() (core.Hash, error) {
	return core.Fingerprint(s)
}

// Equal reports whether two settings values are structurally identical
func (s Settings) Equal(other Settings) bool {
	a, errA := s.Fingerprint()
	b, errB := other.Fingerprint()
	return errA == nil && errB == nil && a.Equals(b)
}
