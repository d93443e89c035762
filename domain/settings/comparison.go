package settings

import (
	stderrors "errors"
	"strings"

	apperrors "goinfonet/internal/errors"

	"github.com/go-playground/validator/v10"
)

// StatsType selects how comparison labels are exchanged under the null
type StatsType string

const (
	// StatsDependent swaps paired replications or subjects
	StatsDependent StatsType = "dependent"
	// StatsIndependent shuffles pooled replications or subjects
	StatsIndependent StatsType = "independent"
)

// Comparison configures a statistical comparison of two inferred networks
type Comparison struct {
	NPerm     int       `json:"n_perm_comp" yaml:"n_perm_comp" validate:"gte=1"`
	Alpha     float64   `json:"alpha_comp" yaml:"alpha_comp" validate:"gt=0,lt=1"`
	Tail      Tail      `json:"tail_comp" yaml:"tail_comp" validate:"oneof=one two"`
	StatsType StatsType `json:"stats_type" yaml:"stats_type" validate:"oneof=dependent independent"`
	Seed      uint64    `json:"seed" yaml:"seed"`
}

// DefaultComparison returns two-sided comparison settings over 500 permutations
func DefaultComparison() Comparison {
	return Comparison{
		NPerm:     500,
		Alpha:     0.05,
		Tail:      TailTwo,
		StatsType: StatsIndependent,
	}
}

// Validate checks ranges and that n_perm_comp can resolve alpha_comp
func (c Comparison) Validate() error {
	if err := structValidator().Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if stderrors.As(err, &fieldErrs) {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, describeFieldError(fe))
			}
			return apperrors.ConfigInvalidf("invalid comparison settings: %s", strings.Join(msgs, "; "))
		}
		return apperrors.WithCode(apperrors.CodeConfigInvalid, err)
	}
	if err := CheckResolution(c.NPerm, c.Alpha); err != nil {
		return apperrors.Wrap(err, "n_perm_comp")
	}
	return nil
}
