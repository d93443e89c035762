package settings

import (
	stderrors "errors"
	"fmt"
	"strings"
	"sync"

	apperrors "goinfonet/internal/errors"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks field ranges and cross-field rules. Every failure is a
// configuration error and is reported before any estimation work begins.
func (s Settings) Validate() error {
	if err := structValidator().Struct(s); err != nil {
		var fieldErrs validator.ValidationErrors
		if stderrors.As(err, &fieldErrs) {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, describeFieldError(fe))
			}
			return apperrors.ConfigInvalidf("invalid settings: %s", strings.Join(msgs, "; "))
		}
		return apperrors.WithCode(apperrors.CodeConfigInvalid, err)
	}

	// a zero max lag only admits lag-0 sources, so tau is irrelevant there
	if s.MaxLagSources > 0 && s.TauSources > s.MaxLagSources {
		return apperrors.ConfigInvalidf("tau_sources (%d) has to be smaller than max_lag_sources (%d)", s.TauSources, s.MaxLagSources)
	}
	if s.Measure == MeasureTE {
		if s.MinLagSources < 1 {
			return apperrors.ConfigInvalidf("min_lag_sources has to be an integer >= 1 for transfer entropy, got %d", s.MinLagSources)
		}
		if s.MaxLagTarget < 1 {
			return apperrors.ConfigInvalidf("max_lag_target has to be an integer >= 1 for transfer entropy, got %d", s.MaxLagTarget)
		}
		if s.TauTarget > s.MaxLagTarget {
			return apperrors.ConfigInvalidf("tau_target (%d) has to be smaller than max_lag_target (%d)", s.TauTarget, s.MaxLagTarget)
		}
	}
	if s.AddConditionals.Mode == ConditionalsManual && len(s.AddConditionals.Vars) == 0 {
		return apperrors.ConfigInvalid("add_conditionals mode manual requires at least one variable")
	}
	if s.AddConditionals.Mode != ConditionalsManual && len(s.AddConditionals.Vars) > 0 {
		return apperrors.ConfigInvalidf("add_conditionals variables given with mode %q", s.AddConditionals.Mode)
	}

	type resolution struct {
		name  string
		nPerm int
		alpha float64
	}
	checks := []resolution{
		{"max_stat", s.NPermMaxStat, s.AlphaMaxStat},
		{"omnibus", s.NPermOmnibus, s.AlphaOmnibus},
		{"max_seq", s.NPermMaxSeq, s.AlphaMaxSeq},
	}
	if s.MinStatPruning {
		checks = append(checks, resolution{"min_stat", s.NPermMinStat, s.AlphaMinStat})
	}
	for _, c := range checks {
		if err := CheckResolution(c.nPerm, c.alpha); err != nil {
			return apperrors.Wrapf(err, "n_perm_%s", c.name)
		}
	}
	return nil
}

// CheckResolution fails when n permutations cannot produce a p-value small
// enough to reject at alpha. The smallest p-value of either tail is 1/(n+1).
func CheckResolution(nPerm int, alpha float64) error {
	smallest := 1 / float64(nPerm+1)
	if smallest > alpha {
		return apperrors.ConfigInvalidf("%d permutations give a smallest p-value of %.4g, which can never reach alpha %.4g", nPerm, smallest, alpha)
	}
	return nil
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %v", fe.Field(), fe.Param(), fe.Value())
	case "gtefield":
		return fmt.Sprintf("%s (%v) must be >= %s", fe.Field(), fe.Value(), fe.Param())
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	default:
		return fmt.Sprintf("%s failed %s=%s (got %v)", fe.Field(), fe.Tag(), fe.Param(), fe.Value())
	}
}
