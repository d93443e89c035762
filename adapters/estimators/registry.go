// Package estimators provides the conditional mutual information estimators
// that the network inference engine can be configured with.
package estimators

import (
	"sort"
	"strings"

	apperrors "goinfonet/internal/errors"
	"goinfonet/ports"
)

// Registry names
const (
	NameGaussian = "gaussian"
	NameDiscrete = "discrete"
	NameKraskov  = "kraskov"
)

// Options carries estimator-specific parameters
type Options struct {
	Bins  int
	K     int
	Ridge float64
}

// New returns the estimator registered under name
func New(name string, opts Options) (ports.CMIEstimator, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case NameGaussian, "gaussian_cmi", "jidt_gaussian_cmi":
		return NewGaussian(opts.Ridge), nil

	case NameDiscrete, "discrete_cmi", "jidt_discrete_cmi":
		return NewDiscrete(opts.Bins), nil

	case NameKraskov, "ksg", "kraskov_cmi", "jidt_kraskov_cmi":
		return NewKraskov(opts.K), nil

	default:
		return nil, apperrors.ConfigInvalidf("unknown CMI estimator %q (available: %s)", name, strings.Join(Names(), ", "))
	}
}

// Names lists the canonical estimator names
func Names() []string {
	names := []string{NameGaussian, NameDiscrete, NameKraskov}
	sort.Strings(names)
	return names
}
