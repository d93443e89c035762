package ports

import (
	"context"

	"gonum.org/v1/gonum/mat"
)

// CMIEstimator estimates conditional mutual information between realisation
// matrices. Rows are paired realisations; columns are variables.
type CMIEstimator interface {
	// Name returns the registry name of the estimator
	Name() string

	// Estimate returns I(source; target | conditional) in nats. A nil
	// conditional means an unconditional mutual information.
	Estimate(ctx context.Context, source, target, conditional *mat.Dense) (float64, error)
}

// EstimationInput bundles the matrices of one estimation in a batch
type EstimationInput struct {
	Source      *mat.Dense
	Target      *mat.Dense
	Conditional *mat.Dense
}
