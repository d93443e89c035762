package estimators

import (
	"context"
	"math"

	"goinfonet/domain/series"
	apperrors "goinfonet/internal/errors"
	"goinfonet/ports"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// DefaultRidge is added to covariance diagonals before factorisation
const DefaultRidge = 1e-10

// Gaussian estimates CMI under a linear-Gaussian model from log-determinants
// of sample covariance matrices:
//
//	I(X;Y|Z) = 1/2 [ln|S_XZ| + ln|S_YZ| - ln|S_Z| - ln|S_XYZ|]
type Gaussian struct {
	Ridge float64
}

var _ ports.CMIEstimator = (*Gaussian)(nil)

// NewGaussian creates a new Gaussian estimator
func NewGaussian(ridge float64) *Gaussian {
	if ridge <= 0 {
		ridge = DefaultRidge
	}
	return &Gaussian{Ridge: ridge}
}

// Name returns the registry name
func (g *Gaussian) Name() string { return NameGaussian }

// Estimate returns the Gaussian CMI in nats
func (g *Gaussian) Estimate(ctx context.Context, source, target, conditional *mat.Dense) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n, err := checkInputs(source, target, conditional)
	if err != nil {
		return 0, apperrors.EstimatorFailed(g.Name(), err)
	}
	if n <= width(source)+width(target)+width(conditional) {
		return 0, apperrors.EstimatorFailed(g.Name(), apperrors.InvalidInput("fewer realisations than variables"))
	}

	lxz, err := g.logDetCov(series.HStack(source, conditional))
	if err != nil {
		return 0, err
	}
	lyz, err := g.logDetCov(series.HStack(target, conditional))
	if err != nil {
		return 0, err
	}
	lz, err := g.logDetCov(conditional)
	if err != nil {
		return 0, err
	}
	lxyz, err := g.logDetCov(series.HStack(source, target, conditional))
	if err != nil {
		return 0, err
	}

	cmi := 0.5 * (lxz + lyz - lz - lxyz)
	if math.IsNaN(cmi) || math.IsInf(cmi, 0) {
		return 0, apperrors.EstimatorFailed(g.Name(), apperrors.InternalError("non-finite estimate"))
	}
	return cmi, nil
}

// logDetCov returns ln|cov(m)|, or 0 for a nil matrix
func (g *Gaussian) logDetCov(m *mat.Dense) (float64, error) {
	if m == nil {
		return 0, nil
	}
	_, c := m.Dims()
	cov := mat.NewSymDense(c, nil)
	stat.CovarianceMatrix(cov, m, nil)
	for i := 0; i < c; i++ {
		cov.SetSym(i, i, cov.At(i, i)+g.Ridge)
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(cov); !ok {
		return 0, apperrors.EstimatorFailed(g.Name(), apperrors.InternalError("covariance matrix is not positive definite"))
	}
	return chol.LogDet(), nil
}

// checkInputs returns the shared row count of the non-nil inputs
func checkInputs(source, target, conditional *mat.Dense) (int, error) {
	if source == nil || target == nil {
		return 0, apperrors.InvalidInput("source and target realisations are required")
	}
	n, _ := source.Dims()
	if r, _ := target.Dims(); r != n {
		return 0, apperrors.InvalidInput("source and target realisations differ in length")
	}
	if conditional != nil {
		if r, _ := conditional.Dims(); r != n {
			return 0, apperrors.InvalidInput("conditional realisations differ in length")
		}
	}
	if n < 2 {
		return 0, apperrors.InvalidInput("at least two realisations are required")
	}
	return n, nil
}

func width(m *mat.Dense) int {
	if m == nil {
		return 0
	}
	_, c := m.Dims()
	return c
}
