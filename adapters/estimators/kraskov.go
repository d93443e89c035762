package estimators

import (
	"context"
	"math"
	"sort"

	"goinfonet/domain/series"
	apperrors "goinfonet/internal/errors"
	"goinfonet/ports"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/mathext"
)

// DefaultKraskovK is the default neighbour count of the Kraskov estimator
const DefaultKraskovK = 4

// Kraskov is the nearest-neighbour CMI estimator (KSG algorithm 1 with the
// Frenzel-Pompe conditional extension) under the maximum norm. Neighbour
// searches are exhaustive, so cost grows quadratically with realisations.
type Kraskov struct {
	K int
}

var _ ports.CMIEstimator = (*Kraskov)(nil)

// NewKraskov creates a new nearest-neighbour estimator
func NewKraskov(k int) *Kraskov {
	if k <= 0 {
		k = DefaultKraskovK
	}
	return &Kraskov{K: k}
}

// Name returns the registry name
func (e *Kraskov) Name() string { return NameKraskov }

// Estimate returns the KSG estimate in nats
func (e *Kraskov) Estimate(ctx context.Context, source, target, conditional *mat.Dense) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n, err := checkInputs(source, target, conditional)
	if err != nil {
		return 0, apperrors.EstimatorFailed(e.Name(), err)
	}
	if n <= e.K {
		return 0, apperrors.EstimatorFailed(e.Name(), apperrors.InvalidInput("fewer realisations than neighbours"))
	}

	_, nx := source.Dims()
	_, ny := target.Dims()
	joint := series.HStack(source, target, conditional)
	_, total := joint.Dims()
	x := span(0, nx)
	y := span(nx, nx+ny)
	z := span(nx+ny, total)
	xz := append(append([]int{}, x...), z...)
	yz := append(append([]int{}, y...), z...)
	all := span(0, total)

	sum := 0.0
	dists := make([]float64, 0, n-1)
	for i := 0; i < n; i++ {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
		}
		dists = dists[:0]
		for j := 0; j < n; j++ {
			if j != i {
				dists = append(dists, maxNorm(joint, i, j, all))
			}
		}
		sort.Float64s(dists)
		eps := dists[e.K-1]

		if len(z) == 0 {
			nX := countWithin(joint, i, x, eps)
			nY := countWithin(joint, i, y, eps)
			sum += mathext.Digamma(float64(nX+1)) + mathext.Digamma(float64(nY+1))
			continue
		}
		nXZ := countWithin(joint, i, xz, eps)
		nYZ := countWithin(joint, i, yz, eps)
		nZ := countWithin(joint, i, z, eps)
		sum += mathext.Digamma(float64(nXZ+1)) + mathext.Digamma(float64(nYZ+1)) - mathext.Digamma(float64(nZ+1))
	}

	var cmi float64
	if len(z) == 0 {
		cmi = mathext.Digamma(float64(e.K)) + mathext.Digamma(float64(n)) - sum/float64(n)
	} else {
		cmi = mathext.Digamma(float64(e.K)) - sum/float64(n)
	}
	if math.IsNaN(cmi) || math.IsInf(cmi, 0) {
		return 0, apperrors.EstimatorFailed(e.Name(), apperrors.InternalError("non-finite estimate"))
	}
	return cmi, nil
}

func maxNorm(m *mat.Dense, i, j int, cols []int) float64 {
	d := 0.0
	for _, c := range cols {
		if v := math.Abs(m.At(i, c) - m.At(j, c)); v > d {
			d = v
		}
	}
	return d
}

// countWithin counts points other than i strictly closer than eps in the subspace
func countWithin(m *mat.Dense, i int, cols []int, eps float64) int {
	rows, _ := m.Dims()
	count := 0
	for j := 0; j < rows; j++ {
		if j != i && maxNorm(m, i, j, cols) < eps {
			count++
		}
	}
	return count
}
