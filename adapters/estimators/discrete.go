package estimators

import (
	"context"
	"encoding/binary"
	"math"
	"sort"

	"goinfonet/domain/series"
	apperrors "goinfonet/internal/errors"
	"goinfonet/ports"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Discrete estimates CMI from plug-in entropies of symbol counts. Continuous
// inputs are mapped to Bins equal-width bins per column; with Bins == 0 the
// values are rounded to the nearest integer symbol.
type Discrete struct {
	Bins int
}

var _ ports.CMIEstimator = (*Discrete)(nil)

// NewDiscrete creates a new plug-in estimator
func NewDiscrete(bins int) *Discrete {
	return &Discrete{Bins: bins}
}

// Name returns the registry name
func (d *Discrete) Name() string { return NameDiscrete }

// Estimate returns H(XZ) + H(YZ) - H(Z) - H(XYZ) in nats
func (d *Discrete) Estimate(ctx context.Context, source, target, conditional *mat.Dense) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if _, err := checkInputs(source, target, conditional); err != nil {
		return 0, apperrors.EstimatorFailed(d.Name(), err)
	}

	_, nx := source.Dims()
	_, ny := target.Dims()
	symbols := d.symbolise(series.HStack(source, target, conditional))
	_, total := symbols.Dims()

	x := span(0, nx)
	y := span(nx, nx+ny)
	z := span(nx+ny, total)

	cmi := d.entropy(symbols, append(append([]int{}, x...), z...)) +
		d.entropy(symbols, append(append([]int{}, y...), z...)) -
		d.entropy(symbols, z) -
		d.entropy(symbols, span(0, total))
	// plug-in estimates can dip below zero by rounding only
	if cmi < 0 && cmi > -1e-12 {
		cmi = 0
	}
	return cmi, nil
}

// symbolise maps each column to integer symbols
func (d *Discrete) symbolise(m *mat.Dense) *mat.Dense {
	rows, cols := m.Dims()
	out := mat.NewDense(rows, cols, nil)
	col := make([]float64, rows)
	for j := 0; j < cols; j++ {
		mat.Col(col, j, m)
		if d.Bins <= 0 {
			for i, v := range col {
				out.Set(i, j, math.Round(v))
			}
			continue
		}
		lo, hi := floats.Min(col), floats.Max(col)
		width := (hi - lo) / float64(d.Bins)
		for i, v := range col {
			bin := 0
			if width > 0 {
				bin = int((v - lo) / width)
				if bin >= d.Bins {
					bin = d.Bins - 1
				}
			}
			out.Set(i, j, float64(bin))
		}
	}
	return out
}

// entropy returns the plug-in joint entropy of the listed symbol columns
func (d *Discrete) entropy(symbols *mat.Dense, cols []int) float64 {
	if len(cols) == 0 {
		return 0
	}
	rows, _ := symbols.Dims()
	counts := make(map[string]int)
	key := make([]byte, 0, 8*len(cols))
	for i := 0; i < rows; i++ {
		key = key[:0]
		for _, c := range cols {
			key = binary.AppendVarint(key, int64(symbols.At(i, c)))
		}
		counts[string(key)]++
	}
	p := make([]float64, 0, len(counts))
	for _, c := range counts {
		p = append(p, float64(c)/float64(rows))
	}
	// fixed summation order keeps repeated estimates bit-identical
	sort.Float64s(p)
	return stat.Entropy(p)
}

func span(from, to int) []int {
	out := make([]int, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, i)
	}
	return out
}
