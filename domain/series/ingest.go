package series

import (
	"strings"

	apperrors "goinfonet/internal/errors"
)

// Options controls how raw arrays are turned into a TimeSeries
type Options struct {
	// Normalise z-scores each process over all samples and replications.
	Normalise bool
}

// New builds a TimeSeries from a flat row-major array whose axes are named by
// dimOrder, a permutation of (a subset of) "p", "s" and "r". Missing axes have
// length one; e.g. "ps" describes a single replication, "s" a single process.
func New(values []float64, shape []int, dimOrder string, opts Options) (*TimeSeries, error) {
	dimOrder = strings.ToLower(strings.TrimSpace(dimOrder))
	if len(dimOrder) == 0 || len(dimOrder) > 3 {
		return nil, apperrors.ConfigInvalidf("dimension order %q must name 1 to 3 axes", dimOrder)
	}
	if len(shape) != len(dimOrder) {
		return nil, apperrors.ConfigInvalidf("dimension order %q does not match %d-dimensional shape", dimOrder, len(shape))
	}

	// axis position of p, s and r in the input, -1 if absent
	axis := map[byte]int{'p': -1, 's': -1, 'r': -1}
	for i := 0; i < len(dimOrder); i++ {
		c := dimOrder[i]
		pos, ok := axis[c]
		if !ok {
			return nil, apperrors.ConfigInvalidf("unknown dimension %q in order %q (use p, s, r)", string(c), dimOrder)
		}
		if pos != -1 {
			return nil, apperrors.ConfigInvalidf("dimension %q repeated in order %q", string(c), dimOrder)
		}
		axis[c] = i
	}
	if axis['s'] == -1 {
		return nil, apperrors.ConfigInvalidf("dimension order %q must contain a sample axis", dimOrder)
	}

	size := 1
	for _, n := range shape {
		if n <= 0 {
			return nil, apperrors.ConfigInvalidf("all dimensions must be positive, got shape %v", shape)
		}
		size *= n
	}
	if size != len(values) {
		return nil, apperrors.ConfigInvalidf("shape %v needs %d values, got %d", shape, size, len(values))
	}

	dim := func(c byte) int {
		if axis[c] == -1 {
			return 1
		}
		return shape[axis[c]]
	}
	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	strideOf := func(c byte) int {
		if axis[c] == -1 {
			return 0
		}
		return strides[axis[c]]
	}

	ts := &TimeSeries{
		values:        make([]float64, size),
		nProcesses:    dim('p'),
		nSamples:      dim('s'),
		nReplications: dim('r'),
	}
	sp, ss, sr := strideOf('p'), strideOf('s'), strideOf('r')
	for p := 0; p < ts.nProcesses; p++ {
		for s := 0; s < ts.nSamples; s++ {
			for r := 0; r < ts.nReplications; r++ {
				ts.values[ts.offset(p, s, r)] = values[p*sp+s*ss+r*sr]
			}
		}
	}

	if opts.Normalise {
		if err := ts.normalise(); err != nil {
			return nil, err
		}
	}
	return ts, nil
}

// FromNested builds a TimeSeries from data indexed [process][sample][replication].
func FromNested(data [][][]float64, opts Options) (*TimeSeries, error) {
	if len(data) == 0 || len(data[0]) == 0 || len(data[0][0]) == 0 {
		return nil, apperrors.ConfigInvalid("time series must contain at least one process, sample and replication")
	}
	nP, nS, nR := len(data), len(data[0]), len(data[0][0])
	flat := make([]float64, 0, nP*nS*nR)
	for p := range data {
		if len(data[p]) != nS {
			return nil, apperrors.ConfigInvalidf("process %d has %d samples, expected %d", p, len(data[p]), nS)
		}
		for s := range data[p] {
			if len(data[p][s]) != nR {
				return nil, apperrors.ConfigInvalidf("process %d sample %d has %d replications, expected %d", p, s, len(data[p][s]), nR)
			}
			flat = append(flat, data[p][s]...)
		}
	}
	return New(flat, []int{nP, nS, nR}, "psr", opts)
}

// FromProcesses builds a single-replication TimeSeries from one slice per process.
func FromProcesses(processes [][]float64, opts Options) (*TimeSeries, error) {
	if len(processes) == 0 || len(processes[0]) == 0 {
		return nil, apperrors.ConfigInvalid("time series must contain at least one process and sample")
	}
	nS := len(processes[0])
	flat := make([]float64, 0, len(processes)*nS)
	for p, values := range processes {
		if len(values) != nS {
			return nil, apperrors.ConfigInvalidf("process %d has %d samples, expected %d", p, len(values), nS)
		}
		flat = append(flat, values...)
	}
	return New(flat, []int{len(processes), nS}, "ps", opts)
}
