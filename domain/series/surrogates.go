package series

import (
	"math"
	"math/rand/v2"

	apperrors "goinfonet/internal/errors"

	"gonum.org/v1/gonum/mat"
)

// PermType selects how samples are reordered in time
type PermType string

const (
	PermRandom   PermType = "random"
	PermCircular PermType = "circular"
	PermBlock    PermType = "block"
)

// PermutationOptions describes how surrogate data are generated.
type PermutationOptions struct {
	// InTime permutes samples within each replication instead of permuting
	// whole replications.
	InTime    bool     `json:"in_time"`
	Type      PermType `json:"type"`
	MaxShift  int      `json:"max_shift"`
	BlockSize int      `json:"block_size"`
}

// NewRand returns a deterministic generator for the given seed and stream
func NewRand(seed, stream uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, stream))
}

// SurrogateRows returns a copy of real, a realisation matrix laid out as
// returned by GetRealisations, with its rows reordered. Without InTime whole
// replication blocks are permuted; with InTime the time points inside each
// replication are reordered according to opts.Type. All columns share one
// reordering, so dependencies between them survive while their relation to
// any other matrix is destroyed.
func SurrogateRows(real *mat.Dense, nReplications int, opts PermutationOptions, rng *rand.Rand) (*mat.Dense, error) {
	rows, cols := real.Dims()
	if nReplications <= 0 || rows%nReplications != 0 {
		return nil, apperrors.IndexOutOfRange("%d realisations cannot be split into %d replications", rows, nReplications)
	}
	n := rows / nReplications
	out := mat.NewDense(rows, cols, nil)

	if !opts.InTime {
		perm := rng.Perm(nReplications)
		for r := 0; r < nReplications; r++ {
			src := real.Slice(perm[r]*n, (perm[r]+1)*n, 0, cols)
			out.Slice(r*n, (r+1)*n, 0, cols).(*mat.Dense).Copy(src)
		}
		return out, nil
	}

	for r := 0; r < nReplications; r++ {
		idx := timePermutation(n, opts, rng)
		for t := 0; t < n; t++ {
			out.SetRow(r*n+t, mat.Row(nil, r*n+idx[t], real))
		}
	}
	return out, nil
}

// timePermutation returns a reordering of n time indices
func timePermutation(n int, opts PermutationOptions, rng *rand.Rand) []int {
	idx := make([]int, n)
	switch opts.Type {
	case PermCircular:
		if n < 2 {
			idx[0] = 0
			return idx
		}
		maxShift := opts.MaxShift
		if maxShift <= 0 || maxShift >= n {
			maxShift = n - 1
		}
		shift := 1 + rng.IntN(maxShift)
		for t := range idx {
			idx[t] = (t + shift) % n
		}
	case PermBlock:
		size := blockSize(n, opts.BlockSize)
		nBlocks := (n + size - 1) / size
		pos := 0
		for _, b := range rng.Perm(nBlocks) {
			for t := b * size; t < (b+1)*size && t < n; t++ {
				idx[pos] = t
				pos++
			}
		}
	default:
		copy(idx, rng.Perm(n))
	}
	return idx
}

func blockSize(n, requested int) int {
	if requested > 0 {
		return requested
	}
	if n >= 10 {
		return n / 10
	}
	return 1
}

// AvailablePermutations returns how many distinct surrogates the options can
// produce for n time points per replication, saturating at +Inf.
func AvailablePermutations(n, nReplications int, opts PermutationOptions) float64 {
	if !opts.InTime {
		return factorial(nReplications)
	}
	switch opts.Type {
	case PermCircular:
		maxShift := opts.MaxShift
		if maxShift <= 0 || maxShift >= n {
			maxShift = n - 1
		}
		return math.Pow(float64(maxShift), float64(nReplications))
	case PermBlock:
		size := blockSize(n, opts.BlockSize)
		return math.Pow(factorial((n+size-1)/size), float64(nReplications))
	default:
		return math.Pow(factorial(n), float64(nReplications))
	}
}

func factorial(n int) float64 {
	if n > 170 {
		return math.Inf(1)
	}
	out := 1.0
	for i := 2; i <= n; i++ {
		out *= float64(i)
	}
	return out
}

// PermuteReplications returns a surrogate series in which, for each listed
// process (all processes if none are given), the replication axis is
// shuffled. Each process receives its own permutation, applied identically to
// all of its samples.
func (ts *TimeSeries) PermuteReplications(seed uint64, processes ...int) (*TimeSeries, error) {
	procs, err := ts.processList(processes)
	if err != nil {
		return nil, err
	}
	rng := NewRand(seed, 0)
	out := ts.clone()
	for _, p := range procs {
		perm := rng.Perm(ts.nReplications)
		for s := 0; s < ts.nSamples; s++ {
			for r := 0; r < ts.nReplications; r++ {
				out.values[out.offset(p, s, r)] = ts.At(p, s, perm[r])
			}
		}
	}
	return out, nil
}

// PermuteInTime returns a surrogate series in which the samples of each listed
// process are reordered within every replication according to opts.Type. It
// is the surrogate of choice when only one replication exists.
func (ts *TimeSeries) PermuteInTime(seed uint64, opts PermutationOptions, processes ...int) (*TimeSeries, error) {
	procs, err := ts.processList(processes)
	if err != nil {
		return nil, err
	}
	rng := NewRand(seed, 1)
	out := ts.clone()
	for _, p := range procs {
		for r := 0; r < ts.nReplications; r++ {
			idx := timePermutation(ts.nSamples, opts, rng)
			for s := 0; s < ts.nSamples; s++ {
				out.values[out.offset(p, s, r)] = ts.At(p, idx[s], r)
			}
		}
	}
	return out, nil
}

func (ts *TimeSeries) processList(processes []int) ([]int, error) {
	if len(processes) == 0 {
		all := make([]int, ts.nProcesses)
		for p := range all {
			all[p] = p
		}
		return all, nil
	}
	for _, p := range processes {
		if p < 0 || p >= ts.nProcesses {
			return nil, apperrors.IndexOutOfRange("process %d outside [0, %d)", p, ts.nProcesses)
		}
	}
	return processes, nil
}

// Regroup builds two series from the pooled replications of a and b. Pooled
// index i refers to replication i of a for i < a.NReplications() and to
// replication i-a.NReplications() of b otherwise.
func Regroup(a, b *TimeSeries, groupA, groupB []int) (*TimeSeries, *TimeSeries, error) {
	if a.nProcesses != b.nProcesses || a.nSamples != b.nSamples {
		return nil, nil, apperrors.InvalidInput("series must share process and sample counts to exchange replications")
	}
	if len(groupA) == 0 || len(groupB) == 0 {
		return nil, nil, apperrors.InvalidInput("both groups need at least one replication")
	}
	pick := func(i int) (*TimeSeries, int, error) {
		switch {
		case i >= 0 && i < a.nReplications:
			return a, i, nil
		case i >= a.nReplications && i < a.nReplications+b.nReplications:
			return b, i - a.nReplications, nil
		default:
			return nil, 0, apperrors.IndexOutOfRange("pooled replication %d outside [0, %d)", i, a.nReplications+b.nReplications)
		}
	}
	build := func(group []int) (*TimeSeries, error) {
		out := &TimeSeries{
			values:        make([]float64, a.nProcesses*a.nSamples*len(group)),
			nProcesses:    a.nProcesses,
			nSamples:      a.nSamples,
			nReplications: len(group),
			normalised:    a.normalised && b.normalised,
		}
		for j, i := range group {
			src, r, err := pick(i)
			if err != nil {
				return nil, err
			}
			for p := 0; p < a.nProcesses; p++ {
				for s := 0; s < a.nSamples; s++ {
					out.values[out.offset(p, s, j)] = src.At(p, s, r)
				}
			}
		}
		return out, nil
	}
	outA, err := build(groupA)
	if err != nil {
		return nil, nil, err
	}
	outB, err := build(groupB)
	if err != nil {
		return nil, nil, err
	}
	return outA, outB, nil
}
