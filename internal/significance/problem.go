package significance

import (
	"fmt"
	"math/rand/v2"

	"goinfonet/domain/series"
	apperrors "goinfonet/internal/errors"
	"goinfonet/ports"

	"gonum.org/v1/gonum/mat"
)

// Problem is the shared context of every test run for one target at one
// analysis step: the target realisations, how surrogates are drawn, and the
// seed material that makes every null distribution reproducible.
type Problem struct {
	// Target holds the realisations of the current value
	Target        *mat.Dense
	NReplications int
	Permutation   series.PermutationOptions
	Streams       ports.RNGPort
	Seed          uint64
	// Name prefixes every random stream, e.g. "target-2/step-3"
	Name string
}

// rng returns the generator of permutation i of the named test. Streams
// depend only on their name, so results do not depend on scheduling.
func (p Problem) rng(test string, i int) *rand.Rand {
	return p.Streams.Stream(fmt.Sprintf("%s/%s/%d", p.Name, test, i), p.Seed)
}

// rowsPerReplication returns the number of time points per replication
func (p Problem) rowsPerReplication() int {
	rows, _ := p.Target.Dims()
	if p.NReplications <= 0 {
		return rows
	}
	return rows / p.NReplications
}

// CheckPower fails when the surrogate scheme cannot produce nPerm distinct
// permutations, e.g. permuting 4 replications (24 orderings) 200 times.
func (p Problem) CheckPower(nPerm int) error {
	available := series.AvailablePermutations(p.rowsPerReplication(), p.NReplications, p.Permutation)
	if available < float64(nPerm) {
		scheme := "replications"
		if p.Permutation.InTime {
			scheme = fmt.Sprintf("samples in time (%s)", p.Permutation.Type)
		}
		return apperrors.Underpowered("permuting %s yields %.0f distinct surrogates, fewer than the %d permutations requested", scheme, available, nPerm)
	}
	return nil
}

// Candidate pairs the realisations of a variable, or a group of variables
// tested jointly, with the set it is conditioned on.
type Candidate struct {
	Realisations *mat.Dense
	Conditional  *mat.Dense
}
