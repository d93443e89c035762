// Package series holds multivariate time series and extracts the realisations
// of lagged variables that all information estimates are computed from.
package series

import (
	"fmt"

	apperrors "goinfonet/internal/errors"

	"github.com/montanaflynn/stats"
)

// Variable identifies one observation of one process by absolute sample index.
type Variable struct {
	Process int `json:"process"`
	Sample  int `json:"sample"`
}

// String renders the variable as (process, sample)
func (v Variable) String() string {
	return fmt.Sprintf("(%d, %d)", v.Process, v.Sample)
}

// Lag returns how many samples v lies before the current value
func (v Variable) Lag(current Variable) int {
	return current.Sample - v.Sample
}

// FromLag converts a (process, lag) pair into an absolute variable relative to
// the current value.
func FromLag(process, lag int, current Variable) Variable {
	return Variable{Process: process, Sample: current.Sample - lag}
}

// TimeSeries stores a process x sample x replication array in canonical
// order. It is immutable once constructed and safe for concurrent reads.
type TimeSeries struct {
	values        []float64
	nProcesses    int
	nSamples      int
	nReplications int
	normalised    bool
}

// Dims returns (processes, samples, replications)
func (ts *TimeSeries) Dims() (int, int, int) {
	return ts.nProcesses, ts.nSamples, ts.nReplications
}

// NProcesses returns the number of processes
func (ts *TimeSeries) NProcesses() int { return ts.nProcesses }

// NSamples returns the number of samples per replication
func (ts *TimeSeries) NSamples() int { return ts.nSamples }

// NReplications returns the number of replications
func (ts *TimeSeries) NReplications() int { return ts.nReplications }

// Normalised reports whether processes were z-scored at construction
func (ts *TimeSeries) Normalised() bool { return ts.normalised }

// At returns the value of process p at sample s in replication r
func (ts *TimeSeries) At(p, s, r int) float64 {
	return ts.values[ts.offset(p, s, r)]
}

func (ts *TimeSeries) offset(p, s, r int) int {
	return (p*ts.nSamples+s)*ts.nReplications + r
}

// Process returns a copy of all values of process p as [sample][replication]
func (ts *TimeSeries) Process(p int) [][]float64 {
	out := make([][]float64, ts.nSamples)
	for s := range out {
		row := make([]float64, ts.nReplications)
		for r := range row {
			row[r] = ts.At(p, s, r)
		}
		out[s] = row
	}
	return out
}

// NRealisationsSamples returns the number of usable time points per
// replication when the current value sits at current.Sample.
func (ts *TimeSeries) NRealisationsSamples(current Variable) int {
	n := ts.nSamples - current.Sample
	if n < 0 {
		return 0
	}
	return n
}

// NRealisations returns the number of (sample, replication) pairs available
// for a lag window ending at the current value. It depends only on the series
// shape, never on its content.
func (ts *TimeSeries) NRealisations(current Variable) int {
	return ts.NRealisationsSamples(current) * ts.nReplications
}

func (ts *TimeSeries) clone() *TimeSeries {
	values := make([]float64, len(ts.values))
	copy(values, ts.values)
	return &TimeSeries{
		values:        values,
		nProcesses:    ts.nProcesses,
		nSamples:      ts.nSamples,
		nReplications: ts.nReplications,
		normalised:    ts.normalised,
	}
}

// normalise z-scores every process over all samples and replications
func (ts *TimeSeries) normalise() error {
	block := ts.nSamples * ts.nReplications
	for p := 0; p < ts.nProcesses; p++ {
		data := stats.Float64Data(ts.values[p*block : (p+1)*block])
		mean, err := data.Mean()
		if err != nil {
			return apperrors.Wrapf(err, "failed to compute mean of process %d", p)
		}
		sd, err := data.StandardDeviationPopulation()
		if err != nil {
			return apperrors.Wrapf(err, "failed to compute standard deviation of process %d", p)
		}
		for i := range data {
			if sd == 0 {
				data[i] = 0
				continue
			}
			data[i] = (data[i] - mean) / sd
		}
	}
	ts.normalised = true
	return nil
}
