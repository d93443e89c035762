package series

import (
	apperrors "goinfonet/internal/errors"

	"gonum.org/v1/gonum/mat"
)

// GetRealisations extracts the observed values of vars relative to the current
// value. Row r*n+t holds time point t of replication r, where
// n = NRealisationsSamples(current); column i belongs to vars[i]. Every column
// is taken at the same (time point, replication) offsets, so the joint
// distribution of all columns is preserved. The returned slice maps each row
// to its replication. An empty variable list yields a nil matrix.
func (ts *TimeSeries) GetRealisations(current Variable, vars []Variable) (*mat.Dense, []int, error) {
	if err := ts.checkCurrent(current); err != nil {
		return nil, nil, err
	}
	for _, v := range vars {
		if err := ts.checkVariable(current, v); err != nil {
			return nil, nil, err
		}
	}

	n := ts.NRealisationsSamples(current)
	rows := n * ts.nReplications
	replIdx := make([]int, rows)
	for r := 0; r < ts.nReplications; r++ {
		for t := 0; t < n; t++ {
			replIdx[r*n+t] = r
		}
	}
	if len(vars) == 0 {
		return nil, replIdx, nil
	}

	out := mat.NewDense(rows, len(vars), nil)
	for j, v := range vars {
		for r := 0; r < ts.nReplications; r++ {
			for t := 0; t < n; t++ {
				out.Set(r*n+t, j, ts.At(v.Process, v.Sample+t, r))
			}
		}
	}
	return out, replIdx, nil
}

func (ts *TimeSeries) checkCurrent(current Variable) error {
	if current.Process < 0 || current.Process >= ts.nProcesses {
		return apperrors.IndexOutOfRange("current value process %d outside [0, %d)", current.Process, ts.nProcesses)
	}
	if current.Sample < 0 || current.Sample >= ts.nSamples {
		return apperrors.IndexOutOfRange("current value sample %d outside [0, %d): not enough samples for the requested lags", current.Sample, ts.nSamples)
	}
	return nil
}

func (ts *TimeSeries) checkVariable(current, v Variable) error {
	if v.Process < 0 || v.Process >= ts.nProcesses {
		return apperrors.IndexOutOfRange("variable %s: process outside [0, %d)", v, ts.nProcesses)
	}
	if v.Sample < 0 {
		return apperrors.IndexOutOfRange("variable %s: lag %d exceeds the %d samples before the current value", v, v.Lag(current), current.Sample)
	}
	if v.Sample > current.Sample {
		return apperrors.IndexOutOfRange("variable %s lies after the current value %s", v, current)
	}
	return nil
}

// HStack concatenates matrices column-wise, skipping nil entries. It returns
// nil when every input is nil.
func HStack(ms ...*mat.Dense) *mat.Dense {
	rows, cols := 0, 0
	for _, m := range ms {
		if m == nil {
			continue
		}
		r, c := m.Dims()
		rows = r
		cols += c
	}
	if cols == 0 {
		return nil
	}
	out := mat.NewDense(rows, cols, nil)
	offset := 0
	for _, m := range ms {
		if m == nil {
			continue
		}
		_, c := m.Dims()
		out.Slice(0, rows, offset, offset+c).(*mat.Dense).Copy(m)
		offset += c
	}
	return out
}
