package comparison

import (
	"time"

	"goinfonet/domain/core"
	"goinfonet/domain/settings"
	"goinfonet/internal/results"

	"gonum.org/v1/gonum/mat"
)

// Kind distinguishes within-subject from between-subject comparisons
type Kind string

const (
	KindWithin  Kind = "within"
	KindBetween Kind = "between"
)

// LinkResult is the comparison of one link of the union network
type LinkResult struct {
	Source int `json:"source"`
	Target int `json:"target"`
	// StatisticA and StatisticB are the link CMI in each condition, or the
	// group means for between-subject comparisons.
	StatisticA float64 `json:"statistic_a"`
	StatisticB float64 `json:"statistic_b"`
	Difference float64 `json:"difference"`
	// DiffAbs is |Difference| for significant links and 0 otherwise
	DiffAbs     float64 `json:"diff_abs"`
	PValue      float64 `json:"p_value"`
	Significant bool    `json:"significant"`
}

// Result holds a network comparison over the union of the compared networks
type Result struct {
	RunID     core.RunID          `json:"run_id"`
	CreatedAt time.Time           `json:"created_at"`
	Kind      Kind                `json:"kind"`
	Settings  settings.Comparison `json:"settings"`
	NNodes    int                 `json:"n_nodes"`
	Links     []LinkResult        `json:"links"`
}

// Union returns the links present in at least one compared network
func (r *Result) Union() []results.Link {
	out := make([]results.Link, len(r.Links))
	for i, l := range r.Links {
		out[i] = results.Link{Source: l.Source, Target: l.Target}
	}
	return out
}

// PValueMatrix returns per-link p-values with sources as rows; entries
// outside the union are 1.
func (r *Result) PValueMatrix() *mat.Dense {
	m := r.matrix(1)
	for _, l := range r.Links {
		m.Set(l.Source, l.Target, l.PValue)
	}
	return m
}

// DiffAbsMatrix returns the absolute differences of significant links
func (r *Result) DiffAbsMatrix() *mat.Dense {
	m := r.matrix(0)
	for _, l := range r.Links {
		m.Set(l.Source, l.Target, l.DiffAbs)
	}
	return m
}

// SignificanceMatrix flags the links that differ significantly
func (r *Result) SignificanceMatrix() [][]bool {
	out := make([][]bool, r.NNodes)
	for i := range out {
		out[i] = make([]bool, r.NNodes)
	}
	for _, l := range r.Links {
		out[l.Source][l.Target] = l.Significant
	}
	return out
}

// Significant returns the significantly different links
func (r *Result) Significant() []LinkResult {
	var out []LinkResult
	for _, l := range r.Links {
		if l.Significant {
			out = append(out, l)
		}
	}
	return out
}

func (r *Result) matrix(fill float64) *mat.Dense {
	n := r.NNodes
	if n <= 0 {
		n = 1
	}
	m := mat.NewDense(n, n, nil)
	if fill != 0 {
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				m.Set(i, j, fill)
			}
		}
	}
	return m
}
