package results

import (
	"sort"

	apperrors "goinfonet/internal/errors"

	"gonum.org/v1/gonum/mat"
)

// WeightType selects what an adjacency entry holds
type WeightType string

const (
	// WeightLagFirst is the lag of the first selected variable of the link
	WeightLagFirst WeightType = "lag_first"
	// WeightLagMaxStatistic is the lag of the link variable with the largest statistic
	WeightLagMaxStatistic WeightType = "lag_max_statistic"
	WeightVarsCount       WeightType = "vars_count"
	WeightBinary          WeightType = "binary"
)

// Edge is one inferred link
type Edge struct {
	Source int     `json:"source"`
	Target int     `json:"target"`
	Lag    int     `json:"lag"`
	Weight float64 `json:"weight"`
	// PValue is the smallest p-value among the link's selected variables
	PValue float64 `json:"p_value"`
	// Statistic is the single-link CMI
	Statistic float64 `json:"statistic"`
}

// Edges lists the inferred links ordered by target, then source. With fdr
// set, only links that survived the network-wide correction are returned.
func (n *NetworkResults) Edges(weight WeightType, fdr bool) ([]Edge, error) {
	if err := checkWeight(weight); err != nil {
		return nil, err
	}
	keep, err := n.fdrFilter(fdr)
	if err != nil {
		return nil, err
	}

	var edges []Edge
	for _, t := range n.TargetsAnalysed() {
		r := n.Targets[t]
		for _, s := range r.SourceProcesses() {
			if !keep(s, t) {
				continue
			}
			vars := r.SourceVariables(s)
			e := Edge{Source: s, Target: t, Lag: vars[0].Lag, PValue: 1}
			best := vars[0]
			for _, v := range vars {
				if v.PValue < e.PValue {
					e.PValue = v.PValue
				}
				if v.Statistic > best.Statistic {
					best = v
				}
			}
			for _, l := range r.SingleLink {
				if l.Source == s {
					e.Statistic = l.Statistic
				}
			}
			switch weight {
			case WeightLagFirst:
				e.Weight = float64(vars[0].Lag)
			case WeightLagMaxStatistic:
				e.Lag = best.Lag
				e.Weight = float64(best.Lag)
			case WeightVarsCount:
				e.Weight = float64(len(vars))
			case WeightBinary:
				e.Weight = 1
			}
			edges = append(edges, e)
		}
	}
	return edges, nil
}

// AdjacencyMatrix returns an NNodes x NNodes matrix with sources as rows and
// targets as columns. Absent links are 0.
func (n *NetworkResults) AdjacencyMatrix(weight WeightType, fdr bool) (*mat.Dense, error) {
	if n.NNodes <= 0 {
		return nil, apperrors.InvalidInput("network has no nodes")
	}
	edges, err := n.Edges(weight, fdr)
	if err != nil {
		return nil, err
	}
	adj := mat.NewDense(n.NNodes, n.NNodes, nil)
	for _, e := range edges {
		adj.Set(e.Source, e.Target, e.Weight)
	}
	return adj, nil
}

// Links returns every (source, target) pair with at least one selected variable
func (n *NetworkResults) Links() []Link {
	var out []Link
	for _, t := range n.TargetsAnalysed() {
		for _, s := range n.Targets[t].SourceProcesses() {
			out = append(out, Link{Source: s, Target: t})
		}
	}
	return out
}

func (n *NetworkResults) fdrFilter(fdr bool) (func(s, t int) bool, error) {
	if !fdr {
		return func(int, int) bool { return true }, nil
	}
	if n.FDR == nil {
		return nil, apperrors.InvalidInput("FDR-corrected links requested but no correction was applied")
	}
	if n.FDR.ByTarget {
		targets := append([]int(nil), n.FDR.SignificantTargets...)
		sort.Ints(targets)
		return func(_, t int) bool {
			i := sort.SearchInts(targets, t)
			return i < len(targets) && targets[i] == t
		}, nil
	}
	links := make(map[Link]bool, len(n.FDR.SignificantLinks))
	for _, l := range n.FDR.SignificantLinks {
		links[l] = true
	}
	return func(s, t int) bool { return links[Link{Source: s, Target: t}] }, nil
}

func checkWeight(w WeightType) error {
	switch w {
	case WeightLagFirst, WeightLagMaxStatistic, WeightVarsCount, WeightBinary:
		return nil
	default:
		return apperrors.ConfigInvalidf("unknown adjacency weight %q", w)
	}
}
