package results

import (
	"sort"
)

// ApplyFDR runs a Benjamini-Hochberg correction over the network and records
// which targets (byTarget) or links survive. p-values in the target results
// are not modified. Targets by omnibus p-value use n_perm_omnibus as the
// permutation count; links use the per-variable p-values of the sequential
// maximum-statistic test and n_perm_max_seq.
func (n *NetworkResults) ApplyFDR(alpha float64, byTarget bool) *FDRSummary {
	summary := &FDRSummary{Alpha: alpha, ByTarget: byTarget}

	if byTarget {
		var targets []int
		var pvalues []float64
		for _, t := range n.TargetsAnalysed() {
			r := n.Targets[t]
			if r.OmnibusTested {
				targets = append(targets, t)
				pvalues = append(pvalues, r.OmnibusPValue)
			}
		}
		out := BenjaminiHochberg(pvalues, alpha, n.Settings.NPermOmnibus)
		for i, t := range targets {
			if out.Significant[i] && n.Targets[t].OmnibusSignificant {
				summary.SignificantTargets = append(summary.SignificantTargets, t)
			}
		}
		summary.Threshold = out.Threshold
		summary.Insufficient = out.Insufficient
		n.FDR = summary
		return summary
	}

	var links []Link
	var pvalues []float64
	for _, t := range n.TargetsAnalysed() {
		for _, v := range n.Targets[t].SelectedSources {
			links = append(links, Link{Source: v.Process, Target: t})
			pvalues = append(pvalues, v.PValue)
		}
	}
	out := BenjaminiHochberg(pvalues, alpha, n.Settings.NPermMaxSeq)
	seen := make(map[Link]bool)
	for i, l := range links {
		if out.Significant[i] && !seen[l] {
			seen[l] = true
			summary.SignificantLinks = append(summary.SignificantLinks, l)
		}
	}
	summary.Threshold = out.Threshold
	summary.Insufficient = out.Insufficient
	n.FDR = summary
	return summary
}

// FDROutcome is the result of a Benjamini-Hochberg correction
type FDROutcome struct {
	// Significant is aligned with the input p-values
	Significant []bool `json:"significant"`
	// Threshold is the largest p-value declared significant, 0 if none
	Threshold float64 `json:"threshold"`
	// Insufficient is set when nPerm permutations cannot produce a p-value
	// below the smallest BH threshold alpha/m.
	Insufficient bool `json:"insufficient_permutations"`
}

// BenjaminiHochberg controls the false discovery rate of pvalues at alpha.
// The p-values themselves are left untouched. nPerm is the permutation count
// the p-values were produced with and is only used to flag a correction that
// could never reject anything.
func BenjaminiHochberg(pvalues []float64, alpha float64, nPerm int) FDROutcome {
	m := len(pvalues)
	out := FDROutcome{Significant: make([]bool, m)}
	if m == 0 {
		return out
	}
	if nPerm > 0 && 1/float64(nPerm+1) > alpha/float64(m) {
		out.Insufficient = true
	}

	order := make([]int, m)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return pvalues[order[a]] < pvalues[order[b]] })

	cutoff := -1
	for k, idx := range order {
		if pvalues[idx] <= float64(k+1)/float64(m)*alpha {
			cutoff = k
		}
	}
	for k := 0; k <= cutoff; k++ {
		out.Significant[order[k]] = true
	}
	if cutoff >= 0 {
		out.Threshold = pvalues[order[cutoff]]
	}
	return out
}
