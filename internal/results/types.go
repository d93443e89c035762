// Package results holds per-target and network-wide inference results and
// derives adjacency structures from them.
package results

import (
	"sort"
	"time"

	"goinfonet/domain/core"
	"goinfonet/domain/series"
	"goinfonet/domain/settings"
)

// State is the terminal state of a per-target analysis
type State string

const (
	StateDone     State = "DONE"
	StateRejected State = "REJECTED"
)

// SelectedVariable is a variable admitted to a target's conditioning set
type SelectedVariable struct {
	Process int `json:"process"`
	Lag     int `json:"lag"`
	// Statistic is the CMI with the current value given the rest of the set
	Statistic   float64 `json:"statistic"`
	PValue      float64 `json:"p_value"`
	Significant bool    `json:"significant"`
}

// Variable returns the absolute variable relative to current
func (v SelectedVariable) Variable(current series.Variable) series.Variable {
	return series.FromLag(v.Process, v.Lag, current)
}

// NullSummary describes a permutation null distribution
type NullSummary struct {
	N      int     `json:"n"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	P95    float64 `json:"p95"`
	Max    float64 `json:"max"`
}

// Step records one forward inclusion or pruning decision
type Step struct {
	Phase     string  `json:"phase"`
	Process   int     `json:"process"`
	Lag       int     `json:"lag"`
	Statistic float64 `json:"statistic"`
	PValue    float64 `json:"p_value"`
	Accepted  bool    `json:"accepted"`
	// Null summarises the surrogate distribution the decision was tested
	// against; nil for untested and sequential decisions.
	Null *NullSummary `json:"null,omitempty"`
}

// LinkStatistic is the single-link CMI of one source process into the target
type LinkStatistic struct {
	Source    int     `json:"source"`
	Statistic float64 `json:"statistic"`
}

// TargetResult is the outcome of the analysis of one target
type TargetResult struct {
	Target       int             `json:"target"`
	CurrentValue series.Variable `json:"current_value"`
	State        State           `json:"state"`
	// Sources lists the source processes that were considered
	Sources []int `json:"sources"`

	// Conditionals were forced into the conditioning set without testing
	Conditionals   []SelectedVariable `json:"conditionals,omitempty"`
	SelectedTarget []SelectedVariable `json:"selected_vars_target,omitempty"`
	// SelectedSources are the significant source variables in inclusion order
	SelectedSources []SelectedVariable `json:"selected_vars_sources,omitempty"`

	// OmnibusTested is false when no source survived pruning
	OmnibusTested      bool         `json:"omnibus_tested"`
	OmnibusStatistic   float64      `json:"omnibus_statistic"`
	OmnibusPValue      float64      `json:"omnibus_p_value"`
	OmnibusSignificant bool         `json:"omnibus_significant"`
	OmnibusNull        *NullSummary `json:"omnibus_null,omitempty"`

	SingleLink    []LinkStatistic `json:"single_link,omitempty"`
	PruningRounds int             `json:"pruning_rounds"`
	Steps         []Step          `json:"steps,omitempty"`
}

// SourceProcesses returns the distinct processes with selected source
// variables, in ascending order.
func (r *TargetResult) SourceProcesses() []int {
	seen := make(map[int]bool)
	var out []int
	for _, v := range r.SelectedSources {
		if !seen[v.Process] {
			seen[v.Process] = true
			out = append(out, v.Process)
		}
	}
	sort.Ints(out)
	return out
}

// SourceVariables returns the selected variables of one source process in
// inclusion order.
func (r *TargetResult) SourceVariables(process int) []SelectedVariable {
	var out []SelectedVariable
	for _, v := range r.SelectedSources {
		if v.Process == process {
			out = append(out, v)
		}
	}
	return out
}

// Failure records a target whose analysis could not be completed
type Failure struct {
	Target  int    `json:"target"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// FDRSummary records a network-wide false discovery rate correction
type FDRSummary struct {
	Alpha     float64 `json:"alpha"`
	ByTarget  bool    `json:"by_target"`
	Threshold float64 `json:"threshold"`
	// Insufficient is set when the permutation count could not resolve the
	// smallest corrected threshold.
	Insufficient bool `json:"insufficient_permutations"`
	// SignificantTargets is set when correcting by target
	SignificantTargets []int `json:"significant_targets,omitempty"`
	// SignificantLinks is set when correcting by link
	SignificantLinks []Link `json:"significant_links,omitempty"`
}

// Link is a directed source -> target pair
type Link struct {
	Source int `json:"source"`
	Target int `json:"target"`
}

// NetworkResults collects the results of all analysed targets
type NetworkResults struct {
	RunID     core.RunID            `json:"run_id"`
	CreatedAt time.Time             `json:"created_at"`
	Settings  settings.Settings     `json:"settings"`
	NNodes    int                   `json:"n_nodes"`
	Targets   map[int]*TargetResult `json:"targets"`
	Failures  []Failure             `json:"failures,omitempty"`
	FDR       *FDRSummary           `json:"fdr,omitempty"`
}

// New creates an empty NetworkResults for nNodes processes
func New(s settings.Settings, nNodes int) *NetworkResults {
	return &NetworkResults{
		RunID:     core.NewRunID(),
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
		Settings:  s,
		NNodes:    nNodes,
		Targets:   make(map[int]*TargetResult),
	}
}

// TargetsAnalysed returns the ids of all targets with a result, ascending
func (n *NetworkResults) TargetsAnalysed() []int {
	out := make([]int, 0, len(n.Targets))
	for t := range n.Targets {
		out = append(out, t)
	}
	sort.Ints(out)
	return out
}

// Target returns the result for target t
func (n *NetworkResults) Target(t int) (*TargetResult, bool) {
	r, ok := n.Targets[t]
	return r, ok
}
