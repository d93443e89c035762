package inference

import (
	"context"
	"fmt"

	"goinfonet/domain/series"
	"goinfonet/domain/settings"
	"goinfonet/internal"
	apperrors "goinfonet/internal/errors"
	"goinfonet/internal/results"
	"goinfonet/internal/significance"
	"goinfonet/ports"

	"gonum.org/v1/gonum/mat"
)

// State is a stage of the per-target analysis
type State string

const (
	StateInit             State = "INIT"
	StateCandidateGen     State = "CANDIDATE_GEN"
	StateForwardInclusion State = "FORWARD_INCLUSION"
	StatePruning          State = "PRUNING"
	StateOmnibus          State = "OMNIBUS"
	StateDone             State = "DONE"
	StateRejected         State = "REJECTED"
)

type varStat struct {
	statistic   float64
	pvalue      float64
	significant bool
}

// analysis is the mutable state of one target. It is owned by a single
// goroutine; only the TimeSeries is shared.
type analysis struct {
	e       *Engine
	s       settings.Settings
	data    *series.TimeSeries
	target  int
	sources []int
	current series.Variable
	state   State
	logger  *internal.Logger

	targetReal *mat.Dense
	cache      map[series.Variable]*mat.Dense

	conditionals    []series.Variable
	selectedTarget  []series.Variable
	selectedSources []series.Variable
	stats           map[series.Variable]varStat

	targetCandidates []series.Variable
	sourceCandidates map[int][]series.Variable

	steps         []results.Step
	nSteps        int
	pruningRounds int
}

// newAnalysis performs the INIT stage: it validates the target and its
// sources, fixes the current value and resolves forced conditionals. No
// estimator is called.
func (e *Engine) newAnalysis(data *series.TimeSeries, target int, sources []int) (*analysis, error) {
	if err := checkTarget(target, data.NProcesses()); err != nil {
		return nil, err
	}
	sources, err := resolveSources(target, sources, data.NProcesses())
	if err != nil {
		return nil, err
	}

	a := &analysis{
		e:       e,
		s:       e.settings,
		data:    data,
		target:  target,
		sources: sources,
		current: series.Variable{Process: target, Sample: e.settings.MaxLag()},
		state:   StateInit,
		logger:  e.logger,
		cache:   make(map[series.Variable]*mat.Dense),
		stats:   make(map[series.Variable]varStat),
	}
	if a.current.Sample >= data.NSamples() {
		return nil, apperrors.IndexOutOfRange("series of %d samples is too short for a maximum lag of %d", data.NSamples(), a.current.Sample)
	}
	a.targetReal, err = a.realisations(a.current)
	if err != nil {
		return nil, err
	}
	if err := a.problem("init", 0).CheckPower(a.s.MaxPermutations()); err != nil {
		return nil, err
	}
	if err := a.forceConditionals(); err != nil {
		return nil, err
	}
	return a, nil
}

// forceConditionals adds untested variables to the conditioning set
func (a *analysis) forceConditionals() error {
	switch a.s.AddConditionals.Mode {
	case settings.ConditionalsFaes:
		// every source sample aligned with the current value's time index
		for _, p := range a.sources {
			a.conditionals = append(a.conditionals, series.Variable{Process: p, Sample: a.current.Sample})
		}
	case settings.ConditionalsManual:
		maxLag := a.s.MaxLag()
		for _, c := range a.s.AddConditionals.Vars {
			if c.Lag > maxLag {
				return apperrors.IndexOutOfRange("conditional (%d, %d): lag exceeds the maximum lag %d", c.Process, c.Lag, maxLag)
			}
			if c.Process < 0 || c.Process >= a.data.NProcesses() {
				return apperrors.IndexOutOfRange("conditional (%d, %d): process outside [0, %d)", c.Process, c.Lag, a.data.NProcesses())
			}
			v := series.FromLag(c.Process, c.Lag, a.current)
			if v == a.current {
				return apperrors.ConfigInvalidf("conditional (%d, %d) is the current value", c.Process, c.Lag)
			}
			a.conditionals = append(a.conditionals, v)
		}
	}
	for _, v := range a.conditionals {
		if _, err := a.realisations(v); err != nil {
			return err
		}
	}
	return nil
}

func (a *analysis) transition(next State) {
	a.logger.Debug("target %d: %s -> %s", a.target, a.state, next)
	a.state = next
}

// run executes CANDIDATE_GEN through OMNIBUS
func (a *analysis) run(ctx context.Context) (*results.TargetResult, error) {
	a.logger.Info("target %d: analysing sources %v, current value %s", a.target, a.sources, a.current)

	a.transition(StateCandidateGen)
	a.defineCandidates()

	a.transition(StateForwardInclusion)
	if a.s.Measure == settings.MeasureTE {
		found, err := a.includeCandidates(ctx, "target", a.targetCandidates)
		if err != nil {
			return nil, err
		}
		fallback := series.FromLag(a.target, 1, a.current)
		if !found && !a.isConditional(fallback) {
			a.logger.Debug("target %d: no informative target sample, adding %s", a.target, fallback)
			if _, err := a.realisations(fallback); err != nil {
				return nil, err
			}
			a.selectedTarget = append(a.selectedTarget, fallback)
			a.stats[fallback] = varStat{pvalue: 1}
			a.steps = append(a.steps, results.Step{Phase: "target_fallback", Process: a.target, Lag: 1, PValue: 1, Accepted: true})
		}
	}
	if a.s.Variant == settings.VariantBivariate {
		for _, p := range a.sources {
			if _, err := a.includeCandidates(ctx, fmt.Sprintf("source-%d", p), a.sourceCandidates[p]); err != nil {
				return nil, err
			}
		}
	} else {
		var pool []series.Variable
		for _, p := range a.sources {
			pool = append(pool, a.sourceCandidates[p]...)
		}
		if _, err := a.includeCandidates(ctx, "sources", pool); err != nil {
			return nil, err
		}
	}

	a.transition(StatePruning)
	if err := a.pruneMinStatistic(ctx); err != nil {
		return nil, err
	}
	if err := a.pruneSequential(ctx); err != nil {
		return nil, err
	}

	a.transition(StateOmnibus)
	res, err := a.testOmnibus(ctx)
	if err != nil {
		return nil, err
	}
	a.logger.Info("target %d: %s with %d source variables from processes %v", a.target, res.State, len(res.SelectedSources), res.SourceProcesses())
	return res, nil
}

// defineCandidates builds the candidate pools. Target-past candidates cover
// lags 1..max_lag_target stepped by tau_target; source candidates cover
// [min_lag_sources, max_lag_sources] stepped by tau_sources, both ends
// included. Forced conditionals are never candidates.
func (a *analysis) defineCandidates() {
	forced := make(map[series.Variable]bool, len(a.conditionals))
	for _, v := range a.conditionals {
		forced[v] = true
	}
	if a.s.Measure == settings.MeasureTE {
		for lag := 1; lag <= a.s.MaxLagTarget; lag += a.s.TauTarget {
			if v := series.FromLag(a.target, lag, a.current); !forced[v] {
				a.targetCandidates = append(a.targetCandidates, v)
			}
		}
	}
	a.sourceCandidates = make(map[int][]series.Variable, len(a.sources))
	for _, p := range a.sources {
		for lag := a.s.MinLagSources; lag <= a.s.MaxLagSources; lag += a.s.TauSources {
			if v := series.FromLag(p, lag, a.current); !forced[v] {
				a.sourceCandidates[p] = append(a.sourceCandidates[p], v)
			}
		}
	}
}

// includeCandidates greedily admits the candidate with the largest CMI as
// long as it passes the maximum-statistic test. It reports whether any
// candidate was admitted.
func (a *analysis) includeCandidates(ctx context.Context, phase string, pool []series.Variable) (bool, error) {
	cands := append([]series.Variable(nil), pool...)
	runner := a.e.suite.Runner()
	found := false
	for len(cands) > 0 {
		if err := ctx.Err(); err != nil {
			return found, err
		}
		a.nSteps++

		// all candidates of one pool share the conditioning set
		cond, err := a.matrix(a.conditioningFor(cands[0]))
		if err != nil {
			return found, err
		}
		inputs := make([]ports.EstimationInput, len(cands))
		tests := make([]significance.Candidate, len(cands))
		for i, c := range cands {
			col, err := a.realisations(c)
			if err != nil {
				return found, err
			}
			inputs[i] = ports.EstimationInput{Source: col, Target: a.targetReal, Conditional: cond}
			tests[i] = significance.Candidate{Realisations: col, Conditional: cond}
		}
		values, err := runner.EstimateBatch(ctx, inputs)
		if err != nil {
			return found, err
		}
		best := argmax(values)
		out, err := a.e.suite.MaxStatistic(ctx, a.problem(phase, a.nSteps), tests, values[best], a.s.NPermMaxStat, a.s.AlphaMaxStat)
		if err != nil {
			return found, err
		}

		v := cands[best]
		a.steps = append(a.steps, results.Step{
			Phase:     phase,
			Process:   v.Process,
			Lag:       v.Lag(a.current),
			Statistic: values[best],
			PValue:    out.PValue,
			Accepted:  out.Significant,
			Null:      out.Null,
		})
		a.logger.Debug("target %d: candidate %s cmi=%.4f p=%.4f significant=%t", a.target, v, values[best], out.PValue, out.Significant)
		if !out.Significant {
			break
		}

		if v.Process == a.target {
			a.selectedTarget = append(a.selectedTarget, v)
		} else {
			a.selectedSources = append(a.selectedSources, v)
		}
		a.stats[v] = varStat{statistic: values[best], pvalue: out.PValue, significant: true}
		cands = append(cands[:best], cands[best+1:]...)
		found = true
	}
	return found, nil
}

// individualStatistics returns, for every selected source variable, its CMI
// with the current value given its conditioning set, and the matching test
// candidates.
func (a *analysis) individualStatistics(ctx context.Context) ([]float64, []significance.Candidate, error) {
	inputs := make([]ports.EstimationInput, len(a.selectedSources))
	tests := make([]significance.Candidate, len(a.selectedSources))
	for i, v := range a.selectedSources {
		col, err := a.realisations(v)
		if err != nil {
			return nil, nil, err
		}
		cond, err := a.matrix(a.conditioningFor(v))
		if err != nil {
			return nil, nil, err
		}
		inputs[i] = ports.EstimationInput{Source: col, Target: a.targetReal, Conditional: cond}
		tests[i] = significance.Candidate{Realisations: col, Conditional: cond}
	}
	values, err := a.e.suite.Runner().EstimateBatch(ctx, inputs)
	if err != nil {
		return nil, nil, err
	}
	return values, tests, nil
}

// pruneMinStatistic repeatedly removes the weakest source variable while it
// fails the minimum-statistic test.
func (a *analysis) pruneMinStatistic(ctx context.Context) error {
	if !a.s.MinStatPruning {
		return nil
	}
	for len(a.selectedSources) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		a.nSteps++
		values, tests, err := a.individualStatistics(ctx)
		if err != nil {
			return err
		}
		weakest := argmin(values)
		out, err := a.e.suite.MinStatistic(ctx, a.problem("min_stat", a.nSteps), tests, values[weakest], a.s.NPermMinStat, a.s.AlphaMinStat)
		if err != nil {
			return err
		}
		v := a.selectedSources[weakest]
		a.steps = append(a.steps, results.Step{
			Phase:     "prune_min_stat",
			Process:   v.Process,
			Lag:       v.Lag(a.current),
			Statistic: values[weakest],
			PValue:    out.PValue,
			Accepted:  out.Significant,
			Null:      out.Null,
		})
		if out.Significant {
			return nil
		}
		a.logger.Debug("target %d: removing %s (min statistic p=%.4f)", a.target, v, out.PValue)
		a.removeSource(weakest)
	}
	return nil
}

// pruneSequential applies the sequential maximum-statistic test until no
// variable is removed. Variables are only ever removed, so the loop ends
// after at most len(selected)+1 rounds and nothing is re-admitted.
func (a *analysis) pruneSequential(ctx context.Context) error {
	limit := len(a.selectedSources) + 1
	for round := 0; round < limit && len(a.selectedSources) > 0; round++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		a.pruningRounds++
		values, tests, err := a.individualStatistics(ctx)
		if err != nil {
			return err
		}
		out, err := a.e.suite.MaxStatisticSequential(ctx, a.problem("max_seq", round), tests, values, a.s.NPermMaxSeq, a.s.AlphaMaxSeq)
		if err != nil {
			return err
		}

		kept := make([]series.Variable, 0, len(a.selectedSources))
		for i, v := range a.selectedSources {
			if out.Significant[i] {
				kept = append(kept, v)
				a.stats[v] = varStat{statistic: values[i], pvalue: out.PValues[i], significant: true}
				continue
			}
			a.logger.Debug("target %d: pruning %s (p=%.4f)", a.target, v, out.PValues[i])
			a.steps = append(a.steps, results.Step{
				Phase:     "prune_max_seq",
				Process:   v.Process,
				Lag:       v.Lag(a.current),
				Statistic: values[i],
				PValue:    out.PValues[i],
			})
			delete(a.stats, v)
		}
		if len(kept) == len(a.selectedSources) {
			return nil
		}
		a.selectedSources = kept
	}
	return nil
}

// testOmnibus runs the joint test and assembles the result
func (a *analysis) testOmnibus(ctx context.Context) (*results.TargetResult, error) {
	res := &results.TargetResult{
		Target:        a.target,
		CurrentValue:  a.current,
		Sources:       append([]int(nil), a.sources...),
		PruningRounds: a.pruningRounds,
	}
	if len(a.selectedSources) == 0 {
		a.transition(StateDone)
		return a.finish(res), nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sources, err := a.matrix(a.selectedSources)
	if err != nil {
		return nil, err
	}
	cond, err := a.matrix(append(append([]series.Variable(nil), a.conditionals...), a.selectedTarget...))
	if err != nil {
		return nil, err
	}
	observed, err := a.e.suite.Runner().Estimate(ctx, sources, a.targetReal, cond)
	if err != nil {
		return nil, err
	}
	out, err := a.e.suite.Omnibus(ctx, a.problem("omnibus", 0), sources, cond, observed, a.s.NPermOmnibus, a.s.AlphaOmnibus, a.s.Tail)
	if err != nil {
		return nil, err
	}
	res.OmnibusTested = true
	res.OmnibusStatistic = observed
	res.OmnibusPValue = out.PValue
	res.OmnibusSignificant = out.Significant
	res.OmnibusNull = out.Null

	if !out.Significant {
		a.logger.Debug("target %d: omnibus test failed (p=%.4f), discarding sources", a.target, out.PValue)
		a.selectedSources = nil
		a.transition(StateRejected)
		return a.finish(res), nil
	}

	res.SingleLink, err = a.singleLinks(ctx)
	if err != nil {
		return nil, err
	}
	a.transition(StateDone)
	return a.finish(res), nil
}

// singleLinks computes, per source process, the CMI of all its selected
// variables given the remaining conditioning set.
func (a *analysis) singleLinks(ctx context.Context) ([]results.LinkStatistic, error) {
	var links []results.LinkStatistic
	for _, p := range a.sourceProcesses() {
		var own, rest []series.Variable
		rest = append(rest, a.conditionals...)
		rest = append(rest, a.selectedTarget...)
		for _, v := range a.selectedSources {
			switch {
			case v.Process == p:
				own = append(own, v)
			case a.s.Variant == settings.VariantMultivariate:
				rest = append(rest, v)
			}
		}
		src, err := a.matrix(own)
		if err != nil {
			return nil, err
		}
		cond, err := a.matrix(rest)
		if err != nil {
			return nil, err
		}
		v, err := a.e.suite.Runner().Estimate(ctx, src, a.targetReal, cond)
		if err != nil {
			return nil, err
		}
		links = append(links, results.LinkStatistic{Source: p, Statistic: v})
	}
	return links, nil
}

func (a *analysis) finish(res *results.TargetResult) *results.TargetResult {
	res.State = results.StateDone
	if a.state == StateRejected {
		res.State = results.StateRejected
	}
	res.Conditionals = a.describe(a.conditionals)
	res.SelectedTarget = a.describe(a.selectedTarget)
	res.SelectedSources = a.describe(a.selectedSources)
	res.Steps = a.steps
	return res
}

func (a *analysis) describe(vars []series.Variable) []results.SelectedVariable {
	if len(vars) == 0 {
		return nil
	}
	out := make([]results.SelectedVariable, len(vars))
	for i, v := range vars {
		st := a.stats[v]
		out[i] = results.SelectedVariable{
			Process:     v.Process,
			Lag:         v.Lag(a.current),
			Statistic:   st.statistic,
			PValue:      st.pvalue,
			Significant: st.significant,
		}
	}
	return out
}

// conditioningFor returns the variables a candidate is conditioned on. The
// multivariate variant uses the whole selected set; the bivariate variant
// only forced conditionals, the target's past and the candidate's own process.
func (a *analysis) conditioningFor(v series.Variable) []series.Variable {
	out := make([]series.Variable, 0, len(a.conditionals)+len(a.selectedTarget)+len(a.selectedSources))
	add := func(vars []series.Variable, sameProcessOnly bool) {
		for _, u := range vars {
			if u == v || (sameProcessOnly && u.Process != v.Process) {
				continue
			}
			out = append(out, u)
		}
	}
	add(a.conditionals, false)
	add(a.selectedTarget, false)
	add(a.selectedSources, a.s.Variant == settings.VariantBivariate)
	return out
}

func (a *analysis) isConditional(v series.Variable) bool {
	for _, c := range a.conditionals {
		if c == v {
			return true
		}
	}
	return false
}

func (a *analysis) sourceProcesses() []int {
	var out []int
	seen := make(map[int]bool)
	for _, v := range a.selectedSources {
		if !seen[v.Process] {
			seen[v.Process] = true
			out = append(out, v.Process)
		}
	}
	return out
}

func (a *analysis) removeSource(i int) {
	delete(a.stats, a.selectedSources[i])
	a.selectedSources = append(a.selectedSources[:i], a.selectedSources[i+1:]...)
}

// realisations returns the cached realisation column of v
func (a *analysis) realisations(v series.Variable) (*mat.Dense, error) {
	if m, ok := a.cache[v]; ok {
		return m, nil
	}
	m, _, err := a.data.GetRealisations(a.current, []series.Variable{v})
	if err != nil {
		return nil, err
	}
	a.cache[v] = m
	return m, nil
}

// matrix stacks the realisations of vars column-wise, nil for an empty list
func (a *analysis) matrix(vars []series.Variable) (*mat.Dense, error) {
	cols := make([]*mat.Dense, len(vars))
	for i, v := range vars {
		m, err := a.realisations(v)
		if err != nil {
			return nil, err
		}
		cols[i] = m
	}
	return series.HStack(cols...), nil
}

func (a *analysis) problem(phase string, step int) significance.Problem {
	return significance.Problem{
		Target:        a.targetReal,
		NReplications: a.data.NReplications(),
		Permutation:   a.s.Permutation(),
		Streams:       a.e.streams,
		Seed:          a.s.Seed,
		Name:          streamName(a.target, phase, step),
	}
}

func argmax(values []float64) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}

func argmin(values []float64) int {
	best := 0
	for i, v := range values {
		if v < values[best] {
			best = i
		}
	}
	return best
}
