package comparison

import (
	"sort"

	"goinfonet/domain/series"
	"goinfonet/domain/settings"
	apperrors "goinfonet/internal/errors"
	"goinfonet/internal/results"

	"gonum.org/v1/gonum/mat"
)

// unionTarget holds every variable any compared network selected for one target
type unionTarget struct {
	target       int
	current      series.Variable
	conditionals []series.Variable
	past         []series.Variable
	sources      []series.Variable
}

// link is one source process -> target entry of the union network
type link struct {
	source int
	target *unionTarget
}

// buildUnion merges the selected variables of all networks per target. The
// networks must share settings and node count.
func buildUnion(nets []*results.NetworkResults) (settings.Settings, int, []*unionTarget, error) {
	if len(nets) == 0 {
		return settings.Settings{}, 0, nil, apperrors.InvalidInput("no networks to compare")
	}
	first := nets[0]
	byTarget := make(map[int]*unionTarget)
	for _, n := range nets {
		if n == nil {
			return settings.Settings{}, 0, nil, apperrors.InvalidInput("nil network")
		}
		if !n.Settings.Equal(first.Settings) {
			return settings.Settings{}, 0, nil, apperrors.SettingsMismatch("networks were inferred with different settings")
		}
		if n.NNodes != first.NNodes {
			return settings.Settings{}, 0, nil, apperrors.SettingsMismatch("networks have different numbers of nodes")
		}
		for _, t := range n.TargetsAnalysed() {
			r := n.Targets[t]
			if len(r.SelectedSources) == 0 {
				continue
			}
			u, ok := byTarget[t]
			if !ok {
				u = &unionTarget{target: t, current: r.CurrentValue}
				byTarget[t] = u
			}
			u.conditionals = addVars(u.conditionals, r.CurrentValue, r.Conditionals)
			u.past = addVars(u.past, r.CurrentValue, r.SelectedTarget)
			u.sources = addVars(u.sources, r.CurrentValue, r.SelectedSources)
		}
	}

	out := make([]*unionTarget, 0, len(byTarget))
	for _, u := range byTarget {
		sortVars(u.sources)
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].target < out[j].target })
	return first.Settings, first.NNodes, out, nil
}

func addVars(dst []series.Variable, current series.Variable, vars []results.SelectedVariable) []series.Variable {
	for _, sv := range vars {
		v := sv.Variable(current)
		found := false
		for _, d := range dst {
			if d == v {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, v)
		}
	}
	return dst
}

func sortVars(vars []series.Variable) {
	sort.Slice(vars, func(i, j int) bool {
		if vars[i].Process != vars[j].Process {
			return vars[i].Process < vars[j].Process
		}
		return vars[i].Sample > vars[j].Sample
	})
}

// links enumerates the union links ordered by target, then source
func links(union []*unionTarget) []link {
	var out []link
	for _, u := range union {
		last := -1
		for _, v := range u.sources {
			if v.Process != last {
				out = append(out, link{source: v.Process, target: u})
				last = v.Process
			}
		}
	}
	return out
}

// split returns the link's own variables and the set they are conditioned on:
// forced conditionals, the target's past and, for the multivariate variant,
// every other union source variable.
func (l link) split(variant settings.Variant) (own, cond []series.Variable) {
	cond = append(cond, l.target.conditionals...)
	cond = append(cond, l.target.past...)
	for _, v := range l.target.sources {
		switch {
		case v.Process == l.source:
			own = append(own, v)
		case variant == settings.VariantMultivariate:
			cond = append(cond, v)
		}
	}
	return own, cond
}

// linkInput holds the realisations of one link in one dataset
type linkInput struct {
	source, target, conditional *mat.Dense
}

func (l link) inputs(data *series.TimeSeries, variant settings.Variant) (linkInput, error) {
	own, cond := l.split(variant)
	src, _, err := data.GetRealisations(l.target.current, own)
	if err != nil {
		return linkInput{}, err
	}
	tgt, _, err := data.GetRealisations(l.target.current, []series.Variable{l.target.current})
	if err != nil {
		return linkInput{}, err
	}
	c, _, err := data.GetRealisations(l.target.current, cond)
	if err != nil {
		return linkInput{}, err
	}
	return linkInput{source: src, target: tgt, conditional: c}, nil
}
