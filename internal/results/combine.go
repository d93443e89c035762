package results

import (
	"sort"

	apperrors "goinfonet/internal/errors"
)

// Combine merges the targets of a and b into a new NetworkResults. Both must
// have been produced with identical settings on the same number of nodes and
// must not share any target. The inputs are not modified; any FDR correction
// is dropped and has to be reapplied to the combined network.
func Combine(a, b *NetworkResults) (*NetworkResults, error) {
	if !a.Settings.Equal(b.Settings) {
		return nil, apperrors.SettingsMismatch("cannot combine results produced with different settings")
	}
	if a.NNodes != b.NNodes {
		return nil, apperrors.SettingsMismatch("cannot combine results over different numbers of nodes")
	}

	out := &NetworkResults{
		RunID:     a.RunID,
		CreatedAt: a.CreatedAt,
		Settings:  a.Settings,
		NNodes:    a.NNodes,
		Targets:   make(map[int]*TargetResult, len(a.Targets)+len(b.Targets)),
	}
	for _, src := range []*NetworkResults{a, b} {
		for t, r := range src.Targets {
			if _, exists := out.Targets[t]; exists {
				return nil, apperrors.Newf(apperrors.CodeDuplicateTarget, "result for target %d exists in both networks", t)
			}
			out.Targets[t] = r
		}
	}

	for _, f := range append(append([]Failure{}, a.Failures...), b.Failures...) {
		if _, ok := out.Targets[f.Target]; !ok {
			out.Failures = append(out.Failures, f)
		}
	}
	sort.SliceStable(out.Failures, func(i, j int) bool { return out.Failures[i].Target < out.Failures[j].Target })
	return out, nil
}

// Combine merges other into n in place with the same rules as Combine
func (n *NetworkResults) Combine(other *NetworkResults) error {
	merged, err := Combine(n, other)
	if err != nil {
		return err
	}
	*n = *merged
	return nil
}
