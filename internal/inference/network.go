package inference

import (
	"context"
	stderrors "errors"
	"sort"
	"sync"

	"goinfonet/domain/series"
	apperrors "goinfonet/internal/errors"
	"goinfonet/internal/results"

	"golang.org/x/sync/errgroup"
)

// Request selects the targets of a network analysis and their sources
type Request struct {
	// Targets defaults to every process
	Targets []int
	// Sources is nil for all other processes, a single list shared by every
	// target, or one list per target.
	Sources [][]int
}

// AnalyseNetwork analyses every requested target and collects the results.
// Configuration errors abort before any estimation. Other per-target errors
// are recorded as failures while the remaining targets continue; a cancelled
// context aborts the whole run. FDR correction is applied last when enabled.
func (e *Engine) AnalyseNetwork(ctx context.Context, data *series.TimeSeries, req Request) (*results.NetworkResults, error) {
	targets := req.Targets
	if len(targets) == 0 {
		targets = make([]int, data.NProcesses())
		for i := range targets {
			targets[i] = i
		}
	}
	if len(req.Sources) > 1 && len(req.Sources) != len(targets) {
		return nil, apperrors.ConfigInvalidf("got %d source lists for %d targets", len(req.Sources), len(targets))
	}

	net := results.New(e.settings, data.NProcesses())
	seen := make(map[int]bool, len(targets))
	analyses := make([]*analysis, 0, len(targets))
	for i, t := range targets {
		if seen[t] {
			return nil, apperrors.ConfigInvalidf("target %d requested twice", t)
		}
		seen[t] = true

		var sources []int
		switch len(req.Sources) {
		case 0:
		case 1:
			sources = req.Sources[0]
		default:
			sources = req.Sources[i]
		}
		a, err := e.newAnalysis(data, t, sources)
		if err != nil {
			if apperrors.HasCode(err, apperrors.CodeConfigInvalid) {
				return nil, err
			}
			net.Failures = append(net.Failures, failure(t, err))
			e.logger.Error("target %d: %v", t, err)
			continue
		}
		analyses = append(analyses, a)
	}
	e.logger.Info("analysing %d targets (%s %s, estimator %s)", len(analyses), e.settings.Variant, e.settings.Measure, e.suite.Runner().Estimator().Name())

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.targetWorkers)
	for _, a := range analyses {
		g.Go(func() error {
			res, err := a.run(gctx)
			if err != nil {
				if isCancellation(err) {
					return err
				}
				e.logger.Error("target %d: %v", a.target, err)
				mu.Lock()
				net.Failures = append(net.Failures, failure(a.target, err))
				mu.Unlock()
				return nil
			}
			mu.Lock()
			net.Targets[a.target] = res
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(net.Failures, func(i, j int) bool { return net.Failures[i].Target < net.Failures[j].Target })

	if e.settings.FDR {
		summary := net.ApplyFDR(e.settings.AlphaFDR, e.settings.FDRCorrectByTarget)
		if summary.Insufficient {
			e.logger.Warn("FDR correction: permutation count cannot resolve the smallest threshold at alpha %.3f", summary.Alpha)
		}
	}
	e.logger.Info("network analysis finished: %d targets, %d failures", len(net.Targets), len(net.Failures))
	return net, nil
}

func failure(target int, err error) results.Failure {
	return results.Failure{Target: target, Code: apperrors.GetCode(err), Message: err.Error()}
}

func isCancellation(err error) bool {
	return stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded)
}
