// Package inference implements greedy non-uniform embedding: for each target
// it selects, step by step, the lagged variables that carry significant
// information about the target's current value, prunes redundant ones and
// validates the final set jointly. Selection is greedy, so the final set is
// locally minimal but not guaranteed to be the globally optimal subset.
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

	"golang.org/x/sync/semaphore"
)

// Options configures an Engine
type Options struct {
	// Workers bounds concurrent estimator calls across all targets
	Workers int
	// TargetWorkers bounds the number of targets analysed concurrently
	TargetWorkers int
	Streams       ports.RNGPort
	Logger        *internal.Logger
}

// Engine runs per-target and network analyses with fixed settings
type Engine struct {
	settings      settings.Settings
	suite         *significance.Suite
	streams       ports.RNGPort
	targetWorkers int
	logger        *internal.Logger
}

// NewEngine validates settings and creates a new engine. Configuration
// errors are returned here, before any estimation work.
func NewEngine(s settings.Settings, estimator ports.CMIEstimator, opts Options) (*Engine, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if estimator == nil {
		return nil, apperrors.ConfigInvalid("a CMI estimator is required")
	}
	if opts.Streams == nil {
		return nil, apperrors.ConfigInvalid("a random stream source is required")
	}
	if opts.Logger == nil {
		opts.Logger = internal.DefaultLogger
	}
	if opts.TargetWorkers <= 0 {
		opts.TargetWorkers = 1
	}
	var slots *semaphore.Weighted
	if opts.Workers > 1 {
		slots = semaphore.NewWeighted(int64(opts.Workers))
	}
	return &Engine{
		settings:      s,
		suite:         significance.NewSuite(significance.NewSharedRunner(estimator, slots)),
		streams:       opts.Streams,
		targetWorkers: opts.TargetWorkers,
		logger:        opts.Logger.WithComponent("Inference"),
	}, nil
}

// Settings returns the settings the engine was built with
func (e *Engine) Settings() settings.Settings { return e.settings }

// AnalyseSingleTarget runs the full greedy analysis for one target. A nil
// source list means every process except the target.
func (e *Engine) AnalyseSingleTarget(ctx context.Context, data *series.TimeSeries, target int, sources []int) (*results.TargetResult, error) {
	a, err := e.newAnalysis(data, target, sources)
	if err != nil {
		return nil, err
	}
	return a.run(ctx)
}

// checkTarget validates a target index
func checkTarget(target, nProcesses int) error {
	if target < 0 || target >= nProcesses {
		return apperrors.ConfigInvalidf("target %d outside [0, %d)", target, nProcesses)
	}
	return nil
}

// resolveSources applies the default source set and validates it
func resolveSources(target int, sources []int, nProcesses int) ([]int, error) {
	if sources == nil {
		sources = make([]int, 0, nProcesses-1)
		for p := 0; p < nProcesses; p++ {
			if p != target {
				sources = append(sources, p)
			}
		}
	}
	if len(sources) == 0 {
		return nil, apperrors.ConfigInvalidf("target %d has no source processes", target)
	}
	seen := make(map[int]bool, len(sources))
	for _, s := range sources {
		if s == target {
			return nil, apperrors.ConfigInvalidf("target %d must not be in its own source list %v", target, sources)
		}
		if s < 0 || s >= nProcesses {
			return nil, apperrors.ConfigInvalidf("source %d outside [0, %d)", s, nProcesses)
		}
		if seen[s] {
			return nil, apperrors.ConfigInvalidf("source %d listed twice", s)
		}
		seen[s] = true
	}
	return append([]int(nil), sources...), nil
}

// streamName names the random streams of one target and phase
func streamName(target int, phase string, step int) string {
	return fmt.Sprintf("target-%d/%s-%d", target, phase, step)
}
