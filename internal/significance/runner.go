package significance

import (
	"context"
	stderrors "errors"
	"fmt"

	"goinfonet/internal"
	apperrors "goinfonet/internal/errors"
	"goinfonet/ports"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"gonum.org/v1/gonum/mat"
)

// Runner evaluates an estimator on batches of inputs. Concurrency is bounded
// by a weighted semaphore that may be shared between runners, so analyses of
// several targets draw from one pool of estimation slots.
type Runner struct {
	estimator ports.CMIEstimator
	slots     *semaphore.Weighted
	logger    *internal.Logger
}

// NewRunner creates a runner with its own pool of workers slots. Fewer than
// two workers evaluates sequentially.
func NewRunner(estimator ports.CMIEstimator, workers int) *Runner {
	var slots *semaphore.Weighted
	if workers > 1 {
		slots = semaphore.NewWeighted(int64(workers))
	}
	return NewSharedRunner(estimator, slots)
}

// NewSharedRunner creates a runner drawing from an existing slot pool; a nil
// pool evaluates sequentially.
func NewSharedRunner(estimator ports.CMIEstimator, slots *semaphore.Weighted) *Runner {
	return &Runner{
		estimator: estimator,
		slots:     slots,
		logger:    internal.DefaultLogger.WithComponent("Runner"),
	}
}

// Estimator returns the wrapped estimator
func (r *Runner) Estimator() ports.CMIEstimator { return r.estimator }

// Estimate evaluates one CMI. Estimator failures are reported as
// ESTIMATOR_FAILED; context errors pass through unchanged.
func (r *Runner) Estimate(ctx context.Context, source, target, conditional *mat.Dense) (float64, error) {
	v, err := r.estimator.Estimate(ctx, source, target, conditional)
	if err == nil {
		return v, nil
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return 0, err
	}
	if apperrors.HasCode(err, apperrors.CodeEstimatorFailed) {
		return 0, err
	}
	return 0, apperrors.EstimatorFailed(r.estimator.Name(), err)
}

// EstimateBatch evaluates every input and returns the estimates in input order
func (r *Runner) EstimateBatch(ctx context.Context, inputs []ports.EstimationInput) ([]float64, error) {
	out := make([]float64, len(inputs))
	err := r.Map(ctx, len(inputs), func(ctx context.Context, i int) error {
		v, err := r.Estimate(ctx, inputs[i].Source, inputs[i].Target, inputs[i].Conditional)
		if err != nil {
			return err
		}
		out[i] = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Map calls fn for every index in [0, n), stopping at the first error. The
// context is checked before the batch starts and before each task.
func (r *Runner) Map(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.logger.Trace("batch of %d tasks", n)

	if r.slots == nil {
		for i := 0; i < n; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(ctx, i); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		if err := r.slots.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer r.slots.Release(1)
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := fn(gctx, i); err != nil {
				return fmt.Errorf("task %d: %w", i, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
