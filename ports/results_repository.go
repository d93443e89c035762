package ports

import (
	"context"
	"time"

	"goinfonet/domain/core"
	"goinfonet/internal/results"
)

// RunSummary describes a stored network analysis without its target results
type RunSummary struct {
	RunID       core.RunID `db:"run_id" json:"run_id"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	NNodes      int        `db:"n_nodes" json:"n_nodes"`
	NTargets    int        `db:"n_targets" json:"n_targets"`
	NFailures   int        `db:"n_failures" json:"n_failures"`
	Fingerprint string     `db:"settings_fingerprint" json:"settings_fingerprint"`
}

// ResultsRepository persists network analysis results keyed by run id
type ResultsRepository interface {
	Save(ctx context.Context, n *results.NetworkResults) error
	Get(ctx context.Context, id core.RunID) (*results.NetworkResults, error)
	// List returns the most recent runs first; limit <= 0 returns all
	List(ctx context.Context, limit int) ([]RunSummary, error)
	Delete(ctx context.Context, id core.RunID) error
}
