package postgres

import (
	"context"
	"database/sql"
	stderrors "errors"

	"goinfonet/domain/core"
	"goinfonet/internal/errors"
	"goinfonet/internal/results"
	"goinfonet/ports"

	"github.com/jmoiron/sqlx"
)

// resultsRepository stores each network analysis as one JSONB document and
// its inferred links as rows for querying across runs.
type resultsRepository struct {
	db *sqlx.DB
}

// NewResultsRepository creates a new PostgreSQL results repository
func NewResultsRepository(db *sqlx.DB) ports.ResultsRepository {
	return &resultsRepository{db: db}
}

// Save inserts or replaces the results of one run
func (r *resultsRepository) Save(ctx context.Context, n *results.NetworkResults) error {
	document, err := results.Marshal(n)
	if err != nil {
		return err
	}
	fingerprint, err := n.Settings.Fingerprint()
	if err != nil {
		return errors.Wrap(err, "failed to fingerprint settings")
	}
	edges, err := n.Edges(results.WeightLagFirst, false)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return dbError(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO network_results (run_id, created_at, n_nodes, n_targets, n_failures, settings_fingerprint, document)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (run_id) DO UPDATE SET
			n_targets = EXCLUDED.n_targets,
			n_failures = EXCLUDED.n_failures,
			settings_fingerprint = EXCLUDED.settings_fingerprint,
			document = EXCLUDED.document
	`, n.RunID.String(), n.CreatedAt, n.NNodes, len(n.Targets), len(n.Failures), fingerprint.String(), document)
	if err != nil {
		return dbError(err, "failed to store network results")
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM network_links WHERE run_id = $1`, n.RunID.String()); err != nil {
		return dbError(err, "failed to clear network links")
	}
	for _, e := range edges {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO network_links (run_id, source, target, lag, p_value, statistic)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, n.RunID.String(), e.Source, e.Target, e.Lag, e.PValue, e.Statistic)
		if err != nil {
			return dbError(err, "failed to store network link")
		}
	}

	if err := tx.Commit(); err != nil {
		return dbError(err, "failed to commit network results")
	}
	return nil
}

// Get loads the results of one run
func (r *resultsRepository) Get(ctx context.Context, id core.RunID) (*results.NetworkResults, error) {
	var document []byte
	err := r.db.GetContext(ctx, &document, `SELECT document FROM network_results WHERE run_id = $1`, id.String())
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFound("network results " + id.String())
		}
		return nil, dbError(err, "failed to load network results")
	}
	return results.Unmarshal(document)
}

// List returns run summaries, newest first
func (r *resultsRepository) List(ctx context.Context, limit int) ([]ports.RunSummary, error) {
	query := `
		SELECT run_id, created_at, n_nodes, n_targets, n_failures, settings_fingerprint
		FROM network_results
		ORDER BY created_at DESC
	`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	var runs []ports.RunSummary
	if err := r.db.SelectContext(ctx, &runs, query, args...); err != nil {
		return nil, dbError(err, "failed to list network results")
	}
	return runs, nil
}

// Delete removes one run and its links
func (r *resultsRepository) Delete(ctx context.Context, id core.RunID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM network_results WHERE run_id = $1`, id.String())
	if err != nil {
		return dbError(err, "failed to delete network results")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return dbError(err, "failed to delete network results")
	}
	if n == 0 {
		return errors.NotFound("network results " + id.String())
	}
	return nil
}

func dbError(err error, message string) error {
	return errors.WithCode(errors.CodeDatabaseError, errors.Wrap(err, message))
}
