package broker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/predict-queue/internal/domain"
	"github.com/cuongbtq/predict-queue/shared/postgresql"
	"github.com/jmoiron/sqlx"
)

const createResultsTable = `
	CREATE TABLE IF NOT EXISTS prediction_results (
		job_id        TEXT PRIMARY KEY,
		prediction    TEXT NOT NULL DEFAULT '',
		score         DOUBLE PRECISION NOT NULL DEFAULT 0,
		error_message TEXT NOT NULL DEFAULT '',
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		expires_at    TIMESTAMPTZ
	)
`

type resultRow struct {
	Prediction   string  `db:"prediction"`
	Score        float64 `db:"score"`
	ErrorMessage string  `db:"error_message"`
}

// PostgresResultStore keeps results in the prediction_results table
type PostgresResultStore struct {
	db     *sqlx.DB
	ttl    time.Duration
	logger *slog.Logger
}

// NewPostgresResultStore creates a result store. A zero ttl leaves rows without expiry.
func NewPostgresResultStore(pg *postgresql.Client, ttl time.Duration, logger *slog.Logger) *PostgresResultStore {
	return &PostgresResultStore{
		db:     pg.GetDB(),
		ttl:    ttl,
		logger: logger,
	}
}

// EnsureSchema creates the results table if it does not exist
func (s *PostgresResultStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createResultsTable); err != nil {
		return fmt.Errorf("failed to create prediction_results table: %w", err)
	}
	return nil
}

// Put stores or overwrites the result for id. Expiry is computed by the
// database so Get and Sweep compare it against the same clock.
func (s *PostgresResultStore) Put(ctx context.Context, id string, result domain.Result) error {
	query := `
		INSERT INTO prediction_results (job_id, prediction, score, error_message, created_at, expires_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW() + $5::double precision * INTERVAL '1 second')
		ON CONFLICT (job_id) DO UPDATE
		SET prediction = EXCLUDED.prediction,
		    score = EXCLUDED.score,
		    error_message = EXCLUDED.error_message,
		    created_at = EXCLUDED.created_at,
		    expires_at = EXCLUDED.expires_at
	`

	// NULL ttl yields a NULL expires_at
	var ttlSeconds sql.NullFloat64
	if s.ttl > 0 {
		ttlSeconds = sql.NullFloat64{Float64: s.ttl.Seconds(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, query, id, result.Prediction, result.Score, result.Error, ttlSeconds)
	if err != nil {
		return fmt.Errorf("failed to store result for job %s: %w", id, err)
	}
	return nil
}

// Get returns the result for id, ignoring rows that already expired
func (s *PostgresResultStore) Get(ctx context.Context, id string) (domain.Result, bool, error) {
	query := `
		SELECT prediction, score, error_message
		FROM prediction_results
		WHERE job_id = $1
		  AND (expires_at IS NULL OR expires_at > NOW())
	`

	var row resultRow
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Result{}, false, nil
		}
		return domain.Result{}, false, fmt.Errorf("failed to get result for job %s: %w", id, err)
	}

	return domain.Result{
		Prediction: row.Prediction,
		Score:      row.Score,
		Error:      row.ErrorMessage,
	}, true, nil
}

// Delete removes the result for id
func (s *PostgresResultStore) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM prediction_results WHERE job_id = $1`

	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete result for job %s: %w", id, err)
	}
	return nil
}

// Sweep removes rows whose expiry has passed
func (s *PostgresResultStore) Sweep(ctx context.Context) (int64, error) {
	query := `DELETE FROM prediction_results WHERE expires_at IS NOT NULL AND expires_at <= NOW()`

	res, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired results: %w", err)
	}

	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if removed > 0 {
		s.logger.Info("Swept abandoned results",
			slog.Int64("removed", removed),
		)
	}
	return removed, nil
}
