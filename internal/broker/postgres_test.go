package broker

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cuongbtq/predict-queue/internal/domain"
	"github.com/cuongbtq/predict-queue/shared/logger"
	"github.com/cuongbtq/predict-queue/shared/postgresql"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPostgresStore(t *testing.T, ttl time.Duration) (*PostgresResultStore, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log := logger.NewDiscard().Logger
	client := postgresql.NewFromDB(sqlx.NewDb(db, "postgres"), log)
	return NewPostgresResultStore(client, ttl, log), mock
}

func TestPostgresResultStore_EnsureSchema(t *testing.T) {
	s, mock := newTestPostgresStore(t, 0)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS prediction_results")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresResultStore_Put(t *testing.T) {
	tests := []struct {
		name    string
		ttl     time.Duration
		wantTTL driver.Value
	}{
		{name: "expiry from database clock", ttl: 15 * time.Minute, wantTTL: float64(900)},
		{name: "no expiry", ttl: 0, wantTTL: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newTestPostgresStore(t, tt.ttl)

			mock.ExpectExec(regexp.QuoteMeta("VALUES ($1, $2, $3, $4, NOW(), NOW() + $5::double precision * INTERVAL '1 second')")).
				WithArgs("job-1", "cat", 0.9456, "", tt.wantTTL).
				WillReturnResult(sqlmock.NewResult(0, 1))

			err := s.Put(context.Background(), "job-1", domain.Result{Prediction: "cat", Score: 0.9456})
			require.NoError(t, err)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresResultStore_PutError(t *testing.T) {
	s, mock := newTestPostgresStore(t, 0)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO prediction_results")).
		WillReturnError(errors.New("connection reset"))

	err := s.Put(context.Background(), "job-1", domain.FailureResult("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to store result for job job-1")
}

func TestPostgresResultStore_Get(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(mock sqlmock.Sqlmock)
		wantFound bool
		wantErr   bool
		want      domain.Result
	}{
		{
			name: "found",
			setup: func(mock sqlmock.Sqlmock) {
				rows := sqlmock.NewRows([]string{"prediction", "score", "error_message"}).
					AddRow("cat", 0.9456, "")
				mock.ExpectQuery(regexp.QuoteMeta("FROM prediction_results")).
					WithArgs("job-1").
					WillReturnRows(rows)
			},
			wantFound: true,
			want:      domain.Result{Prediction: "cat", Score: 0.9456},
		},
		{
			name: "absent",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(regexp.QuoteMeta("FROM prediction_results")).
					WithArgs("job-1").
					WillReturnError(sql.ErrNoRows)
			},
			wantFound: false,
		},
		{
			name: "query error",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(regexp.QuoteMeta("FROM prediction_results")).
					WithArgs("job-1").
					WillReturnError(errors.New("timeout"))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newTestPostgresStore(t, 0)
			tt.setup(mock)

			got, found, err := s.Get(context.Background(), "job-1")

			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantFound, found)
				assert.Equal(t, tt.want, got)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresResultStore_DeleteIsIdempotent(t *testing.T) {
	s, mock := newTestPostgresStore(t, 0)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM prediction_results WHERE job_id = $1")).
		WithArgs("job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM prediction_results WHERE job_id = $1")).
		WithArgs("job-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.Delete(context.Background(), "job-1"))
	require.NoError(t, s.Delete(context.Background(), "job-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresResultStore_Sweep(t *testing.T) {
	s, mock := newTestPostgresStore(t, time.Minute)

	mock.ExpectExec(regexp.QuoteMeta("expires_at <= NOW()")).
		WillReturnResult(sqlmock.NewResult(0, 3))

	removed, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}
