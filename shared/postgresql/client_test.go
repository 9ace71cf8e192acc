package postgresql

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cuongbtq/predict-queue/shared/logger"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_DSN(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		want   string
	}{
		{
			name:   "plain",
			config: Config{Host: "db", Port: 5432, User: "app", Password: "secret", Database: "predict", SSLMode: "disable"},
			want:   "postgres://app:secret@db:5432/predict?connect_timeout=5&sslmode=disable",
		},
		{
			name:   "escapes password",
			config: Config{Host: "db", Port: 5433, User: "app", Password: "p@ss word", Database: "predict"},
			want:   "postgres://app:p%40ss%20word@db:5433/predict?connect_timeout=5",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.config.DSN())
		})
	}
}

func TestClient_HealthCheck(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(mock sqlmock.Sqlmock)
		wantErr bool
	}{
		{
			name: "healthy",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
			},
		},
		{
			name: "query fails",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT 1").WillReturnError(errors.New("connection reset"))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)

			client := NewFromDB(sqlx.NewDb(db, "postgres"), logger.NewDiscard().Logger)
			tt.setup(mock)

			err = client.HealthCheck(context.Background())
			if tt.wantErr {
				assert.ErrorContains(t, err, "postgres health check")
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())

			mock.ExpectClose()
			require.NoError(t, client.Close())
		})
	}
}
