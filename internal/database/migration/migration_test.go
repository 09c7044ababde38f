package migration

import (
	"bytes"
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureMigrated(t *testing.T) {
	tests := []struct {
		name       string
		setupMocks func(mock sqlmock.Sqlmock)
		wantErr    string
		wantEvent  string
	}{
		{
			name: "schema present",
			setupMocks: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(regexp.QuoteMeta("SELECT to_regclass($1) IS NOT NULL")).
					WithArgs("public.files").
					WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
			},
			wantEvent: "db_migration_skip",
		},
		{
			name: "fresh database",
			setupMocks: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(regexp.QuoteMeta("SELECT to_regclass($1) IS NOT NULL")).
					WithArgs("public.files").
					WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
				for range steps {
					mock.ExpectExec("CREATE").WillReturnResult(sqlmock.NewResult(0, 0))
				}
			},
			wantEvent: "db_migration_success",
		},
		{
			name: "step fails",
			setupMocks: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(regexp.QuoteMeta("SELECT to_regclass($1) IS NOT NULL")).
					WithArgs("public.files").
					WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
				mock.ExpectExec("CREATE TABLE IF NOT EXISTS files").WillReturnError(errors.New("permission denied"))
			},
			wantErr:   "migration step create_table_files failed",
			wantEvent: "db_migration_failed",
		},
		{
			name: "sentinel check fails",
			setupMocks: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(regexp.QuoteMeta("SELECT to_regclass($1) IS NOT NULL")).
					WillReturnError(errors.New("connection reset"))
			},
			wantErr:   "failed to check sentinel table",
			wantEvent: "db_migration_failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()
			tt.setupMocks(mock)

			var buf bytes.Buffer
			err = EnsureMigrated(context.Background(), db, zerolog.New(&buf), "db.internal")

			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Contains(t, buf.String(), `"event":"`+tt.wantEvent+`"`)
			assert.Contains(t, buf.String(), `"db_host":"db.internal"`)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
