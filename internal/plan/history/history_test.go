// internal/plan/history/history_test.go
package history

import (
	"context"
	"database/sql"
	stderrors "errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "plan-generator/internal/common/errors"
	"plan-generator/internal/common/logger"
	"plan-generator/internal/plan/store"
)

// ==========================
// Test Helper Functions
// ==========================

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

var (
	started  = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	finished = started.Add(4 * time.Second)
)

// ==========================
// Record
// ==========================

func TestRecorder_Record(t *testing.T) {
	tests := []struct {
		name      string
		rec       Record
		wantCode  interface{}
		execErr   error
		wantError bool
	}{
		{
			name:     "complete cycle",
			rec:      Record{CycleID: "c1", UserInput: "run", Status: "complete", Plan: "# Plan", StartedAt: started, FinishedAt: finished},
			wantCode: nil,
		},
		{
			name:     "failed cycle keeps error code",
			rec:      Record{CycleID: "c2", UserInput: "run", Status: "failed", ErrorCode: "GENERATION_TIMEOUT", StartedAt: started, FinishedAt: finished},
			wantCode: "GENERATION_TIMEOUT",
		},
		{
			name:      "insert failure",
			rec:       Record{CycleID: "c3", UserInput: "run", Status: "complete", StartedAt: started, FinishedAt: finished},
			wantCode:  nil,
			execErr:   stderrors.New("connection reset"),
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := setupMockDB(t)
			exp := mock.ExpectExec(regexp.QuoteMeta("INSERT INTO plan_generations")).
				WithArgs(sqlmock.AnyArg(), tt.rec.CycleID, tt.rec.UserInput, tt.rec.Status, tt.rec.Plan,
					tt.wantCode, started, finished)
			if tt.execErr != nil {
				exp.WillReturnError(tt.execErr)
			} else {
				exp.WillReturnResult(sqlmock.NewResult(0, 1))
			}

			err := NewRecorder(db, logger.NewTestLogger(t)).Record(context.Background(), tt.rec)
			if tt.wantError {
				require.Error(t, err)
				assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeHistoryWriteFailed))
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestRecorder_EnsureSchema(t *testing.T) {
	db, mock := setupMockDB(t)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS plan_generations")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.NoError(t, NewRecorder(db, logger.NewNoOpLogger()).EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ==========================
// Recent
// ==========================

func TestRecorder_Recent(t *testing.T) {
	columns := []string{"id", "cycle_id", "user_input", "status", "plan", "error_code", "started_at", "finished_at"}

	tests := []struct {
		name      string
		limit     int
		wantLimit int
	}{
		{"default", 0, 20},
		{"explicit", 5, 5},
		{"clamped", 1000, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := setupMockDB(t)
			rows := sqlmock.NewRows(columns).
				AddRow("id-2", "c2", "swim", "failed", "", "REMOTE_INVOCATION_FAILED", started, finished).
				AddRow("id-1", "c1", "run", "complete", "# Plan", nil, started, finished)
			mock.ExpectQuery(regexp.QuoteMeta("FROM plan_generations ORDER BY finished_at DESC LIMIT $1")).
				WithArgs(tt.wantLimit).
				WillReturnRows(rows)

			records, err := NewRecorder(db, logger.NewNoOpLogger()).Recent(context.Background(), tt.limit)
			require.NoError(t, err)
			require.Len(t, records, 2)
			assert.Equal(t, "REMOTE_INVOCATION_FAILED", records[0].ErrorCode)
			assert.Equal(t, "", records[1].ErrorCode)
			assert.Equal(t, "# Plan", records[1].Plan)
			assert.Equal(t, finished, records[1].FinishedAt)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestRecorder_RecentQueryError(t *testing.T) {
	db, mock := setupMockDB(t)
	mock.ExpectQuery("SELECT").WillReturnError(stderrors.New("db down"))

	_, err := NewRecorder(db, logger.NewNoOpLogger()).Recent(context.Background(), 10)
	assert.Error(t, err)
}

// ==========================
// Observe
// ==========================

func TestRecorder_Observe(t *testing.T) {
	db, mock := setupMockDB(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO plan_generations")).
		WithArgs(sqlmock.AnyArg(), "c9", "run", store.OutcomeFailed, "", "GENERATION_TIMEOUT", started, finished).
		WillReturnResult(sqlmock.NewResult(0, 1))

	NewRecorder(db, logger.NewTestLogger(t)).Observe(context.Background(), store.CycleResult{
		CycleID:    "c9",
		Input:      "run",
		Outcome:    store.OutcomeFailed,
		Err:        apperrors.NewGenerationTimeoutError(time.Second),
		StartedAt:  started,
		FinishedAt: finished,
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecorder_ObserveSwallowsWriteErrors(t *testing.T) {
	db, mock := setupMockDB(t)
	mock.ExpectExec("INSERT").WillReturnError(stderrors.New("db down"))

	assert.NotPanics(t, func() {
		NewRecorder(db, logger.NewNoOpLogger()).Observe(context.Background(), store.CycleResult{
			CycleID: "c1", Outcome: store.OutcomeComplete, StartedAt: started, FinishedAt: finished,
		})
	})
	assert.NoError(t, mock.ExpectationsWereMet())
}
