// Package history persists finished plan generation cycles in PostgreSQL.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "plan-generator/internal/common/errors"
	"plan-generator/internal/common/logger"
	"plan-generator/internal/plan/store"
)

const (
	defaultLimit = 20
	maxLimit     = 100
	writeTimeout = 5 * time.Second
)

const createTable = `CREATE TABLE IF NOT EXISTS plan_generations (
	id          UUID PRIMARY KEY,
	cycle_id    TEXT NOT NULL,
	user_input  TEXT NOT NULL,
	status      TEXT NOT NULL,
	plan        TEXT NOT NULL DEFAULT '',
	error_code  TEXT,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL
)`

const insertRecord = `INSERT INTO plan_generations
	(id, cycle_id, user_input, status, plan, error_code, started_at, finished_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

const selectRecent = `SELECT id, cycle_id, user_input, status, plan, error_code, started_at, finished_at
	FROM plan_generations ORDER BY finished_at DESC LIMIT $1`

// Record is one finished generation cycle.
type Record struct {
	ID         string    `json:"id"`
	CycleID    string    `json:"cycleId"`
	UserInput  string    `json:"userInput"`
	Status     string    `json:"status"`
	Plan       string    `json:"plan"`
	ErrorCode  string    `json:"errorCode,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

type Recorder struct {
	db     *sql.DB
	logger logger.Logger
}

func NewRecorder(db *sql.DB, log logger.Logger) *Recorder {
	return &Recorder{db: db, logger: log}
}

// EnsureSchema creates the plan_generations table when missing.
func (r *Recorder) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("create plan_generations: %w", err)
	}
	return nil
}

// Record inserts rec, assigning an id when it has none.
func (r *Recorder) Record(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	var errorCode sql.NullString
	if rec.ErrorCode != "" {
		errorCode = sql.NullString{String: rec.ErrorCode, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, insertRecord,
		rec.ID, rec.CycleID, rec.UserInput, rec.Status, rec.Plan, errorCode,
		rec.StartedAt.UTC(), rec.FinishedAt.UTC())
	if err != nil {
		return apperrors.NewHistoryWriteFailedError(err)
	}
	return nil
}

// Recent returns the latest records, newest first. limit is clamped to
// [1, 100]; zero or negative means 20.
func (r *Recorder) Recent(ctx context.Context, limit int) ([]Record, error) {
	switch {
	case limit <= 0:
		limit = defaultLimit
	case limit > maxLimit:
		limit = maxLimit
	}

	rows, err := r.db.QueryContext(ctx, selectRecent, limit)
	if err != nil {
		return nil, fmt.Errorf("query plan_generations: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0, limit)
	for rows.Next() {
		var rec Record
		var errorCode sql.NullString
		if err := rows.Scan(&rec.ID, &rec.CycleID, &rec.UserInput, &rec.Status, &rec.Plan,
			&errorCode, &rec.StartedAt, &rec.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan plan_generations: %w", err)
		}
		rec.ErrorCode = errorCode.String
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plan_generations: %w", err)
	}
	return records, nil
}

// Observe is a store.Observer that records every cycle. Write failures are
// logged, never returned to the store.
func (r *Recorder) Observe(ctx context.Context, result store.CycleResult) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	rec := Record{
		CycleID:    result.CycleID,
		UserInput:  result.Input,
		Status:     result.Outcome,
		Plan:       result.Plan,
		StartedAt:  result.StartedAt,
		FinishedAt: result.FinishedAt,
	}
	if result.Err != nil {
		rec.ErrorCode = string(apperrors.CodeOf(result.Err))
	}

	if err := r.Record(ctx, rec); err != nil {
		r.logger.Error("failed to record plan generation", map[string]interface{}{
			"cycleId": result.CycleID,
			"error":   err,
		})
	}
}
