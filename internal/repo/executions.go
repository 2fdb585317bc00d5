package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"routinely/internal/domain"
	"routinely/internal/events"
)

const executionColumns = `id,routine_id,executor_id,started_at,paused_at,finished_at,total_duration_seconds,notes`

func scanExecution(row rowScanner) (domain.Execution, error) {
	var (
		e                          domain.Execution
		startedAt                  string
		pausedAt, finishedAt, note sql.NullString
		total                      sql.NullInt64
	)
	err := row.Scan(&e.ID, &e.RoutineID, &e.ExecutorID, &startedAt, &pausedAt, &finishedAt, &total, &note)
	if errors.Is(err, sql.ErrNoRows) {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	if e.StartedAt, err = parseTS(startedAt); err != nil {
		return e, fmt.Errorf("execution %s started_at: %w", e.ID, err)
	}
	if e.PausedAt, err = parseNullTS(pausedAt); err != nil {
		return e, fmt.Errorf("execution %s paused_at: %w", e.ID, err)
	}
	if e.FinishedAt, err = parseNullTS(finishedAt); err != nil {
		return e, fmt.Errorf("execution %s finished_at: %w", e.ID, err)
	}
	if total.Valid {
		v := total.Int64
		e.TotalDurationSeconds = &v
	}
	e.Notes = note.String
	return e, nil
}

// InsertExecution stores a new open execution. A second open execution for
// the same routine and executor fails with ErrConflict.
func (r Repo) InsertExecution(ctx context.Context, e domain.Execution, evt events.Entry) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO executions(id,routine_id,executor_id,started_at) VALUES (?,?,?,?)`,
			e.ID, e.RoutineID, e.ExecutorID, formatTS(e.StartedAt))
		if isUniqueViolation(err) {
			return fmt.Errorf("open execution for routine %s and executor %s: %w", e.RoutineID, e.ExecutorID, ErrConflict)
		}
		if err != nil {
			return err
		}
		return r.Events.Append(ctx, tx, evt)
	})
}

func (r Repo) GetExecution(ctx context.Context, id string) (domain.Execution, error) {
	return scanExecution(r.DB.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE id=?`, id))
}

// OpenExecution returns the most recently started unfinished execution.
func (r Repo) OpenExecution(ctx context.Context, routineID, executorID string) (domain.Execution, error) {
	return scanExecution(r.DB.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions
WHERE routine_id=? AND executor_id=? AND finished_at IS NULL ORDER BY started_at DESC, rowid DESC LIMIT 1`, routineID, executorID))
}

// LatestExecution returns the open execution if any, otherwise the most
// recently started finished one.
func (r Repo) LatestExecution(ctx context.Context, routineID, executorID string) (domain.Execution, error) {
	return scanExecution(r.DB.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions
WHERE routine_id=? AND executor_id=? ORDER BY finished_at IS NULL DESC, started_at DESC, rowid DESC LIMIT 1`, routineID, executorID))
}

type ExecutionFilter struct {
	RoutineID  string
	ExecutorID string
	Limit      int
}

func (r Repo) ListExecutions(ctx context.Context, f ExecutionFilter) ([]domain.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE routine_id=?`
	args := []any{f.RoutineID}
	if f.ExecutorID != "" {
		query += ` AND executor_id=?`
		args = append(args, f.ExecutorID)
	}
	query += ` ORDER BY started_at DESC, rowid DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// The transition writes below are conditional on the current state. They
// report false when no row matched so callers can re-read and explain why.

func (r Repo) MarkPaused(ctx context.Context, id string, at time.Time, evt events.Entry) (bool, error) {
	return r.conditionalUpdate(ctx, evt, `UPDATE executions SET paused_at=? WHERE id=? AND finished_at IS NULL AND paused_at IS NULL`,
		formatTS(at), id)
}

func (r Repo) ClearPaused(ctx context.Context, id string, evt events.Entry) (bool, error) {
	return r.conditionalUpdate(ctx, evt, `UPDATE executions SET paused_at=NULL WHERE id=? AND finished_at IS NULL AND paused_at IS NOT NULL`, id)
}

func (r Repo) MarkFinished(ctx context.Context, id string, at time.Time, totalSeconds int64, notes string, evt events.Entry) (bool, error) {
	return r.conditionalUpdate(ctx, evt, `UPDATE executions SET finished_at=?, total_duration_seconds=?, notes=? WHERE id=? AND finished_at IS NULL`,
		formatTS(at), totalSeconds, nullable(notes), id)
}

func (r Repo) conditionalUpdate(ctx context.Context, evt events.Entry, query string, args ...any) (bool, error) {
	var changed bool
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		changed = true
		return r.Events.Append(ctx, tx, evt)
	})
	return changed, err
}
