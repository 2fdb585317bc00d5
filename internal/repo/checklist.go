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

// ChecklistEntries returns the execution's completion state over the
// template of routineID, in template order. Missing completion rows are
// created as not done.
func (r Repo) ChecklistEntries(ctx context.Context, executionID, routineID string, now time.Time) ([]domain.ChecklistEntry, error) {
	var res []domain.ChecklistEntry
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO checklist_completions(execution_id,item_id,done,updated_at)
SELECT ?, id, 0, ? FROM checklist_items WHERE routine_id=?`, executionID, formatTS(now), routineID); err != nil {
			return fmt.Errorf("seed completions: %w", err)
		}
		rows, err := tx.QueryContext(ctx, `SELECT ci.id, ci.position, ci.text, cc.done
FROM checklist_items ci
JOIN checklist_completions cc ON cc.item_id=ci.id AND cc.execution_id=?
WHERE ci.routine_id=? ORDER BY ci.position`, executionID, routineID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			entry := domain.ChecklistEntry{ExecutionID: executionID}
			if err := rows.Scan(&entry.ItemID, &entry.Position, &entry.Text, &entry.Done); err != nil {
				return err
			}
			res = append(res, entry)
		}
		return rows.Err()
	})
	return res, err
}

// ChecklistItemInRoutine reports whether itemID belongs to routineID.
func (r Repo) ChecklistItemInRoutine(ctx context.Context, routineID, itemID string) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM checklist_items WHERE id=? AND routine_id=?`, itemID, routineID).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// ToggleCompletion flips the done flag of one item for one execution and
// returns the new value.
func (r Repo) ToggleCompletion(ctx context.Context, executionID, itemID string, now time.Time, evt events.Entry) (bool, error) {
	var done bool
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var current bool
		err := tx.QueryRowContext(ctx, `SELECT done FROM checklist_completions WHERE execution_id=? AND item_id=?`, executionID, itemID).Scan(&current)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			current = false
		case err != nil:
			return err
		}
		done = !current
		if _, err := tx.ExecContext(ctx, `INSERT INTO checklist_completions(execution_id,item_id,done,updated_at) VALUES (?,?,?,?)
ON CONFLICT(execution_id,item_id) DO UPDATE SET done=excluded.done, updated_at=excluded.updated_at`,
			executionID, itemID, done, formatTS(now)); err != nil {
			return err
		}
		if evt.Payload == nil {
			evt.Payload = events.EventPayload{}
		}
		evt.Payload["done"] = done
		return r.Events.Append(ctx, tx, evt)
	})
	return done, err
}
