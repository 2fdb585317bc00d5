package repo

import (
	"context"
	"database/sql"
	"fmt"

	"routinely/internal/domain"
	"routinely/internal/events"
)

func (r Repo) InsertAttachment(ctx context.Context, a domain.Attachment, evt events.Entry) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO attachments(id,execution_id,url,filename,created_at) VALUES (?,?,?,?,?)`,
			a.ID, a.ExecutionID, a.URL, a.Filename, formatTS(a.CreatedAt))
		if isUniqueViolation(err) {
			return fmt.Errorf("attachment %s: %w", a.ID, ErrConflict)
		}
		if err != nil {
			return err
		}
		return r.Events.Append(ctx, tx, evt)
	})
}

// ListAttachments returns the execution's attachments newest first; rows
// sharing a timestamp come back in reverse insertion order.
func (r Repo) ListAttachments(ctx context.Context, executionID string) ([]domain.Attachment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,execution_id,url,filename,created_at FROM attachments
WHERE execution_id=? ORDER BY created_at DESC, seq DESC`, executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Attachment
	for rows.Next() {
		var a domain.Attachment
		var createdAt string
		if err := rows.Scan(&a.ID, &a.ExecutionID, &a.URL, &a.Filename, &createdAt); err != nil {
			return nil, err
		}
		if a.CreatedAt, err = parseTS(createdAt); err != nil {
			return nil, fmt.Errorf("attachment %s created_at: %w", a.ID, err)
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
