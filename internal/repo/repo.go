package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"routinely/internal/domain"
	"routinely/internal/events"
)

type Repo struct {
	DB     *sql.DB
	Events events.Writer
}

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict reports a uniqueness constraint violation.
	ErrConflict = errors.New("conflict")
)

// tsLayout is fixed width so that stored timestamps sort as text.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

func formatTS(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTS(s string) (time.Time, error) {
	t, err := time.Parse(tsLayout, s)
	if err != nil {
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}

func parseNullTS(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTS(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r Repo) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return false
}

const routineColumns = `id,title,description,kind,recurrence_kind,weekday,day_of_month,recurrence_date,start_date,start_time,duration_minutes,priority,checklist_enabled,attachment_required,creator_id,responsible_id,department_id,sector_id,region_id,created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoutine(row rowScanner) (domain.Routine, error) {
	var (
		rt                                         domain.Routine
		kind, recKind, createdAt                   string
		desc, recDate, startTime, dept, sect, regn sql.NullString
		weekday, dom                               sql.NullInt64
	)
	err := row.Scan(&rt.ID, &rt.Title, &desc, &kind, &recKind, &weekday, &dom, &recDate, &rt.StartDate, &startTime,
		&rt.DurationMinutes, &rt.Priority, &rt.ChecklistEnabled, &rt.AttachmentRequired, &rt.CreatorID, &rt.ResponsibleID,
		&dept, &sect, &regn, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return rt, ErrNotFound
	}
	if err != nil {
		return rt, err
	}
	rt.Kind = domain.RoutineKind(kind)
	rt.Recurrence = domain.Recurrence{Kind: domain.RecurrenceKind(recKind), Date: recDate.String}
	if weekday.Valid {
		v := int(weekday.Int64)
		rt.Recurrence.Weekday = &v
	}
	if dom.Valid {
		v := int(dom.Int64)
		rt.Recurrence.DayOfMonth = &v
	}
	rt.Description = desc.String
	rt.StartTime = startTime.String
	rt.DepartmentID = dept.String
	rt.SectorID = sect.String
	rt.RegionID = regn.String
	if rt.CreatedAt, err = parseTS(createdAt); err != nil {
		return rt, fmt.Errorf("routine %s created_at: %w", rt.ID, err)
	}
	// Closed variant check at the boundary: a stored row with a bad payload
	// is reported rather than evaluated.
	if err := rt.Recurrence.Validate(); err != nil {
		return rt, fmt.Errorf("routine %s recurrence: %w", rt.ID, err)
	}
	return rt, nil
}

func insertRoutine(ctx context.Context, tx *sql.Tx, rt domain.Routine) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO routines(`+routineColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rt.ID, rt.Title, nullable(rt.Description), string(rt.Kind), string(rt.Recurrence.Kind), nullableIntPtr(rt.Recurrence.Weekday),
		nullableIntPtr(rt.Recurrence.DayOfMonth), nullable(rt.Recurrence.Date), rt.StartDate, nullable(rt.StartTime),
		rt.DurationMinutes, rt.Priority, rt.ChecklistEnabled, rt.AttachmentRequired, rt.CreatorID, rt.ResponsibleID,
		nullable(rt.DepartmentID), nullable(rt.SectorID), nullable(rt.RegionID), formatTS(rt.CreatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("routine %s: %w", rt.ID, ErrConflict)
	}
	return err
}

func insertChecklistItems(ctx context.Context, tx *sql.Tx, items []domain.ChecklistItem) error {
	for _, it := range items {
		_, err := tx.ExecContext(ctx, `INSERT INTO checklist_items(id,routine_id,position,text) VALUES (?,?,?,?)`,
			it.ID, it.RoutineID, it.Position, it.Text)
		if isUniqueViolation(err) {
			return fmt.Errorf("checklist item %d of routine %s: %w", it.Position, it.RoutineID, ErrConflict)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// CreateRoutine inserts a routine definition together with its creation event.
func (r Repo) CreateRoutine(ctx context.Context, rt domain.Routine, evt events.Entry) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		if err := insertRoutine(ctx, tx, rt); err != nil {
			return err
		}
		return r.Events.Append(ctx, tx, evt)
	})
}

// CreateRoutineWithChecklist inserts a routine and its checklist template in
// one transaction.
func (r Repo) CreateRoutineWithChecklist(ctx context.Context, rt domain.Routine, items []domain.ChecklistItem, evt events.Entry) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		if err := insertRoutine(ctx, tx, rt); err != nil {
			return err
		}
		if err := insertChecklistItems(ctx, tx, items); err != nil {
			return err
		}
		return r.Events.Append(ctx, tx, evt)
	})
}

// AddChecklistItems appends template items to an existing routine.
func (r Repo) AddChecklistItems(ctx context.Context, items []domain.ChecklistItem, evt events.Entry) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		if err := insertChecklistItems(ctx, tx, items); err != nil {
			return err
		}
		return r.Events.Append(ctx, tx, evt)
	})
}

// RecordEvent appends a standalone event.
func (r Repo) RecordEvent(ctx context.Context, evt events.Entry) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		return r.Events.Append(ctx, tx, evt)
	})
}

func (r Repo) GetRoutine(ctx context.Context, id string) (domain.Routine, error) {
	return scanRoutine(r.DB.QueryRowContext(ctx, `SELECT `+routineColumns+` FROM routines WHERE id=?`, id))
}

type RoutineFilter struct {
	ResponsibleID  string
	RecurrenceKind domain.RecurrenceKind
	Kind           domain.RoutineKind
	DepartmentID   string
	SectorID       string
	RegionID       string
	Limit          int
}

func (r Repo) ListRoutines(ctx context.Context, f RoutineFilter) ([]domain.Routine, error) {
	var clauses []string
	var args []any
	if f.ResponsibleID != "" {
		clauses = append(clauses, "responsible_id=?")
		args = append(args, f.ResponsibleID)
	}
	if f.RecurrenceKind != "" {
		clauses = append(clauses, "recurrence_kind=?")
		args = append(args, string(f.RecurrenceKind))
	}
	if f.Kind != "" {
		clauses = append(clauses, "kind=?")
		args = append(args, string(f.Kind))
	}
	if f.DepartmentID != "" {
		clauses = append(clauses, "department_id=?")
		args = append(args, f.DepartmentID)
	}
	if f.SectorID != "" {
		clauses = append(clauses, "sector_id=?")
		args = append(args, f.SectorID)
	}
	if f.RegionID != "" {
		clauses = append(clauses, "region_id=?")
		args = append(args, f.RegionID)
	}
	query := `SELECT ` + routineColumns + ` FROM routines`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY start_time IS NULL, start_time, created_at, id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Routine
	for rows.Next() {
		rt, err := scanRoutine(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rt)
	}
	return res, rows.Err()
}

func (r Repo) ListChecklistItems(ctx context.Context, routineID string) ([]domain.ChecklistItem, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,routine_id,position,text FROM checklist_items WHERE routine_id=? ORDER BY position`, routineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ChecklistItem
	for rows.Next() {
		var it domain.ChecklistItem
		if err := rows.Scan(&it.ID, &it.RoutineID, &it.Position, &it.Text); err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

// NextChecklistPosition returns the position a new template item should take.
func (r Repo) NextChecklistPosition(ctx context.Context, routineID string) (int, error) {
	var pos int
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(position),0)+1 FROM checklist_items WHERE routine_id=?`, routineID).Scan(&pos)
	return pos, err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
