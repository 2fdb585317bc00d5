package engine

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"routinely/internal/blob"
	"routinely/internal/config"
	"routinely/internal/domain"
	"routinely/internal/events"
	"routinely/internal/repo"
	"routinely/internal/schedule"
)

// Repository is the persistence surface the engine drives. repo.Repo is the
// SQLite implementation.
type Repository interface {
	CreateRoutine(ctx context.Context, rt domain.Routine, evt events.Entry) error
	CreateRoutineWithChecklist(ctx context.Context, rt domain.Routine, items []domain.ChecklistItem, evt events.Entry) error
	AddChecklistItems(ctx context.Context, items []domain.ChecklistItem, evt events.Entry) error
	RecordEvent(ctx context.Context, evt events.Entry) error
	GetRoutine(ctx context.Context, id string) (domain.Routine, error)
	ListRoutines(ctx context.Context, f repo.RoutineFilter) ([]domain.Routine, error)
	ListChecklistItems(ctx context.Context, routineID string) ([]domain.ChecklistItem, error)
	NextChecklistPosition(ctx context.Context, routineID string) (int, error)

	InsertExecution(ctx context.Context, e domain.Execution, evt events.Entry) error
	GetExecution(ctx context.Context, id string) (domain.Execution, error)
	OpenExecution(ctx context.Context, routineID, executorID string) (domain.Execution, error)
	LatestExecution(ctx context.Context, routineID, executorID string) (domain.Execution, error)
	ListExecutions(ctx context.Context, f repo.ExecutionFilter) ([]domain.Execution, error)
	MarkPaused(ctx context.Context, id string, at time.Time, evt events.Entry) (bool, error)
	ClearPaused(ctx context.Context, id string, evt events.Entry) (bool, error)
	MarkFinished(ctx context.Context, id string, at time.Time, totalSeconds int64, notes string, evt events.Entry) (bool, error)

	ChecklistEntries(ctx context.Context, executionID, routineID string, now time.Time) ([]domain.ChecklistEntry, error)
	ChecklistItemInRoutine(ctx context.Context, routineID, itemID string) (bool, error)
	ToggleCompletion(ctx context.Context, executionID, itemID string, now time.Time, evt events.Entry) (bool, error)

	InsertAttachment(ctx context.Context, a domain.Attachment, evt events.Entry) error
	ListAttachments(ctx context.Context, executionID string) ([]domain.Attachment, error)

	LatestEvents(ctx context.Context, f repo.EventFilter) ([]domain.Event, error)
}

type Engine struct {
	Repo      Repository
	Blobs     blob.Store
	Config    *config.Config
	Evaluator schedule.Evaluator
	Log       zerolog.Logger
	Now       func() time.Time
	NewID     func() string
}

// New builds an engine over db. Attachments go to the local blob directory;
// callers using another backend replace Blobs.
func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		Repo:      repo.Repo{DB: db, Events: events.Writer{Now: time.Now}},
		Blobs:     cfg.BlobOptions().Dir,
		Config:    cfg,
		Evaluator: schedule.Evaluator{ShortMonth: cfg.ShortMonthPolicy()},
		Log:       zerolog.Nop(),
		Now:       time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

// CurrentTime returns the engine clock reading.
func (e Engine) CurrentTime() time.Time { return e.now() }

// Today returns the current civil date in the configured timezone.
func (e Engine) Today() time.Time {
	now := e.now()
	if e.Config != nil {
		if loc, err := e.Config.Location(); err == nil {
			now = now.In(loc)
		}
	}
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Events returns the newest entries of the activity log.
func (e Engine) Events(ctx context.Context, f repo.EventFilter) ([]domain.Event, error) {
	evs, err := e.Repo.LatestEvents(ctx, f)
	if err != nil {
		return nil, repoErr("list events", err)
	}
	return evs, nil
}
