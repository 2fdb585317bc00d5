package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"routinely/internal/domain"
	"routinely/internal/events"
	"routinely/internal/repo"
	"routinely/internal/schedule"
)

// RoutineCreateOptions are parameters for creating a routine.
type RoutineCreateOptions struct {
	ID                 string
	Title              string
	Description        string
	Kind               domain.RoutineKind
	Recurrence         domain.Recurrence
	StartDate          string
	StartTime          string
	DurationMinutes    int
	Priority           string
	ChecklistEnabled   bool
	AttachmentRequired bool
	Checklist          []string
	CreatorID          string
	ResponsibleID      string
	DepartmentID       string
	SectorID           string
	RegionID           string
}

// RoutineCreated is the outcome of CreateRoutine. A non-nil ChecklistErr means
// the routine was stored but its checklist template was not.
type RoutineCreated struct {
	Routine      domain.Routine
	Checklist    []domain.ChecklistItem
	ChecklistErr error
}

func (r RoutineCreated) Degraded() bool { return r.ChecklistErr != nil }

var priorities = map[string]bool{"low": true, "medium": true, "high": true}

// CreateRoutine validates, conflict-checks and stores a new routine.
func (e Engine) CreateRoutine(ctx context.Context, opts RoutineCreateOptions) (RoutineCreated, error) {
	rt, texts, err := e.buildRoutine(opts)
	if err != nil {
		return RoutineCreated{}, err
	}
	if schedule.NeedsConflictCheck(rt) {
		other, found, err := e.FindConflict(ctx, rt.ResponsibleID, rt.StartTime, rt.DurationMinutes)
		if err != nil {
			return RoutineCreated{}, err
		}
		if found {
			return RoutineCreated{}, ConflictError{
				RoutineID: other.ID,
				Message: fmt.Sprintf("%s overlaps routine %q (%s, %d min) of responsible %s",
					rt.StartTime, other.Title, other.StartTime, other.DurationMinutes, rt.ResponsibleID),
			}
		}
	}

	items := make([]domain.ChecklistItem, 0, len(texts))
	for i, text := range texts {
		items = append(items, domain.ChecklistItem{ID: e.newID(), RoutineID: rt.ID, Position: i + 1, Text: text})
	}
	created := events.Entry{
		Type:       events.RoutineCreated,
		EntityKind: "routine",
		EntityID:   rt.ID,
		ActorID:    rt.CreatorID,
		Payload: events.EventPayload{
			"title":          rt.Title,
			"recurrence":     string(rt.Recurrence.Kind),
			"responsible_id": rt.ResponsibleID,
		},
	}

	if e.Config != nil && e.Config.Routines.AtomicChecklist && len(items) > 0 {
		created.Payload["checklist_items"] = len(items)
		if err := e.Repo.CreateRoutineWithChecklist(ctx, rt, items, created); err != nil {
			return RoutineCreated{}, repoErr("create routine", err)
		}
		e.Log.Info().Str("routine", rt.ID).Int("items", len(items)).Msg("routine created")
		return RoutineCreated{Routine: rt, Checklist: items}, nil
	}

	if err := e.Repo.CreateRoutine(ctx, rt, created); err != nil {
		return RoutineCreated{}, repoErr("create routine", err)
	}
	e.Log.Info().Str("routine", rt.ID).Str("recurrence", string(rt.Recurrence.Kind)).Msg("routine created")
	if len(items) == 0 {
		return RoutineCreated{Routine: rt}, nil
	}

	added := events.Entry{
		Type:       events.RoutineChecklistAdded,
		EntityKind: "routine",
		EntityID:   rt.ID,
		ActorID:    rt.CreatorID,
		Payload:    events.EventPayload{"count": len(items)},
	}
	if err := e.Repo.AddChecklistItems(ctx, items, added); err != nil {
		cerr := repoErr("create checklist", err)
		e.Log.Warn().Err(err).Str("routine", rt.ID).Msg("routine stored without its checklist")
		failed := events.Entry{
			Type:       events.RoutineChecklistFailed,
			EntityKind: "routine",
			EntityID:   rt.ID,
			ActorID:    rt.CreatorID,
			Payload:    events.EventPayload{"error": err.Error()},
		}
		if rerr := e.Repo.RecordEvent(ctx, failed); rerr != nil {
			e.Log.Error().Err(rerr).Str("routine", rt.ID).Msg("record checklist failure")
		}
		return RoutineCreated{Routine: rt, ChecklistErr: cerr}, nil
	}
	return RoutineCreated{Routine: rt, Checklist: items}, nil
}

func (e Engine) buildRoutine(opts RoutineCreateOptions) (domain.Routine, []string, error) {
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		return domain.Routine{}, nil, ValidationError{Field: "title", Message: "title is required"}
	}
	if opts.DurationMinutes <= 0 {
		return domain.Routine{}, nil, ValidationError{Field: "duration_minutes", Message: "duration must be a positive number of minutes"}
	}
	kind := opts.Kind
	if kind == "" {
		kind = domain.RoutineNormal
	}
	if kind != domain.RoutineNormal && kind != domain.RoutineAdHoc {
		return domain.Routine{}, nil, ValidationError{Field: "kind", Message: fmt.Sprintf("unknown routine kind %q", kind)}
	}
	rec := opts.Recurrence
	if err := rec.Validate(); err != nil {
		field := "recurrence"
		if rec.Kind == domain.RecurrenceOneOff {
			field = "date"
		}
		return domain.Routine{}, nil, ValidationError{Field: field, Message: err.Error()}
	}

	startDate := strings.TrimSpace(opts.StartDate)
	switch {
	case startDate == "" && rec.Kind == domain.RecurrenceOneOff:
		startDate = rec.Date
	case startDate == "":
		startDate = schedule.FormatDate(e.Today())
	}
	start, err := schedule.ParseDate(startDate)
	if err != nil {
		return domain.Routine{}, nil, ValidationError{Field: "start_date", Message: fmt.Sprintf("invalid date %q (use YYYY-MM-DD)", startDate)}
	}
	if rec.Kind == domain.RecurrenceMonthly {
		day := start.Day()
		if rec.DayOfMonth != nil && *rec.DayOfMonth != day {
			return domain.Routine{}, nil, ValidationError{Field: "day_of_month", Message: "day_of_month must match the start date"}
		}
		rec.DayOfMonth = &day
	}

	startTime := strings.TrimSpace(opts.StartTime)
	if startTime != "" {
		minutes, err := schedule.ParseClock(startTime)
		if err != nil {
			return domain.Routine{}, nil, ValidationError{Field: "start_time", Message: err.Error()}
		}
		startTime = schedule.FormatClock(minutes)
	}

	priority := strings.TrimSpace(opts.Priority)
	if priority == "" && e.Config != nil {
		priority = e.Config.Routines.DefaultPriority
	}
	if priority == "" {
		priority = "medium"
	}
	if !priorities[priority] {
		return domain.Routine{}, nil, ValidationError{Field: "priority", Message: "priority must be low, medium or high"}
	}

	creator := strings.TrimSpace(opts.CreatorID)
	if creator == "" {
		return domain.Routine{}, nil, ValidationError{Field: "creator_id", Message: "creator is required"}
	}
	responsible := strings.TrimSpace(opts.ResponsibleID)
	if responsible == "" {
		responsible = creator
	}

	var texts []string
	for i, raw := range opts.Checklist {
		text := strings.TrimSpace(raw)
		if text == "" {
			return domain.Routine{}, nil, ValidationError{Field: "checklist", Message: fmt.Sprintf("checklist item %d is empty", i+1)}
		}
		texts = append(texts, text)
	}

	id := opts.ID
	if id == "" {
		id = e.newID()
	}
	rt := domain.Routine{
		ID:                 id,
		Title:              title,
		Description:        strings.TrimSpace(opts.Description),
		Kind:               kind,
		Recurrence:         rec,
		StartDate:          schedule.FormatDate(start),
		StartTime:          startTime,
		DurationMinutes:    opts.DurationMinutes,
		Priority:           priority,
		ChecklistEnabled:   opts.ChecklistEnabled || len(texts) > 0,
		AttachmentRequired: opts.AttachmentRequired,
		CreatorID:          creator,
		ResponsibleID:      responsible,
		DepartmentID:       opts.DepartmentID,
		SectorID:           opts.SectorID,
		RegionID:           opts.RegionID,
		CreatedAt:          e.now().UTC(),
	}
	return rt, texts, nil
}

// CheckConflict reports whether a daily slot starting at start for
// durationMinutes overlaps an existing daily routine of the responsible.
func (e Engine) CheckConflict(ctx context.Context, responsibleID, start string, durationMinutes int) (bool, error) {
	_, found, err := e.FindConflict(ctx, responsibleID, start, durationMinutes)
	return found, err
}

// FindConflict is CheckConflict returning the first routine in the way.
func (e Engine) FindConflict(ctx context.Context, responsibleID, start string, durationMinutes int) (domain.Routine, bool, error) {
	if strings.TrimSpace(responsibleID) == "" {
		return domain.Routine{}, false, ValidationError{Field: "responsible_id", Message: "responsible is required"}
	}
	if durationMinutes <= 0 {
		return domain.Routine{}, false, ValidationError{Field: "duration_minutes", Message: "duration must be a positive number of minutes"}
	}
	minutes, err := schedule.ParseClock(start)
	if err != nil {
		return domain.Routine{}, false, ValidationError{Field: "start_time", Message: err.Error()}
	}
	existing, err := e.Repo.ListRoutines(ctx, repo.RoutineFilter{ResponsibleID: responsibleID, RecurrenceKind: domain.RecurrenceDaily})
	if err != nil {
		return domain.Routine{}, false, repoErr("list daily routines", err)
	}
	byID := make(map[string]domain.Routine, len(existing))
	slots := make([]schedule.Slot, 0, len(existing))
	for _, rt := range existing {
		slot, ok := schedule.SlotOf(rt)
		if !ok {
			continue
		}
		byID[rt.ID] = rt
		slots = append(slots, slot)
	}
	hit, found := schedule.FirstConflict(slots, schedule.Slot{StartMinute: minutes, DurationMinutes: durationMinutes})
	if !found {
		return domain.Routine{}, false, nil
	}
	return byID[hit.RoutineID], true, nil
}

func (e Engine) GetRoutine(ctx context.Context, id string) (domain.Routine, error) {
	rt, err := e.Repo.GetRoutine(ctx, id)
	if err != nil {
		return domain.Routine{}, repoErr("get routine", err)
	}
	return rt, nil
}

func (e Engine) ListRoutines(ctx context.Context, f repo.RoutineFilter) ([]domain.Routine, error) {
	rts, err := e.Repo.ListRoutines(ctx, f)
	if err != nil {
		return nil, repoErr("list routines", err)
	}
	return rts, nil
}

// DueRoutines returns the routines matching f that are due on date.
func (e Engine) DueRoutines(ctx context.Context, date time.Time, f repo.RoutineFilter) ([]domain.Routine, error) {
	rts, err := e.ListRoutines(ctx, f)
	if err != nil {
		return nil, err
	}
	due := []domain.Routine{}
	for _, rt := range rts {
		if e.Evaluator.IsDueOn(rt, date) {
			due = append(due, rt)
		}
	}
	return due, nil
}

// MaxOccurrenceSpan bounds Occurrences queries.
const MaxOccurrenceSpan = 366

// Occurrences lists the dates in [from, to] on which a routine is due.
func (e Engine) Occurrences(ctx context.Context, routineID string, from, to time.Time) ([]time.Time, error) {
	if to.Before(from) {
		return nil, ValidationError{Field: "to", Message: "to must not be before from"}
	}
	if days := int(to.Sub(from).Hours() / 24); days >= MaxOccurrenceSpan {
		return nil, ValidationError{Field: "to", Message: fmt.Sprintf("range must be shorter than %d days", MaxOccurrenceSpan)}
	}
	rt, err := e.GetRoutine(ctx, routineID)
	if err != nil {
		return nil, err
	}
	out := e.Evaluator.Occurrences(rt, from, to)
	if out == nil {
		out = []time.Time{}
	}
	return out, nil
}

// ChecklistTemplate returns a routine's checklist items in position order.
func (e Engine) ChecklistTemplate(ctx context.Context, routineID string) ([]domain.ChecklistItem, error) {
	if _, err := e.GetRoutine(ctx, routineID); err != nil {
		return nil, err
	}
	items, err := e.Repo.ListChecklistItems(ctx, routineID)
	if err != nil {
		return nil, repoErr("list checklist items", err)
	}
	if items == nil {
		items = []domain.ChecklistItem{}
	}
	return items, nil
}

// AddChecklistItems appends template items after the routine's last one.
func (e Engine) AddChecklistItems(ctx context.Context, routineID string, texts []string, actorID string) ([]domain.ChecklistItem, error) {
	if len(texts) == 0 {
		return nil, ValidationError{Field: "items", Message: "at least one item is required"}
	}
	clean := make([]string, 0, len(texts))
	for i, raw := range texts {
		text := strings.TrimSpace(raw)
		if text == "" {
			return nil, ValidationError{Field: "items", Message: fmt.Sprintf("checklist item %d is empty", i+1)}
		}
		clean = append(clean, text)
	}
	if _, err := e.GetRoutine(ctx, routineID); err != nil {
		return nil, err
	}
	pos, err := e.Repo.NextChecklistPosition(ctx, routineID)
	if err != nil {
		return nil, repoErr("next checklist position", err)
	}
	items := make([]domain.ChecklistItem, 0, len(clean))
	for i, text := range clean {
		items = append(items, domain.ChecklistItem{ID: e.newID(), RoutineID: routineID, Position: pos + i, Text: text})
	}
	evt := events.Entry{
		Type:       events.RoutineChecklistAdded,
		EntityKind: "routine",
		EntityID:   routineID,
		ActorID:    actorID,
		Payload:    events.EventPayload{"count": len(items)},
	}
	if err := e.Repo.AddChecklistItems(ctx, items, evt); err != nil {
		return nil, repoErr("add checklist items", err)
	}
	return items, nil
}
