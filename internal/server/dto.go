package server

import (
	"time"

	"routinely/internal/domain"
	"routinely/internal/engine"
)

// Request payloads

type CreateRoutineRequest struct {
	ID                 string            `json:"id,omitempty"`
	Title              string            `json:"title"`
	Description        string            `json:"description,omitempty"`
	Kind               string            `json:"kind,omitempty" enum:"normal,adhoc"`
	Recurrence         domain.Recurrence `json:"recurrence"`
	StartDate          string            `json:"start_date,omitempty" format:"date"`
	StartTime          string            `json:"start_time,omitempty" example:"08:00"`
	DurationMinutes    int               `json:"duration_minutes"`
	Priority           string            `json:"priority,omitempty" enum:"low,medium,high"`
	ChecklistEnabled   bool              `json:"checklist_enabled,omitempty"`
	AttachmentRequired bool              `json:"attachment_required,omitempty"`
	Checklist          []string          `json:"checklist,omitempty"`
	ResponsibleID      string            `json:"responsible_id,omitempty"`
	DepartmentID       string            `json:"department_id,omitempty"`
	SectorID           string            `json:"sector_id,omitempty"`
	RegionID           string            `json:"region_id,omitempty"`
}

type ConflictCheckRequest struct {
	ResponsibleID   string `json:"responsible_id,omitempty"`
	StartTime       string `json:"start_time" example:"08:30"`
	DurationMinutes int    `json:"duration_minutes"`
}

type AddChecklistRequest struct {
	Items []string `json:"items" minItems:"1"`
}

type FinishExecutionRequest struct {
	Notes string `json:"notes,omitempty"`
}

type AddAttachmentRequest struct {
	Filename string `json:"filename"`
	// Content is the base64 encoded file. Omit it and set URL to register a
	// file that already lives elsewhere.
	Content []byte `json:"content,omitempty"`
	URL     string `json:"url,omitempty"`
}

type DevLoginRequest struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles,omitempty"`
}

// Response payloads

type DevLoginResponse struct {
	Token string `json:"token"`
}

type RoutineCreatedResponse struct {
	Routine        domain.Routine         `json:"routine"`
	Checklist      []domain.ChecklistItem `json:"checklist"`
	ChecklistError string                 `json:"checklist_error,omitempty"`
}

type RoutineList struct {
	Items []domain.Routine `json:"items"`
}

type DueRoutinesResponse struct {
	Date  string           `json:"date" format:"date"`
	Items []domain.Routine `json:"items"`
}

type OccurrencesResponse struct {
	RoutineID string   `json:"routine_id"`
	Dates     []string `json:"dates"`
}

type ConflictCheckResponse struct {
	Conflict bool            `json:"conflict"`
	Routine  *domain.Routine `json:"routine,omitempty"`
}

type ChecklistTemplateResponse struct {
	Items []domain.ChecklistItem `json:"items"`
}

type ExecutionResponse struct {
	engine.ExecutionView
	Created bool `json:"created,omitempty"`
}

type ExecutionList struct {
	Items []engine.ExecutionView `json:"items"`
}

type ChecklistResponse struct {
	ExecutionID string                  `json:"execution_id"`
	Items       []domain.ChecklistEntry `json:"items"`
}

type ToggleResponse struct {
	ExecutionID string `json:"execution_id"`
	ItemID      string `json:"item_id"`
	Done        bool   `json:"done"`
}

type AttachmentList struct {
	Items []domain.Attachment `json:"items"`
}

type EventList struct {
	Items []domain.Event `json:"items"`
}

func executionViews(items []domain.Execution, now time.Time) []engine.ExecutionView {
	out := make([]engine.ExecutionView, 0, len(items))
	for _, it := range items {
		out = append(out, engine.View(it, now))
	}
	return out
}

func nonNilRoutines(items []domain.Routine) []domain.Routine {
	if items == nil {
		return []domain.Routine{}
	}
	return items
}
