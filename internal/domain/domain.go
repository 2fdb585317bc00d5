package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the civil date format used for routine dates.
const DateLayout = "2006-01-02"

// ClockLayout is the wall-clock format used for routine start times.
const ClockLayout = "15:04"

type RoutineKind string

const (
	RoutineNormal RoutineKind = "normal"
	RoutineAdHoc  RoutineKind = "adhoc"
)

type RecurrenceKind string

const (
	RecurrenceDaily   RecurrenceKind = "daily"
	RecurrenceWeekly  RecurrenceKind = "weekly"
	RecurrenceMonthly RecurrenceKind = "monthly"
	RecurrenceOneOff  RecurrenceKind = "oneoff"
)

// Recurrence is the tagged descriptor deciding which dates a routine is due.
// Weekday follows time.Weekday (0 = Sunday). DayOfMonth is informational:
// monthly routines are due on the day of their start date.
type Recurrence struct {
	Kind       RecurrenceKind `json:"kind" enum:"daily,weekly,monthly,oneoff"`
	Weekday    *int           `json:"weekday,omitempty" minimum:"0" maximum:"6"`
	DayOfMonth *int           `json:"day_of_month,omitempty" minimum:"1" maximum:"31"`
	Date       string         `json:"date,omitempty" format:"date"`
}

func Daily() Recurrence { return Recurrence{Kind: RecurrenceDaily} }

func Weekly(wd time.Weekday) Recurrence {
	v := int(wd)
	return Recurrence{Kind: RecurrenceWeekly, Weekday: &v}
}

func Monthly(day int) Recurrence {
	return Recurrence{Kind: RecurrenceMonthly, DayOfMonth: &day}
}

func OneOff(date string) Recurrence {
	return Recurrence{Kind: RecurrenceOneOff, Date: date}
}

// Validate checks that the payload matches the variant tag.
func (r Recurrence) Validate() error {
	switch r.Kind {
	case RecurrenceDaily:
		return nil
	case RecurrenceWeekly:
		if r.Weekday == nil {
			return errors.New("weekday is required for weekly recurrence")
		}
		if *r.Weekday < 0 || *r.Weekday > 6 {
			return fmt.Errorf("weekday %d out of range 0-6", *r.Weekday)
		}
		return nil
	case RecurrenceMonthly:
		if r.DayOfMonth != nil && (*r.DayOfMonth < 1 || *r.DayOfMonth > 31) {
			return fmt.Errorf("day_of_month %d out of range 1-31", *r.DayOfMonth)
		}
		return nil
	case RecurrenceOneOff:
		if strings.TrimSpace(r.Date) == "" {
			return errors.New("date is required for one-off routines")
		}
		if _, err := time.Parse(DateLayout, r.Date); err != nil {
			return fmt.Errorf("invalid date %q", r.Date)
		}
		return nil
	case "":
		return errors.New("recurrence kind is required")
	default:
		return fmt.Errorf("unknown recurrence kind %q", r.Kind)
	}
}

type Routine struct {
	ID                 string      `json:"id"`
	Title              string      `json:"title"`
	Description        string      `json:"description,omitempty"`
	Kind               RoutineKind `json:"kind" enum:"normal,adhoc"`
	Recurrence         Recurrence  `json:"recurrence"`
	StartDate          string      `json:"start_date" format:"date"`
	StartTime          string      `json:"start_time,omitempty"`
	DurationMinutes    int         `json:"duration_minutes"`
	Priority           string      `json:"priority" enum:"low,medium,high"`
	ChecklistEnabled   bool        `json:"checklist_enabled"`
	AttachmentRequired bool        `json:"attachment_required"`
	CreatorID          string      `json:"creator_id"`
	ResponsibleID      string      `json:"responsible_id"`
	DepartmentID       string      `json:"department_id,omitempty"`
	SectorID           string      `json:"sector_id,omitempty"`
	RegionID           string      `json:"region_id,omitempty"`
	CreatedAt          time.Time   `json:"created_at"`
}

type ChecklistItem struct {
	ID        string `json:"id"`
	RoutineID string `json:"routine_id"`
	Position  int    `json:"position"`
	Text      string `json:"text"`
}

// State is the lifecycle state of an execution. NotStarted has no record.
type State string

const (
	StateNotStarted State = "not_started"
	StateRunning    State = "running"
	StatePaused     State = "paused"
	StateFinished   State = "finished"
)

type Execution struct {
	ID                   string     `json:"id"`
	RoutineID            string     `json:"routine_id"`
	ExecutorID           string     `json:"executor_id"`
	StartedAt            time.Time  `json:"started_at"`
	PausedAt             *time.Time `json:"paused_at,omitempty"`
	FinishedAt           *time.Time `json:"finished_at,omitempty"`
	TotalDurationSeconds *int64     `json:"total_duration_seconds,omitempty"`
	Notes                string     `json:"notes,omitempty"`
}

// State derives the lifecycle state from the timestamps.
func (e Execution) State() State {
	switch {
	case e.ID == "":
		return StateNotStarted
	case e.FinishedAt != nil:
		return StateFinished
	case e.PausedAt != nil:
		return StatePaused
	default:
		return StateRunning
	}
}

type ChecklistEntry struct {
	ExecutionID string `json:"execution_id"`
	ItemID      string `json:"item_id"`
	Position    int    `json:"position"`
	Text        string `json:"text"`
	Done        bool   `json:"done"`
}

type Attachment struct {
	ID          string    `json:"id"`
	ExecutionID string    `json:"execution_id"`
	URL         string    `json:"url"`
	Filename    string    `json:"filename"`
	CreatedAt   time.Time `json:"created_at"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
