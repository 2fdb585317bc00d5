package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const (
	RoutineCreated         = "routine.created"
	RoutineChecklistAdded  = "routine.checklist_added"
	RoutineChecklistFailed = "routine.checklist_failed"
	ExecutionStarted       = "execution.started"
	ExecutionPaused        = "execution.paused"
	ExecutionResumed       = "execution.resumed"
	ExecutionFinished      = "execution.finished"
	ChecklistToggled       = "checklist.toggled"
	AttachmentAdded        = "attachment.added"
)

type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

// Entry is an event waiting to be appended.
type Entry struct {
	Type       string
	EntityKind string
	EntityID   string
	ActorID    string
	Payload    EventPayload
}

// Append writes the entry inside tx so it commits with the change it records.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, e Entry) error {
	if e.Type == "" {
		return nil
	}
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	payload := e.Payload
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	actor := e.ActorID
	if actor == "" {
		actor = "system"
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, e.Type, e.EntityKind, nullable(e.EntityID), actor, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
