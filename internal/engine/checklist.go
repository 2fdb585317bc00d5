package engine

import (
	"context"

	"routinely/internal/domain"
	"routinely/internal/events"
)

// Checklist returns the execution's checklist in template order. Items
// without a completion row are created as not done.
func (e Engine) Checklist(ctx context.Context, executionID string) ([]domain.ChecklistEntry, error) {
	exec, err := e.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	entries, err := e.Repo.ChecklistEntries(ctx, exec.ID, exec.RoutineID, e.now().UTC())
	if err != nil {
		return nil, repoErr("load checklist", err)
	}
	if entries == nil {
		entries = []domain.ChecklistEntry{}
	}
	return entries, nil
}

// ToggleItem flips one checklist item and returns its new done value.
func (e Engine) ToggleItem(ctx context.Context, executionID, itemID, actorID string) (bool, error) {
	exec, err := e.GetExecution(ctx, executionID)
	if err != nil {
		return false, err
	}
	ok, err := e.Repo.ChecklistItemInRoutine(ctx, exec.RoutineID, itemID)
	if err != nil {
		return false, repoErr("check checklist item", err)
	}
	if !ok {
		return false, UnknownItemError{ExecutionID: exec.ID, ItemID: itemID}
	}
	done, err := e.Repo.ToggleCompletion(ctx, exec.ID, itemID, e.now().UTC(), events.Entry{
		Type:       events.ChecklistToggled,
		EntityKind: "execution",
		EntityID:   exec.ID,
		ActorID:    actorID,
		Payload:    events.EventPayload{"item_id": itemID},
	})
	if err != nil {
		return false, repoErr("toggle checklist item", err)
	}
	e.Log.Debug().Str("execution", exec.ID).Str("item", itemID).Bool("done", done).Msg("checklist item toggled")
	return done, nil
}
