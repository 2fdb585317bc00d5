package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"routinely/internal/domain"
	"routinely/internal/events"
	"routinely/internal/repo"
)

// OpenExecution returns the open execution of the routine for the executor,
// creating a Running one when none exists. created reports which happened.
func (e Engine) OpenExecution(ctx context.Context, routineID, executorID string) (exec domain.Execution, created bool, err error) {
	if strings.TrimSpace(executorID) == "" {
		return domain.Execution{}, false, ValidationError{Field: "executor_id", Message: "executor is required"}
	}
	if _, err := e.GetRoutine(ctx, routineID); err != nil {
		return domain.Execution{}, false, err
	}
	open, err := e.Repo.OpenExecution(ctx, routineID, executorID)
	if err == nil {
		return open, false, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.Execution{}, false, repoErr("find open execution", err)
	}

	exec = domain.Execution{
		ID:         e.newID(),
		RoutineID:  routineID,
		ExecutorID: executorID,
		StartedAt:  e.now().UTC(),
	}
	evt := events.Entry{
		Type:       events.ExecutionStarted,
		EntityKind: "execution",
		EntityID:   exec.ID,
		ActorID:    executorID,
		Payload:    events.EventPayload{"routine_id": routineID},
	}
	err = e.Repo.InsertExecution(ctx, exec, evt)
	switch {
	case err == nil:
		e.Log.Info().Str("execution", exec.ID).Str("routine", routineID).Str("executor", executorID).Msg("execution started")
		return exec, true, nil
	case errors.Is(err, repo.ErrConflict):
		// Another caller created it first; adopt theirs.
		open, ferr := e.Repo.OpenExecution(ctx, routineID, executorID)
		if ferr != nil {
			return domain.Execution{}, false, ConflictError{
				Message: fmt.Sprintf("execution for routine %s and executor %s was created concurrently and could not be read back: %v", routineID, executorID, ferr),
			}
		}
		e.Log.Debug().Str("execution", open.ID).Msg("adopted concurrently created execution")
		return open, false, nil
	default:
		return domain.Execution{}, false, repoErr("create execution", err)
	}
}

// current returns the execution a transition applies to. The zero value
// means NotStarted.
func (e Engine) current(ctx context.Context, routineID, executorID string) (domain.Execution, error) {
	if strings.TrimSpace(executorID) == "" {
		return domain.Execution{}, ValidationError{Field: "executor_id", Message: "executor is required"}
	}
	if _, err := e.GetRoutine(ctx, routineID); err != nil {
		return domain.Execution{}, err
	}
	exec, err := e.Repo.LatestExecution(ctx, routineID, executorID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Execution{}, nil
	}
	if err != nil {
		return domain.Execution{}, repoErr("load execution", err)
	}
	return exec, nil
}

// CurrentExecution returns the execution lifecycle calls for the pair act
// on. A NotStarted pair yields ErrNotFound.
func (e Engine) CurrentExecution(ctx context.Context, routineID, executorID string) (domain.Execution, error) {
	exec, err := e.current(ctx, routineID, executorID)
	if err != nil {
		return domain.Execution{}, err
	}
	if exec.State() == domain.StateNotStarted {
		return domain.Execution{}, repoErr("current execution", repo.ErrNotFound)
	}
	return exec, nil
}

// Pause moves a Running execution to Paused. Pausing a Paused execution is a
// no-op.
func (e Engine) Pause(ctx context.Context, routineID, executorID string) (domain.Execution, error) {
	exec, err := e.current(ctx, routineID, executorID)
	if err != nil {
		return domain.Execution{}, err
	}
	switch exec.State() {
	case domain.StatePaused:
		return exec, nil
	case domain.StateRunning:
	default:
		return domain.Execution{}, InvalidTransitionError{Action: "pause", From: exec.State()}
	}
	at := e.now().UTC()
	changed, err := e.Repo.MarkPaused(ctx, exec.ID, at, events.Entry{
		Type:       events.ExecutionPaused,
		EntityKind: "execution",
		EntityID:   exec.ID,
		ActorID:    executorID,
	})
	if err != nil {
		return domain.Execution{}, repoErr("pause execution", err)
	}
	after, err := e.reload(ctx, exec.ID)
	if err != nil {
		return domain.Execution{}, err
	}
	if !changed && after.State() != domain.StatePaused {
		return domain.Execution{}, InvalidTransitionError{Action: "pause", From: after.State()}
	}
	e.Log.Info().Str("execution", exec.ID).Msg("execution paused")
	return after, nil
}

// Resume moves a Paused execution back to Running.
func (e Engine) Resume(ctx context.Context, routineID, executorID string) (domain.Execution, error) {
	exec, err := e.current(ctx, routineID, executorID)
	if err != nil {
		return domain.Execution{}, err
	}
	if exec.State() != domain.StatePaused {
		return domain.Execution{}, InvalidTransitionError{Action: "resume", From: exec.State()}
	}
	changed, err := e.Repo.ClearPaused(ctx, exec.ID, events.Entry{
		Type:       events.ExecutionResumed,
		EntityKind: "execution",
		EntityID:   exec.ID,
		ActorID:    executorID,
	})
	if err != nil {
		return domain.Execution{}, repoErr("resume execution", err)
	}
	after, err := e.reload(ctx, exec.ID)
	if err != nil {
		return domain.Execution{}, err
	}
	if !changed {
		return domain.Execution{}, InvalidTransitionError{Action: "resume", From: after.State()}
	}
	e.Log.Info().Str("execution", exec.ID).Msg("execution resumed")
	return after, nil
}

// Finish closes a Running or Paused execution. The total is the wall-clock
// span since start in whole seconds; paused time is not subtracted.
func (e Engine) Finish(ctx context.Context, routineID, executorID, notes string) (domain.Execution, error) {
	exec, err := e.current(ctx, routineID, executorID)
	if err != nil {
		return domain.Execution{}, err
	}
	switch exec.State() {
	case domain.StateRunning, domain.StatePaused:
	default:
		return domain.Execution{}, InvalidTransitionError{Action: "finish", From: exec.State()}
	}
	at := e.now().UTC()
	total := TotalSeconds(exec.StartedAt, at)
	changed, err := e.Repo.MarkFinished(ctx, exec.ID, at, total, strings.TrimSpace(notes), events.Entry{
		Type:       events.ExecutionFinished,
		EntityKind: "execution",
		EntityID:   exec.ID,
		ActorID:    executorID,
		Payload:    events.EventPayload{"total_duration_seconds": total},
	})
	if err != nil {
		return domain.Execution{}, repoErr("finish execution", err)
	}
	after, err := e.reload(ctx, exec.ID)
	if err != nil {
		return domain.Execution{}, err
	}
	if !changed {
		return domain.Execution{}, InvalidTransitionError{Action: "finish", From: after.State()}
	}
	e.Log.Info().Str("execution", exec.ID).Int64("seconds", total).Msg("execution finished")
	return after, nil
}

// TotalSeconds is floor(finished - started) in seconds, never negative.
func TotalSeconds(started, finished time.Time) int64 {
	d := finished.Sub(started)
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}

func (e Engine) reload(ctx context.Context, id string) (domain.Execution, error) {
	exec, err := e.Repo.GetExecution(ctx, id)
	if err != nil {
		return domain.Execution{}, repoErr("reload execution", err)
	}
	return exec, nil
}

func (e Engine) GetExecution(ctx context.Context, id string) (domain.Execution, error) {
	exec, err := e.Repo.GetExecution(ctx, id)
	if err != nil {
		return domain.Execution{}, repoErr("get execution", err)
	}
	return exec, nil
}

// ListExecutions returns a routine's executions, newest first.
func (e Engine) ListExecutions(ctx context.Context, f repo.ExecutionFilter) ([]domain.Execution, error) {
	if _, err := e.GetRoutine(ctx, f.RoutineID); err != nil {
		return nil, err
	}
	execs, err := e.Repo.ListExecutions(ctx, f)
	if err != nil {
		return nil, repoErr("list executions", err)
	}
	if execs == nil {
		execs = []domain.Execution{}
	}
	return execs, nil
}
