package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"routinely/internal/domain"
	"routinely/internal/engine"
	"routinely/internal/repo"
)

type executionPath struct {
	ExecutionID string `path:"execution_id"`
}

type executionOutput struct {
	Status int
	Body   ExecutionResponse `json:"body"`
}

func registerExecutions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "open-execution",
		Method:      http.MethodPost,
		Path:        "/routines/{routine_id}/executions/open",
		Summary:     "Resolve or start the caller's execution of a routine",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *routinePath) (*executionOutput, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		exec, created, err := e.OpenExecution(ctx, input.RoutineID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		return &executionOutput{Status: status, Body: ExecutionResponse{ExecutionView: view(e, exec), Created: created}}, nil
	})

	transition := func(id, action, summary string, run func(ctx context.Context, routineID, actorID string, notes string) (domain.Execution, error)) {
		huma.Register(api, huma.Operation{
			OperationID: id,
			Method:      http.MethodPost,
			Path:        "/routines/{routine_id}/executions/" + action,
			Summary:     summary,
			Errors:      []int{http.StatusNotFound, http.StatusConflict},
		}, func(ctx context.Context, input *struct {
			RoutineID string                  `path:"routine_id"`
			Body      *FinishExecutionRequest `json:"body,omitempty" required:"false"`
		}) (*executionOutput, error) {
			actorID, authErr := actorIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			var notes string
			if input.Body != nil {
				notes = input.Body.Notes
			}
			exec, err := run(ctx, input.RoutineID, actorID, notes)
			if err != nil {
				return nil, handleError(err)
			}
			return &executionOutput{Status: http.StatusOK, Body: ExecutionResponse{ExecutionView: view(e, exec)}}, nil
		})
	}
	transition("pause-execution", "pause", "Pause the caller's running execution",
		func(ctx context.Context, routineID, actorID, _ string) (domain.Execution, error) {
			return e.Pause(ctx, routineID, actorID)
		})
	transition("resume-execution", "resume", "Resume the caller's paused execution",
		func(ctx context.Context, routineID, actorID, _ string) (domain.Execution, error) {
			return e.Resume(ctx, routineID, actorID)
		})
	transition("finish-execution", "finish", "Finish the caller's execution",
		func(ctx context.Context, routineID, actorID, notes string) (domain.Execution, error) {
			return e.Finish(ctx, routineID, actorID, notes)
		})

	huma.Register(api, huma.Operation{
		OperationID: "list-executions",
		Method:      http.MethodGet,
		Path:        "/routines/{routine_id}/executions",
		Summary:     "Execution history of a routine",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RoutineID  string `path:"routine_id"`
		ExecutorID string `query:"executor_id"`
		Limit      int    `query:"limit" default:"50"`
	}) (*struct {
		Body ExecutionList `json:"body"`
	}, error) {
		items, err := e.ListExecutions(ctx, repo.ExecutionFilter{
			RoutineID:  input.RoutineID,
			ExecutorID: strings.TrimSpace(input.ExecutorID),
			Limit:      normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ExecutionList `json:"body"`
		}{Body: ExecutionList{Items: executionViews(items, e.CurrentTime())}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-execution",
		Method:      http.MethodGet,
		Path:        "/executions/{execution_id}",
		Summary:     "Get execution with its state and elapsed time",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *executionPath) (*executionOutput, error) {
		exec, err := e.GetExecution(ctx, input.ExecutionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &executionOutput{Status: http.StatusOK, Body: ExecutionResponse{ExecutionView: view(e, exec)}}, nil
	})
}

func registerChecklists(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "execution-checklist",
		Method:      http.MethodGet,
		Path:        "/executions/{execution_id}/checklist",
		Summary:     "Checklist completion of an execution",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *executionPath) (*struct {
		Body ChecklistResponse `json:"body"`
	}, error) {
		items, err := e.Checklist(ctx, input.ExecutionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ChecklistResponse `json:"body"`
		}{Body: ChecklistResponse{ExecutionID: input.ExecutionID, Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "toggle-checklist-item",
		Method:      http.MethodPost,
		Path:        "/executions/{execution_id}/checklist/{item_id}/toggle",
		Summary:     "Flip one checklist item",
		Errors:      []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ExecutionID string `path:"execution_id"`
		ItemID      string `path:"item_id"`
	}) (*struct {
		Body ToggleResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		done, err := e.ToggleItem(ctx, input.ExecutionID, input.ItemID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ToggleResponse `json:"body"`
		}{Body: ToggleResponse{ExecutionID: input.ExecutionID, ItemID: input.ItemID, Done: done}}, nil
	})
}

func registerAttachments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-attachments",
		Method:      http.MethodGet,
		Path:        "/executions/{execution_id}/attachments",
		Summary:     "Attachments of an execution, newest first",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *executionPath) (*struct {
		Body AttachmentList `json:"body"`
	}, error) {
		items, err := e.Attachments(ctx, input.ExecutionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AttachmentList `json:"body"`
		}{Body: AttachmentList{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-attachment",
		Method:        http.MethodPost,
		Path:          "/executions/{execution_id}/attachments",
		Summary:       "Upload or register an attachment",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ExecutionID string               `path:"execution_id"`
		Body        AddAttachmentRequest `json:"body"`
	}) (*struct {
		Body domain.Attachment `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var (
			a   domain.Attachment
			err error
		)
		switch {
		case len(input.Body.Content) > 0 && input.Body.URL != "":
			return nil, handleError(engine.ValidationError{Field: "content", Message: "send either content or url, not both"})
		case len(input.Body.Content) > 0:
			a, err = e.UploadAttachment(ctx, input.ExecutionID, input.Body.Filename, input.Body.Content, actorID)
		default:
			a, err = e.RecordAttachment(ctx, input.ExecutionID, input.Body.Filename, input.Body.URL, actorID)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Attachment `json:"body"`
		}{Body: a}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"routine,execution"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
	}) (*struct {
		Body EventList `json:"body"`
	}, error) {
		items, err := e.Events(ctx, repo.EventFilter{
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Limit:      normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Event{}
		}
		return &struct {
			Body EventList `json:"body"`
		}{Body: EventList{Items: items}}, nil
	})
}

func view(e engine.Engine, exec domain.Execution) engine.ExecutionView {
	return engine.View(exec, e.CurrentTime())
}
