package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"routinely/internal/domain"
	"routinely/internal/engine"
	"routinely/internal/repo"
	"routinely/internal/schedule"
)

type routinePath struct {
	RoutineID string `path:"routine_id"`
}

func registerRoutines(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-routine",
		Method:        http.MethodPost,
		Path:          "/routines",
		Summary:       "Create routine",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateRoutineRequest `json:"body"`
	}) (*struct {
		Body RoutineCreatedResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		res, err := e.CreateRoutine(ctx, engine.RoutineCreateOptions{
			ID:                 b.ID,
			Title:              b.Title,
			Description:        b.Description,
			Kind:               domain.RoutineKind(b.Kind),
			Recurrence:         b.Recurrence,
			StartDate:          b.StartDate,
			StartTime:          b.StartTime,
			DurationMinutes:    b.DurationMinutes,
			Priority:           b.Priority,
			ChecklistEnabled:   b.ChecklistEnabled,
			AttachmentRequired: b.AttachmentRequired,
			Checklist:          b.Checklist,
			CreatorID:          actorID,
			ResponsibleID:      b.ResponsibleID,
			DepartmentID:       b.DepartmentID,
			SectorID:           b.SectorID,
			RegionID:           b.RegionID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := RoutineCreatedResponse{Routine: res.Routine, Checklist: res.Checklist}
		if resp.Checklist == nil {
			resp.Checklist = []domain.ChecklistItem{}
		}
		if res.ChecklistErr != nil {
			resp.ChecklistError = res.ChecklistErr.Error()
		}
		return &struct {
			Body RoutineCreatedResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-routines",
		Method:      http.MethodGet,
		Path:        "/routines",
		Summary:     "List routines",
	}, func(ctx context.Context, input *struct {
		ResponsibleID string `query:"responsible_id"`
		Recurrence    string `query:"recurrence" enum:"daily,weekly,monthly,oneoff"`
		Kind          string `query:"kind" enum:"normal,adhoc"`
		DepartmentID  string `query:"department_id"`
		SectorID      string `query:"sector_id"`
		RegionID      string `query:"region_id"`
		Limit         int    `query:"limit" default:"50"`
	}) (*struct {
		Body RoutineList `json:"body"`
	}, error) {
		items, err := e.ListRoutines(ctx, repo.RoutineFilter{
			ResponsibleID:  input.ResponsibleID,
			RecurrenceKind: domain.RecurrenceKind(input.Recurrence),
			Kind:           domain.RoutineKind(input.Kind),
			DepartmentID:   input.DepartmentID,
			SectorID:       input.SectorID,
			RegionID:       input.RegionID,
			Limit:          normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RoutineList `json:"body"`
		}{Body: RoutineList{Items: nonNilRoutines(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "due-routines",
		Method:      http.MethodGet,
		Path:        "/routines/due",
		Summary:     "Routines due on a date",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Date          string `query:"date" format:"date" doc:"Defaults to today"`
		ResponsibleID string `query:"responsible_id"`
	}) (*struct {
		Body DueRoutinesResponse `json:"body"`
	}, error) {
		date, err := dateOrToday(e, input.Date, "date")
		if err != nil {
			return nil, handleError(err)
		}
		items, err := e.DueRoutines(ctx, date, repo.RoutineFilter{ResponsibleID: input.ResponsibleID})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DueRoutinesResponse `json:"body"`
		}{Body: DueRoutinesResponse{Date: schedule.FormatDate(date), Items: nonNilRoutines(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "check-conflict",
		Method:      http.MethodPost,
		Path:        "/routines/conflicts",
		Summary:     "Check a daily slot against the responsible's routines",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body ConflictCheckRequest `json:"body"`
	}) (*struct {
		Body ConflictCheckResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		responsible := strings.TrimSpace(input.Body.ResponsibleID)
		if responsible == "" {
			responsible = actorID
		}
		other, found, err := e.FindConflict(ctx, responsible, input.Body.StartTime, input.Body.DurationMinutes)
		if err != nil {
			return nil, handleError(err)
		}
		resp := ConflictCheckResponse{Conflict: found}
		if found {
			resp.Routine = &other
		}
		return &struct {
			Body ConflictCheckResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-routine",
		Method:      http.MethodGet,
		Path:        "/routines/{routine_id}",
		Summary:     "Get routine",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *routinePath) (*struct {
		Body domain.Routine `json:"body"`
	}, error) {
		rt, err := e.GetRoutine(ctx, input.RoutineID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Routine `json:"body"`
		}{Body: rt}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "routine-occurrences",
		Method:      http.MethodGet,
		Path:        "/routines/{routine_id}/occurrences",
		Summary:     "Dates a routine is due on",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RoutineID string `path:"routine_id"`
		From      string `query:"from" format:"date" doc:"Defaults to today"`
		To        string `query:"to" format:"date" doc:"Defaults to from + 30 days"`
	}) (*struct {
		Body OccurrencesResponse `json:"body"`
	}, error) {
		from, err := dateOrToday(e, input.From, "from")
		if err != nil {
			return nil, handleError(err)
		}
		to := from.AddDate(0, 0, 30)
		if input.To != "" {
			if to, err = parseDateParam(input.To, "to"); err != nil {
				return nil, handleError(err)
			}
		}
		dates, err := e.Occurrences(ctx, input.RoutineID, from, to)
		if err != nil {
			return nil, handleError(err)
		}
		resp := OccurrencesResponse{RoutineID: input.RoutineID, Dates: make([]string, 0, len(dates))}
		for _, d := range dates {
			resp.Dates = append(resp.Dates, schedule.FormatDate(d))
		}
		return &struct {
			Body OccurrencesResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "routine-checklist",
		Method:      http.MethodGet,
		Path:        "/routines/{routine_id}/checklist",
		Summary:     "Checklist template of a routine",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *routinePath) (*struct {
		Body ChecklistTemplateResponse `json:"body"`
	}, error) {
		items, err := e.ChecklistTemplate(ctx, input.RoutineID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ChecklistTemplateResponse `json:"body"`
		}{Body: ChecklistTemplateResponse{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-routine-checklist",
		Method:        http.MethodPost,
		Path:          "/routines/{routine_id}/checklist",
		Summary:       "Append checklist template items",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RoutineID string              `path:"routine_id"`
		Body      AddChecklistRequest `json:"body"`
	}) (*struct {
		Body ChecklistTemplateResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.AddChecklistItems(ctx, input.RoutineID, input.Body.Items, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ChecklistTemplateResponse `json:"body"`
		}{Body: ChecklistTemplateResponse{Items: items}}, nil
	})
}

func dateOrToday(e engine.Engine, raw, field string) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return e.Today(), nil
	}
	return parseDateParam(raw, field)
}

func parseDateParam(raw, field string) (time.Time, error) {
	d, err := schedule.ParseDate(strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, engine.ValidationError{Field: field, Message: "use YYYY-MM-DD"}
	}
	return d, nil
}
