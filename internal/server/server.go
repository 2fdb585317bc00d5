package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"routinely/internal/engine"
)

// Config for the HTTP API handler.
type Config struct {
	Engine         engine.Engine
	BasePath       string
	Auth           AuthConfig
	RequestTimeout time.Duration
	RateLimit      RateLimit
	// Files serves uploaded attachments under FilesPath when set.
	Files     http.Handler
	FilesPath string
	Logger    zerolog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"cannot resume an execution that is running"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"from\":\"running\"}"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the routines API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	basePath = strings.TrimRight(basePath, "/")
	if cfg.Auth.JWTSecret == "" && !cfg.Auth.AllowLegacyActorHeader {
		return nil, errors.New("either a jwt secret or the legacy actor header must be enabled")
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			// Schema/request validation errors are reported as 400 validation.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(cfg.Logger))
	router.Use(newRateLimiter(cfg.RateLimit).middleware)
	if cfg.RequestTimeout > 0 {
		router.Use(middleware.Timeout(cfg.RequestTimeout))
	}
	router.Use(newAuthMiddleware(basePath, cfg.Auth))

	hcfg := huma.DefaultConfig("Routinely API", "1.0.0")
	hcfg.OpenAPIPath = basePath + "/openapi"
	hcfg.DocsPath = basePath + "/docs"
	hcfg.SchemasPath = basePath + "/schemas"
	hcfg.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		bearerScheme: {Type: "http", Scheme: "bearer", BearerFormat: "JWT"},
	}
	api := humachi.New(router, hcfg)

	public := huma.NewGroup(api, basePath)
	registerHealth(public)
	registerDevAuth(public, cfg.Auth)

	group := huma.NewGroup(api, basePath)
	group.UseModifier(requireBearer)
	registerRoutines(group, cfg.Engine)
	registerExecutions(group, cfg.Engine)
	registerChecklists(group, cfg.Engine)
	registerAttachments(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	if cfg.Files != nil {
		filesPath := "/" + strings.Trim(cfg.FilesPath, "/")
		if filesPath == "/" {
			filesPath = "/files"
		}
		router.Handle(filesPath+"/*", http.StripPrefix(filesPath, cfg.Files))
	}

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	msg := err.Error()
	kind := engine.Kind(err)
	var (
		ve engine.ValidationError
		ce engine.ConflictError
		te engine.InvalidTransitionError
		ue engine.UnknownItemError
	)
	switch kind {
	case engine.KindValidation:
		var details map[string]any
		if errors.As(err, &ve) && ve.Field != "" {
			details = map[string]any{"field": ve.Field}
		}
		return newAPIError(http.StatusBadRequest, string(kind), msg, details)
	case engine.KindConflict:
		var details map[string]any
		if errors.As(err, &ce) && ce.RoutineID != "" {
			details = map[string]any{"routine_id": ce.RoutineID}
		}
		return newAPIError(http.StatusConflict, string(kind), msg, details)
	case engine.KindInvalidTransition:
		errors.As(err, &te)
		return newAPIError(http.StatusConflict, string(kind), msg, map[string]any{"action": te.Action, "from": string(te.From)})
	case engine.KindUnknownItem:
		errors.As(err, &ue)
		return newAPIError(http.StatusUnprocessableEntity, string(kind), msg, map[string]any{"item_id": ue.ItemID})
	case engine.KindNotFound:
		return newAPIError(http.StatusNotFound, string(kind), msg, nil)
	case engine.KindTimeout:
		return newAPIError(http.StatusGatewayTimeout, string(kind), "request timed out", nil)
	case engine.KindRepository:
		return newAPIError(http.StatusServiceUnavailable, string(kind), "storage unavailable", map[string]any{"error": msg})
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "validation"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

const bearerScheme = "bearerAuth"

// requireBearer documents the bearer requirement on every operation of a group.
func requireBearer(op *huma.Operation, next func(*huma.Operation)) {
	op.Security = []map[string][]string{{bearerScheme: {}}}
	next(op)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
