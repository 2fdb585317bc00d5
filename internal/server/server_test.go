package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"routinely/internal/blob"
	"routinely/internal/config"
	"routinely/internal/db"
	"routinely/internal/domain"
	"routinely/internal/engine"
	"routinely/internal/migrate"
)

const testSecret = "test-secret"

type serverOpts struct {
	rateLimit RateLimit
}

func newTestServer(t *testing.T, opts serverOpts) *httptest.Server {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	cfg.Routines.Timezone = "UTC"
	cfg.Storage.BlobDir = filepath.Join(workspace, "files")
	e := engine.New(conn, cfg)
	e.Now = func() time.Time { return time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC) }
	handler, err := New(Config{
		Engine:    e,
		BasePath:  "/v1",
		Auth:      AuthConfig{JWTSecret: testSecret, AllowLegacyActorHeader: true, DevLogin: true},
		RateLimit: opts.rateLimit,
		Files:     blob.Dir{Root: cfg.Storage.BlobDir}.Handler(),
		FilesPath: "/files",
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		conn.Close()
	})
	return srv
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return v
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func actor(id string) map[string]string { return map[string]string{"X-Actor-Id": id} }

func TestHealthIsPublicAndAuthIsRequired(t *testing.T) {
	srv := newTestServer(t, serverOpts{})
	resp, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health: %d", resp.StatusCode)
	}
	resp, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/routines", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if env := decode[errorEnvelope](t, body); env.Error.Code != "unauthorized" {
		t.Fatalf("unexpected envelope %s", body)
	}
	resp, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/routines", nil, map[string]string{"Authorization": "Bearer nope"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", resp.StatusCode)
	}
}

func TestOpenAPIDocumentsBearerAuth(t *testing.T) {
	srv := newTestServer(t, serverOpts{})
	resp, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/openapi.json", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("openapi: %d", resp.StatusCode)
	}
	var doc struct {
		Components struct {
			SecuritySchemes map[string]any `json:"securitySchemes"`
		} `json:"components"`
		Paths map[string]map[string]struct {
			Security []map[string][]string `json:"security"`
		} `json:"paths"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		t.Fatalf("decode openapi: %v", err)
	}
	if _, ok := doc.Components.SecuritySchemes["bearerAuth"]; !ok {
		t.Fatalf("missing bearerAuth scheme")
	}
	if ops := doc.Paths["/v1/routines/{routine_id}/executions/open"]; len(ops["post"].Security) == 0 {
		t.Fatalf("open execution should require bearer auth: %+v", ops)
	}
	if ops := doc.Paths["/v1/health"]; len(ops["get"].Security) != 0 {
		t.Fatalf("health should be public: %+v", ops)
	}
}

func TestDevLoginTokenAuthenticates(t *testing.T) {
	srv := newTestServer(t, serverOpts{})
	resp, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/dev/login", map[string]any{"actor_id": "U1"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("dev login: %d %s", resp.StatusCode, body)
	}
	token := decode[DevLoginResponse](t, body).Token
	resp, body = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/routines", map[string]any{
		"title":            "Open store",
		"recurrence":       map[string]any{"kind": "daily"},
		"duration_minutes": 15,
	}, map[string]string{"Authorization": "Bearer " + token})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d %s", resp.StatusCode, body)
	}
	created := decode[RoutineCreatedResponse](t, body)
	if created.Routine.CreatorID != "U1" || created.Routine.ResponsibleID != "U1" {
		t.Fatalf("creator should come from the token: %+v", created.Routine)
	}
}

func TestCreateRoutineConflictAndValidation(t *testing.T) {
	srv := newTestServer(t, serverOpts{})
	routine := map[string]any{
		"title":            "A",
		"recurrence":       map[string]any{"kind": "daily"},
		"start_time":       "08:00",
		"duration_minutes": 60,
		"responsible_id":   "U1",
	}
	resp, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/routines", routine, actor("manager"))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create A: %d %s", resp.StatusCode, body)
	}
	a := decode[RoutineCreatedResponse](t, body).Routine

	resp, body = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/routines/conflicts", map[string]any{
		"responsible_id": "U1", "start_time": "08:30", "duration_minutes": 60,
	}, actor("manager"))
	check := decode[ConflictCheckResponse](t, body)
	if resp.StatusCode != http.StatusOK || !check.Conflict || check.Routine == nil || check.Routine.ID != a.ID {
		t.Fatalf("dry-run conflict: %d %s", resp.StatusCode, body)
	}

	routine["title"] = "B"
	routine["start_time"] = "08:30"
	resp, body = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/routines", routine, actor("manager"))
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", resp.StatusCode, body)
	}
	env := decode[errorEnvelope](t, body)
	if env.Error.Code != "conflict" || env.Error.Details["routine_id"] != a.ID {
		t.Fatalf("unexpected envelope %s", body)
	}

	resp, body = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/routines", map[string]any{
		"title": "C", "recurrence": map[string]any{"kind": "oneoff"}, "duration_minutes": 10,
	}, actor("manager"))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d %s", resp.StatusCode, body)
	}
	env = decode[errorEnvelope](t, body)
	if env.Error.Code != "validation" || env.Error.Details["field"] != "date" {
		t.Fatalf("unexpected envelope %s", body)
	}
}

func TestDueAndOccurrences(t *testing.T) {
	srv := newTestServer(t, serverOpts{})
	resp, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/routines", map[string]any{
		"title":            "Weekly audit",
		"recurrence":       map[string]any{"kind": "weekly", "weekday": 3},
		"start_date":       "2024-01-03",
		"duration_minutes": 30,
	}, actor("U1"))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d %s", resp.StatusCode, body)
	}
	id := decode[RoutineCreatedResponse](t, body).Routine.ID

	_, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/routines/due?date=2024-01-10&responsible_id=U1", nil, actor("U1"))
	if due := decode[DueRoutinesResponse](t, body); len(due.Items) != 1 || due.Items[0].ID != id {
		t.Fatalf("expected routine due: %s", body)
	}
	_, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/routines/due?date=2024-01-11", nil, actor("U1"))
	if due := decode[DueRoutinesResponse](t, body); len(due.Items) != 0 {
		t.Fatalf("expected nothing due: %s", body)
	}
	_, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/routines/"+id+"/occurrences?from=2024-01-01&to=2024-01-20", nil, actor("U1"))
	occ := decode[OccurrencesResponse](t, body)
	if len(occ.Dates) != 3 || occ.Dates[0] != "2024-01-03" || occ.Dates[2] != "2024-01-17" {
		t.Fatalf("unexpected occurrences %s", body)
	}
	resp, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/routines/due?date=10/01/2024", nil, actor("U1"))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad date, got %d", resp.StatusCode)
	}
}

func TestExecutionLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t, serverOpts{})
	resp, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/routines", map[string]any{
		"title":            "Cold room",
		"recurrence":       map[string]any{"kind": "daily"},
		"duration_minutes": 10,
		"checklist":        []string{"Check temperature"},
	}, actor("manager"))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d %s", resp.StatusCode, body)
	}
	created := decode[RoutineCreatedResponse](t, body)
	base := srv.URL + "/v1/routines/" + created.Routine.ID + "/executions"

	resp, body = doJSON(t, srv.Client(), http.MethodPost, base+"/pause", nil, actor("U2"))
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("pause before open: %d %s", resp.StatusCode, body)
	}
	if env := decode[errorEnvelope](t, body); env.Error.Code != "invalid_transition" || env.Error.Details["from"] != "not_started" {
		t.Fatalf("unexpected envelope %s", body)
	}

	resp, body = doJSON(t, srv.Client(), http.MethodPost, base+"/open", nil, actor("U2"))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("open: %d %s", resp.StatusCode, body)
	}
	exec := decode[ExecutionResponse](t, body)
	if !exec.Created || exec.State != "running" {
		t.Fatalf("unexpected execution %s", body)
	}
	resp, body = doJSON(t, srv.Client(), http.MethodPost, base+"/open", nil, actor("U2"))
	if resp.StatusCode != http.StatusOK || decode[ExecutionResponse](t, body).ID != exec.ID {
		t.Fatalf("reopen: %d %s", resp.StatusCode, body)
	}

	_, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/executions/"+exec.ID+"/checklist", nil, actor("U2"))
	checklist := decode[ChecklistResponse](t, body)
	if len(checklist.Items) != 1 || checklist.Items[0].Done {
		t.Fatalf("unexpected checklist %s", body)
	}
	item := checklist.Items[0].ItemID
	resp, body = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/executions/"+exec.ID+"/checklist/"+item+"/toggle", nil, actor("U2"))
	if resp.StatusCode != http.StatusOK || !decode[ToggleResponse](t, body).Done {
		t.Fatalf("toggle: %d %s", resp.StatusCode, body)
	}
	resp, body = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/executions/"+exec.ID+"/checklist/nope/toggle", nil, actor("U2"))
	if resp.StatusCode != http.StatusUnprocessableEntity || decode[errorEnvelope](t, body).Error.Code != "unknown_item" {
		t.Fatalf("toggle unknown: %d %s", resp.StatusCode, body)
	}

	resp, body = doJSON(t, srv.Client(), http.MethodPost, base+"/pause", nil, actor("U2"))
	if resp.StatusCode != http.StatusOK || decode[ExecutionResponse](t, body).State != "paused" {
		t.Fatalf("pause: %d %s", resp.StatusCode, body)
	}
	resp, body = doJSON(t, srv.Client(), http.MethodPost, base+"/resume", nil, actor("U2"))
	if resp.StatusCode != http.StatusOK || decode[ExecutionResponse](t, body).State != "running" {
		t.Fatalf("resume: %d %s", resp.StatusCode, body)
	}
	resp, body = doJSON(t, srv.Client(), http.MethodPost, base+"/finish", map[string]any{"notes": "ok"}, actor("U2"))
	finished := decode[ExecutionResponse](t, body)
	if resp.StatusCode != http.StatusOK || finished.State != "finished" || finished.Notes != "ok" {
		t.Fatalf("finish: %d %s", resp.StatusCode, body)
	}
	resp, _ = doJSON(t, srv.Client(), http.MethodPost, base+"/resume", nil, actor("U2"))
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("resume after finish: %d", resp.StatusCode)
	}

	_, body = doJSON(t, srv.Client(), http.MethodGet, base, nil, actor("U2"))
	if list := decode[ExecutionList](t, body); len(list.Items) != 1 || list.Items[0].State != "finished" {
		t.Fatalf("unexpected history %s", body)
	}
	_, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/events?entity_kind=execution&limit=10", nil, actor("U2"))
	if evs := decode[EventList](t, body); len(evs.Items) != 5 {
		t.Fatalf("expected 5 execution events, got %s", body)
	}
}

func TestAttachmentUploadIsServed(t *testing.T) {
	srv := newTestServer(t, serverOpts{})
	_, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/routines", map[string]any{
		"title": "Photo", "recurrence": map[string]any{"kind": "daily"}, "duration_minutes": 5,
	}, actor("U1"))
	rt := decode[RoutineCreatedResponse](t, body).Routine
	_, body = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/routines/"+rt.ID+"/executions/open", nil, actor("U1"))
	exec := decode[ExecutionResponse](t, body)

	resp, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/executions/"+exec.ID+"/attachments", map[string]any{
		"filename": "foto.jpg",
		"content":  []byte("jpeg bytes"),
	}, actor("U1"))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload: %d %s", resp.StatusCode, body)
	}
	att := decode[domain.Attachment](t, body)
	if att.Filename != "foto.jpg" || att.ExecutionID != exec.ID || att.URL == "" {
		t.Fatalf("unexpected attachment %s", body)
	}
	resp, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+att.URL, nil, nil)
	if resp.StatusCode != http.StatusOK || string(body) != "jpeg bytes" {
		t.Fatalf("serve file: %d %q", resp.StatusCode, body)
	}
	_, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/executions/"+exec.ID+"/attachments", nil, actor("U1"))
	if list := decode[AttachmentList](t, body); len(list.Items) != 1 || list.Items[0].ID != att.ID {
		t.Fatalf("unexpected list %s", body)
	}
	resp, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/executions/missing/attachments", nil, actor("U1"))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestRateLimitRejectsBursts(t *testing.T) {
	srv := newTestServer(t, serverOpts{rateLimit: RateLimit{PerSecond: 0.001, Burst: 2}})
	for i := 0; i < 2; i++ {
		resp, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d: %d", i, resp.StatusCode)
		}
	}
	resp, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if resp.StatusCode != http.StatusTooManyRequests || decode[errorEnvelope](t, body).Error.Code != "rate_limited" {
		t.Fatalf("expected 429, got %d %s", resp.StatusCode, body)
	}
}
