package routinelysdk

import (
	"context"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"routinely/internal/blob"
	"routinely/internal/config"
	"routinely/internal/db"
	"routinely/internal/engine"
	"routinely/internal/migrate"
	"routinely/internal/server"
)

const secret = "sdk-secret"

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newServer(t *testing.T) (*httptest.Server, *clock) {
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
	clk := &clock{now: time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC)}
	e := engine.New(conn, cfg)
	e.Now = clk.Now
	handler, err := server.New(server.Config{
		Engine:    e,
		BasePath:  "/v1",
		Auth:      server.AuthConfig{JWTSecret: secret, AllowLegacyActorHeader: true},
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
	return srv, clk
}

func tokenFor(t *testing.T, actor string) string {
	t.Helper()
	tok, err := server.SignToken(secret, actor, nil, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

func TestClientExecutionLifecycle(t *testing.T) {
	srv, clk := newServer(t)
	ctx := context.Background()

	manager := New(srv.URL)
	manager.BearerToken = tokenFor(t, "manager")
	created, err := manager.CreateRoutine(ctx, NewRoutine{
		Title:           "Open store",
		Recurrence:      Recurrence{Kind: "daily"},
		StartTime:       "08:00",
		DurationMinutes: 30,
		Checklist:       []string{"Lights", "Till"},
		ResponsibleID:   "alice",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Routine.CreatorID != "manager" || len(created.Checklist) != 2 {
		t.Fatalf("unexpected create response: %+v", created)
	}

	due, err := manager.Due(ctx, "2024-01-03", "alice")
	if err != nil || len(due) != 1 {
		t.Fatalf("due: %v %+v", err, due)
	}

	alice := New(srv.URL)
	alice.BearerToken = tokenFor(t, "alice")
	exec, err := alice.OpenExecution(ctx, created.Routine.ID)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !exec.Created || exec.State != "running" || exec.ExecutorID != "alice" {
		t.Fatalf("unexpected execution: %+v", exec)
	}
	again, err := alice.OpenExecution(ctx, created.Routine.ID)
	if err != nil || again.ID != exec.ID || again.Created {
		t.Fatalf("reopen should return the same execution: %v %+v", err, again)
	}

	clk.Advance(2 * time.Minute)
	if exec, err = alice.Pause(ctx, created.Routine.ID); err != nil || exec.State != "paused" {
		t.Fatalf("pause: %v %+v", err, exec)
	}
	if exec, err = alice.Resume(ctx, created.Routine.ID); err != nil || exec.State != "running" {
		t.Fatalf("resume: %v %+v", err, exec)
	}

	items, err := alice.Checklist(ctx, exec.ID)
	if err != nil || len(items) != 2 {
		t.Fatalf("checklist: %v %+v", err, items)
	}
	done, err := alice.Toggle(ctx, exec.ID, items[0].ItemID)
	if err != nil || !done {
		t.Fatalf("toggle: %v %v", err, done)
	}

	if _, err := alice.UploadAttachment(ctx, exec.ID, "photo.txt", []byte("shelves")); err != nil {
		t.Fatalf("upload: %v", err)
	}
	atts, err := alice.Attachments(ctx, exec.ID)
	if err != nil || len(atts) != 1 || atts[0].Filename != "photo.txt" {
		t.Fatalf("attachments: %v %+v", err, atts)
	}

	clk.Advance(8 * time.Minute)
	exec, err = alice.Finish(ctx, created.Routine.ID, "all good")
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if exec.State != "finished" || exec.TotalDurationSeconds == nil || *exec.TotalDurationSeconds != 600 {
		t.Fatalf("unexpected finished execution: %+v", exec)
	}
}

func TestClientDecodesErrorEnvelope(t *testing.T) {
	srv, _ := newServer(t)
	ctx := context.Background()

	c := New(srv.URL)
	c.ActorID = "alice"
	rt, err := c.CreateRoutine(ctx, NewRoutine{Title: "Walk", Recurrence: Recurrence{Kind: "daily"}, DurationMinutes: 10})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err = c.Resume(ctx, rt.Routine.ID)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != 409 || apiErr.Code != "invalid_transition" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
	if apiErr.Details["from"] != "not_started" {
		t.Fatalf("expected from=not_started, got %+v", apiErr.Details)
	}

	if _, err := c.GetExecution(ctx, "missing"); !errors.As(err, &apiErr) || apiErr.StatusCode != 404 {
		t.Fatalf("expected 404, got %v", err)
	}

	anon := New(srv.URL)
	if _, err := anon.Due(ctx, "", ""); !errors.As(err, &apiErr) || apiErr.StatusCode != 401 {
		t.Fatalf("expected 401 without credentials, got %v", err)
	}
}
