package migrate_test

import (
	"context"
	"testing"

	"routinely/internal/db"
	"routinely/internal/migrate"
)

func TestApplyIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	ctx := context.Background()

	applied, err := migrate.Apply(ctx, conn)
	if err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if len(applied) == 0 {
		t.Fatalf("expected migrations to be applied on a fresh database")
	}
	applied, err = migrate.Apply(ctx, conn)
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if len(applied) != 0 {
		t.Fatalf("expected no pending migrations, got %v", applied)
	}
	for _, table := range []string{"routines", "checklist_items", "executions", "checklist_completions", "attachments", "events"} {
		var name string
		if err := conn.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name); err != nil {
			t.Fatalf("table %s missing: %v", table, err)
		}
	}
}
