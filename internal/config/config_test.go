package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"routinely/internal/schedule"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Server.RequestTimeout.Duration != 10*time.Second {
		t.Fatalf("unexpected request timeout %s", cfg.Server.RequestTimeout)
	}
	if cfg.ShortMonthPolicy() != schedule.ShortMonthClamp {
		t.Fatalf("expected clamp policy by default")
	}
}

func TestFromYAMLOverridesDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte(`
routines:
  monthly_short_month: skip
  atomic_checklist: true
execution:
  tick_interval: 250ms
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.ShortMonthPolicy() != schedule.ShortMonthSkip {
		t.Fatalf("expected skip policy")
	}
	if !cfg.Routines.AtomicChecklist {
		t.Fatalf("expected atomic checklist")
	}
	if cfg.Execution.TickInterval.Duration != 250*time.Millisecond {
		t.Fatalf("unexpected tick interval %s", cfg.Execution.TickInterval)
	}
	if cfg.Server.Addr == "" {
		t.Fatalf("defaults should be kept for missing sections")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"priority": "routines:\n  default_priority: urgent\n",
		"policy":   "routines:\n  monthly_short_month: roll\n",
		"tick":     "execution:\n  tick_interval: 0s\n",
		"duration": "server:\n  request_timeout: soon\n",
		"burst":    "server:\n  rate_limit:\n    per_second: 5\n    burst: 0\n",
	}
	for name, raw := range cases {
		if _, err := FromYAML([]byte(raw)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestLoadResolvesBlobDir(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.Storage.BlobDir != filepath.Join(dir, ".routinely", "files") {
		t.Fatalf("unexpected blob dir %s", cfg.Storage.BlobDir)
	}
	if err := os.WriteFile(Path(dir), []byte("storage:\n  blob_dir: /srv/blobs\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = Load(dir)
	if err != nil {
		t.Fatalf("load file: %v", err)
	}
	if cfg.Storage.BlobDir != "/srv/blobs" {
		t.Fatalf("absolute blob dir should be kept, got %s", cfg.Storage.BlobDir)
	}
}

func TestMinIOBackendOptions(t *testing.T) {
	t.Setenv("ROUTINELY_MINIO_SECRET_KEY", "from-env")
	cfg, err := FromYAML([]byte(`
storage:
  blob_backend: minio
  minio:
    endpoint: minio.internal:9000
    access_key: routinely
    secret_key: from-file
    bucket: evidence
    use_ssl: true
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	opts := cfg.BlobOptions()
	if opts.Backend != "minio" || opts.MinIO.Endpoint != "minio.internal:9000" || opts.MinIO.Bucket != "evidence" || !opts.MinIO.UseSSL {
		t.Fatalf("unexpected options %+v", opts.MinIO)
	}
	if opts.MinIO.SecretKey != "from-env" {
		t.Fatalf("env secret should win, got %q", opts.MinIO.SecretKey)
	}
	if opts.MinIO.BaseURL != "" {
		t.Fatalf("default base url must not override object urls, got %q", opts.MinIO.BaseURL)
	}

	if _, err := FromYAML([]byte("storage:\n  blob_backend: minio\n")); err == nil {
		t.Fatalf("expected missing endpoint error")
	}
	if _, err := FromYAML([]byte("storage:\n  blob_backend: s3\n")); err == nil {
		t.Fatalf("expected unknown backend error")
	}
}
