package blob

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

type fakeS3 struct {
	mu      sync.Mutex
	buckets map[string]bool
	objects map[string][]byte
	calls   []string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	// Path-style requests: /bucket/ for bucket calls, /bucket/key for objects.
	trimmed := strings.Trim(r.URL.Path, "/")
	f.calls = append(f.calls, r.Method+" /"+trimmed)
	parts := strings.SplitN(trimmed, "/", 2)
	bucket := parts[0]
	switch {
	case len(parts) == 1 && r.Method == http.MethodHead:
		if !f.buckets[bucket] {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	case len(parts) == 1 && r.Method == http.MethodPut:
		f.buckets[bucket] = true
		w.WriteHeader(http.StatusOK)
	case len(parts) == 2 && r.Method == http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[trimmed] = body
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func newFakeS3(t *testing.T) (*fakeS3, string) {
	t.Helper()
	fake := &fakeS3{buckets: map[string]bool{}, objects: map[string][]byte{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return fake, strings.TrimPrefix(srv.URL, "http://")
}

func TestMinIOUploadCreatesBucketOnce(t *testing.T) {
	fake, endpoint := newFakeS3(t)
	store, err := NewMinIO(MinIOConfig{Endpoint: endpoint, AccessKey: "k", SecretKey: "s", Bucket: "evidence", Region: "us-east-1"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	url, err := store.Upload(ctx, []byte("jpeg bytes"), "executions/42/foto 1.jpg")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if url != "http://"+endpoint+"/evidence/executions/42/foto%201.jpg" {
		t.Fatalf("unexpected url %s", url)
	}
	if _, err := store.Upload(ctx, []byte("second"), "executions/42/b.txt"); err != nil {
		t.Fatalf("second upload: %v", err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if !fake.buckets["evidence"] {
		t.Fatalf("bucket not created: %v", fake.calls)
	}
	heads := 0
	for _, c := range fake.calls {
		if c == "HEAD /evidence" {
			heads++
		}
	}
	if heads != 1 {
		t.Fatalf("expected one bucket check, got calls %v", fake.calls)
	}
	if got := string(fake.objects["evidence/executions/42/foto 1.jpg"]); !strings.Contains(got, "jpeg bytes") {
		t.Fatalf("object not stored, got %q (calls %v)", got, fake.calls)
	}
}

func TestMinIOUploadRejectsTraversal(t *testing.T) {
	store, err := NewMinIO(MinIOConfig{Endpoint: "localhost:9000"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := store.Upload(context.Background(), []byte("x"), "../escape"); !errors.Is(err, ErrInvalidPath) {
		t.Fatalf("expected ErrInvalidPath, got %v", err)
	}
}

func TestNewMinIODefaults(t *testing.T) {
	if _, err := NewMinIO(MinIOConfig{Endpoint: "  "}); err == nil {
		t.Fatalf("expected endpoint error")
	}
	store, err := NewMinIO(MinIOConfig{Endpoint: "localhost:9000"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if store.Bucket != DefaultBucket {
		t.Fatalf("unexpected bucket %s", store.Bucket)
	}
	if got := store.URL("a/b.txt"); got != "http://localhost:9000/"+DefaultBucket+"/a/b.txt" {
		t.Fatalf("unexpected url %s", got)
	}
	store.BaseURL = "https://cdn.example.test/att/"
	if got := store.URL("a/b c.txt"); got != "https://cdn.example.test/att/a/b%20c.txt" {
		t.Fatalf("unexpected cdn url %s", got)
	}
}

func TestOpenSelectsBackend(t *testing.T) {
	local, err := Open(Options{Dir: Dir{Root: "/tmp/x", BaseURL: "/files"}})
	if err != nil {
		t.Fatalf("open local: %v", err)
	}
	if _, ok := local.(Dir); !ok {
		t.Fatalf("expected Dir, got %T", local)
	}
	remote, err := Open(Options{Backend: "MinIO", MinIO: MinIOConfig{Endpoint: "localhost:9000"}})
	if err != nil {
		t.Fatalf("open minio: %v", err)
	}
	if _, ok := remote.(*MinIO); !ok {
		t.Fatalf("expected *MinIO, got %T", remote)
	}
	if _, err := Open(Options{Backend: "ftp"}); err == nil {
		t.Fatalf("expected unknown backend error")
	}
}
