// Package blob stores attachment bytes and hands back the URL they are
// served from.
package blob

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Store uploads bytes under a relative path and returns their URL.
type Store interface {
	Upload(ctx context.Context, data []byte, p string) (string, error)
}

// Dir is a Store backed by a local directory.
type Dir struct {
	Root    string
	BaseURL string
}

var ErrInvalidPath = errors.New("invalid blob path")

// Clean normalizes a relative blob path and rejects attempts to leave the root.
func Clean(p string) (string, error) {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	if p == "" || strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	cleaned := path.Clean(p)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	return cleaned, nil
}

func (d Dir) Upload(ctx context.Context, data []byte, p string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	rel, err := Clean(p)
	if err != nil {
		return "", err
	}
	if d.Root == "" {
		return "", errors.New("blob root not configured")
	}
	dest := filepath.Join(d.Root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("create blob dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp blob: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", fmt.Errorf("store blob: %w", err)
	}
	return d.URL(rel), nil
}

// URL returns the public URL of a stored relative path.
func (d Dir) URL(rel string) string {
	return joinURL(d.BaseURL, rel)
}

func joinURL(base, rel string) string {
	segments := strings.Split(rel, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.TrimRight(base, "/") + "/" + strings.Join(segments, "/")
}

// Backends accepted by Open.
const (
	BackendLocal = "local"
	BackendMinIO = "minio"
)

// Options selects and configures a Store.
type Options struct {
	Backend string
	Dir     Dir
	MinIO   MinIOConfig
}

// Open returns the Store for opts.Backend. An empty backend means local.
func Open(opts Options) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", BackendLocal:
		return opts.Dir, nil
	case BackendMinIO:
		return NewMinIO(opts.MinIO)
	default:
		return nil, fmt.Errorf("unknown blob backend %q", opts.Backend)
	}
}

// Handler serves stored files relative to Root.
func (d Dir) Handler() http.Handler {
	return http.FileServer(http.Dir(d.Root))
}
