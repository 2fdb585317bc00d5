package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const DefaultBucket = "routinely-attachments"

// MinIOConfig addresses an S3-compatible object store.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Region    string
	// BaseURL replaces the endpoint/bucket prefix of returned URLs, e.g. a CDN.
	BaseURL string
}

// MinIO is a Store that puts objects into a bucket.
type MinIO struct {
	Client  *minio.Client
	Bucket  string
	Region  string
	BaseURL string

	mu    sync.Mutex
	ready bool
}

// NewMinIO builds a client for cfg. No request is made until the first upload.
func NewMinIO(cfg MinIOConfig) (*MinIO, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("minio endpoint is required")
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		bucket = DefaultBucket
	}
	return &MinIO{Client: client, Bucket: bucket, Region: cfg.Region, BaseURL: cfg.BaseURL}, nil
}

func (m *MinIO) Upload(ctx context.Context, data []byte, p string) (string, error) {
	rel, err := Clean(p)
	if err != nil {
		return "", err
	}
	if err := m.ensureBucket(ctx); err != nil {
		return "", err
	}
	_, err = m.Client.PutObject(ctx, m.Bucket, rel, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: http.DetectContentType(data),
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", rel, err)
	}
	return m.URL(rel), nil
}

func (m *MinIO) ensureBucket(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ready {
		return nil
	}
	exists, err := m.Client.BucketExists(ctx, m.Bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", m.Bucket, err)
	}
	if !exists {
		if err := m.Client.MakeBucket(ctx, m.Bucket, minio.MakeBucketOptions{Region: m.Region}); err != nil {
			return fmt.Errorf("create bucket %s: %w", m.Bucket, err)
		}
	}
	m.ready = true
	return nil
}

// URL returns the object URL of a stored relative path.
func (m *MinIO) URL(rel string) string {
	if m.BaseURL != "" {
		return joinURL(m.BaseURL, rel)
	}
	endpoint := m.Client.EndpointURL()
	return joinURL(endpoint.Scheme+"://"+endpoint.Host+"/"+m.Bucket, rel)
}
