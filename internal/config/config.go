package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"routinely/internal/blob"
	"routinely/internal/schedule"
)

// Config models routinely.yml.
type Config struct {
	Server struct {
		Addr           string   `yaml:"addr" json:"addr"`
		BasePath       string   `yaml:"base_path" json:"base_path"`
		RequestTimeout Duration `yaml:"request_timeout" json:"request_timeout"`
		RateLimit      struct {
			PerSecond float64 `yaml:"per_second" json:"per_second"`
			Burst     int     `yaml:"burst" json:"burst"`
		} `yaml:"rate_limit" json:"rate_limit"`
		AllowActorHeader bool `yaml:"allow_actor_header" json:"allow_actor_header"`
	} `yaml:"server" json:"server"`
	Storage struct {
		// BlobBackend is local (files under BlobDir) or minio.
		BlobBackend string `yaml:"blob_backend" json:"blob_backend"`
		BlobDir     string `yaml:"blob_dir" json:"blob_dir"`
		BlobBaseURL string `yaml:"blob_base_url" json:"blob_base_url"`
		MinIO       struct {
			Endpoint  string `yaml:"endpoint" json:"endpoint"`
			AccessKey string `yaml:"access_key" json:"access_key"`
			SecretKey string `yaml:"secret_key" json:"-"`
			Bucket    string `yaml:"bucket" json:"bucket"`
			UseSSL    bool   `yaml:"use_ssl" json:"use_ssl"`
			Region    string `yaml:"region" json:"region"`
		} `yaml:"minio" json:"minio"`
	} `yaml:"storage" json:"storage"`
	Routines struct {
		DefaultPriority   string `yaml:"default_priority" json:"default_priority"`
		MonthlyShortMonth string `yaml:"monthly_short_month" json:"monthly_short_month"`
		AtomicChecklist   bool   `yaml:"atomic_checklist" json:"atomic_checklist"`
		Timezone          string `yaml:"timezone" json:"timezone"`
	} `yaml:"routines" json:"routines"`
	Execution struct {
		TickInterval Duration `yaml:"tick_interval" json:"tick_interval"`
	} `yaml:"execution" json:"execution"`
	Log struct {
		Level   string `yaml:"level" json:"level"`
		Console bool   `yaml:"console" json:"console"`
	} `yaml:"log" json:"log"`
}

// Duration is a time.Duration written as "30s" in YAML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalYAML() (any, error) { return d.String(), nil }

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

var priorities = map[string]bool{"low": true, "medium": true, "high": true}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if c.Server.RequestTimeout.Duration < 0 {
		return fmt.Errorf("config.server.request_timeout must not be negative")
	}
	if c.Server.RateLimit.PerSecond < 0 || c.Server.RateLimit.Burst < 0 {
		return fmt.Errorf("config.server.rate_limit values must not be negative")
	}
	if c.Server.RateLimit.PerSecond > 0 && c.Server.RateLimit.Burst == 0 {
		return fmt.Errorf("config.server.rate_limit.burst is required when per_second is set")
	}
	switch c.Storage.BlobBackend {
	case "", blob.BackendLocal:
		if c.Storage.BlobDir == "" {
			return fmt.Errorf("config.storage.blob_dir is required")
		}
	case blob.BackendMinIO:
		if strings.TrimSpace(c.Storage.MinIO.Endpoint) == "" {
			return fmt.Errorf("config.storage.minio.endpoint is required for the minio backend")
		}
	default:
		return fmt.Errorf("config.storage.blob_backend must be local or minio")
	}
	if !priorities[c.Routines.DefaultPriority] {
		return fmt.Errorf("config.routines.default_priority must be low, medium or high")
	}
	if _, err := schedule.ParseShortMonthPolicy(c.Routines.MonthlyShortMonth); err != nil {
		return fmt.Errorf("config.routines.monthly_short_month: %w", err)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("config.routines.timezone: %w", err)
	}
	if c.Execution.TickInterval.Duration <= 0 {
		return fmt.Errorf("config.execution.tick_interval must be positive")
	}
	return nil
}

// Location resolves the timezone used to decide what "today" is.
func (c *Config) Location() (*time.Location, error) {
	if c.Routines.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Routines.Timezone)
}

// BlobOptions maps the storage section onto blob.Open. The secret key may
// come from ROUTINELY_MINIO_SECRET_KEY instead of the file.
func (c *Config) BlobOptions() blob.Options {
	m := c.Storage.MinIO
	secret := m.SecretKey
	if env := os.Getenv("ROUTINELY_MINIO_SECRET_KEY"); env != "" {
		secret = env
	}
	opts := blob.Options{
		Backend: c.Storage.BlobBackend,
		Dir:     blob.Dir{Root: c.Storage.BlobDir, BaseURL: c.Storage.BlobBaseURL},
		MinIO: blob.MinIOConfig{
			Endpoint:  m.Endpoint,
			AccessKey: m.AccessKey,
			SecretKey: secret,
			Bucket:    m.Bucket,
			UseSSL:    m.UseSSL,
			Region:    m.Region,
		},
	}
	if c.Storage.BlobBackend == blob.BackendMinIO && c.Storage.BlobBaseURL != defaultBlobBaseURL {
		opts.MinIO.BaseURL = c.Storage.BlobBaseURL
	}
	return opts
}

// ShortMonthPolicy returns the parsed monthly policy.
func (c *Config) ShortMonthPolicy() schedule.ShortMonthPolicy {
	p, err := schedule.ParseShortMonthPolicy(c.Routines.MonthlyShortMonth)
	if err != nil {
		return schedule.ShortMonthClamp
	}
	return p
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "routinely.yml")
}

// Load reads config from the workspace, falling back to defaults when the
// file does not exist. Relative blob directories resolve against workspace.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	var cfg *Config
	switch {
	case os.IsNotExist(err):
		cfg = Default()
	case err != nil:
		return nil, err
	default:
		cfg, err = FromYAML(data)
		if err != nil {
			return nil, err
		}
	}
	if !filepath.IsAbs(cfg.Storage.BlobDir) {
		if workspace == "" {
			workspace = "."
		}
		cfg.Storage.BlobDir = filepath.Join(workspace, cfg.Storage.BlobDir)
	}
	return cfg, nil
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses raw YAML on top of the defaults and validates the result.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

const defaultBlobBaseURL = "/files"

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /v1
  request_timeout: 10s
  rate_limit:
    per_second: 20
    burst: 40
  allow_actor_header: false

storage:
  # local stores files under blob_dir and serves them at blob_base_url.
  # minio puts them in an S3-compatible bucket; set blob_base_url to a
  # public prefix to override the endpoint/bucket URL.
  blob_backend: local
  blob_dir: .routinely/files
  blob_base_url: /files
  minio:
    endpoint: ""
    access_key: ""
    secret_key: ""
    bucket: routinely-attachments
    use_ssl: false
    region: ""

routines:
  default_priority: medium
  # clamp: due on the last day of months shorter than the start day
  # skip: not due in those months
  monthly_short_month: clamp
  atomic_checklist: false
  timezone: ""

execution:
  tick_interval: 1s

log:
  level: info
  console: true
`
