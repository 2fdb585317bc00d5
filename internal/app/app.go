package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"routinely/internal/blob"
	"routinely/internal/config"
	"routinely/internal/db"
	"routinely/internal/engine"
	"routinely/internal/logging"
	"routinely/internal/migrate"
)

type Options struct {
	Workspace string
	// LogLevel overrides log.level from the config file when set.
	LogLevel  string
	LogOutput io.Writer
}

// App holds an opened workspace: config, database and the engine over them.
type App struct {
	Workspace string
	Config    *config.Config
	DB        *sql.DB
	Engine    engine.Engine
	Log       zerolog.Logger
}

// Open loads the workspace config, opens and migrates the database and
// builds the engine.
func Open(ctx context.Context, opts Options) (*App, error) {
	workspace := opts.Workspace
	if workspace == "" {
		workspace = "."
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	level := cfg.Log.Level
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	log := logging.New(logging.Config{Level: level, Console: cfg.Log.Console}, opts.LogOutput)

	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	applied, err := migrate.Apply(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if len(applied) > 0 {
		log.Debug().Strs("migrations", applied).Msg("database migrated")
	}

	store, err := blob.Open(cfg.BlobOptions())
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("blob store: %w", err)
	}
	e := engine.New(conn, cfg)
	e.Blobs = store
	e.Log = log
	log.Debug().Str("backend", backendName(cfg)).Msg("blob store ready")
	return &App{Workspace: workspace, Config: cfg, DB: conn, Engine: e, Log: log}, nil
}

func backendName(cfg *config.Config) string {
	if cfg.Storage.BlobBackend == "" {
		return blob.BackendLocal
	}
	return cfg.Storage.BlobBackend
}

func (a *App) Close() error {
	if a == nil || a.DB == nil {
		return nil
	}
	return a.DB.Close()
}
