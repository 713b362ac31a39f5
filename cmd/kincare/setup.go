package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/kincareapp/kincare/internal/calendar"
	"github.com/kincareapp/kincare/internal/config"
	"github.com/kincareapp/kincare/internal/integrity"
	"github.com/kincareapp/kincare/internal/logging"
	"github.com/kincareapp/kincare/internal/provider"
	"github.com/kincareapp/kincare/internal/remote"
	"github.com/kincareapp/kincare/internal/store"
	"github.com/kincareapp/kincare/internal/syncer"
)

// app bundles the wired components shared by the CLI commands.
type app struct {
	cfg         *config.Config
	logs        *logging.Factory
	db          *store.DB
	coordinator *syncer.Coordinator
	engine      *calendar.Engine
}

// newApp loads config, opens the local database, and wires the sync
// components. Callers must Close it.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	logs := logging.NewFactory(cfg.Log)

	db, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return nil, err
	}
	if err := db.InitSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	client := remote.NewClient(cfg.Remote.BaseURL, tokenFunc(cfg), nil)
	coordinator := syncer.New(db, client, logs.Logger("syncer"))

	guard, err := newGuard(cfg)
	if err != nil {
		db.Close()
		return nil, err
	}

	registry := provider.NewRegistry()
	if cfg.Calendar.GoogleTokenFile != "" {
		ts, err := fileTokenSource(cfg.Calendar.GoogleTokenFile)
		if err != nil {
			db.Close()
			return nil, err
		}
		registry.Register(provider.NewGoogle(ts))
	}

	engine := calendar.NewEngine(db, registry, guard, logs.Logger("calsync"))

	return &app{
		cfg:         cfg,
		logs:        logs,
		db:          db,
		coordinator: coordinator,
		engine:      engine,
	}, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: error closing database: %v\n", err)
	}
}

// probe reports remote reachability with a cheap unauthenticated request.
func (a *app) probe(ctx context.Context) error {
	if a.cfg.Remote.BaseURL == "" {
		return fmt.Errorf("remote.base_url is not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, a.cfg.Remote.BaseURL, nil)
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func tokenFunc(cfg *config.Config) remote.TokenFunc {
	if cfg.Remote.TokenFile == "" {
		return nil
	}
	return func(ctx context.Context) (string, error) {
		return cfg.Token()
	}
}

func newGuard(cfg *config.Config) (*integrity.Guard, error) {
	if cfg.Calendar.KeyFile == "" {
		// No key configured: checksums still work, conflict snapshots
		// are stored unencrypted.
		return &integrity.Guard{}, nil
	}
	key, err := cfg.MasterKey()
	if err != nil {
		return nil, err
	}
	return integrity.NewGuard(key)
}

func fileTokenSource(path string) (oauth2.TokenSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read provider token: %w", err)
	}
	tok := &oauth2.Token{AccessToken: strings.TrimSpace(string(data))}
	return oauth2.StaticTokenSource(tok), nil
}
