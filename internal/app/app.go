package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yungbote/arfor-backend/internal/config"
	"github.com/yungbote/arfor-backend/internal/data/db"
	"github.com/yungbote/arfor-backend/internal/data/repos"
	"github.com/yungbote/arfor-backend/internal/http"
	"github.com/yungbote/arfor-backend/internal/observability"
	"github.com/yungbote/arfor-backend/internal/platform/logger"
)

const version = "1.0.0"

type App struct {
	Log      *logger.Logger
	Config   *config.Config
	DB       *db.Service
	Repos    repos.Repos
	Clients  Clients
	Services Services
	Metrics  *observability.Metrics

	server       *http.Server
	base         context.Context
	cancel       context.CancelFunc
	otelShutdown func(context.Context) error
}

// Bootstrap loads configuration and builds the logger shared by every
// command.
func Bootstrap() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(cfg.Env)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, log, nil
}

// OpenDatabase connects and migrates the schema.
func OpenDatabase(cfg config.DatabaseConfig, log *logger.Logger) (*db.Service, error) {
	database, err := db.NewService(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	if err := db.AutoMigrateAll(database.DB()); err != nil {
		_ = database.Close()
		return nil, err
	}
	return database, nil
}

func New(ctx context.Context) (*App, error) {
	cfg, log, err := Bootstrap()
	if err != nil {
		return nil, err
	}

	metrics := observability.Init(log)
	otelShutdown := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: serviceName,
		Environment: cfg.Env,
		Version:     version,
	})

	database, err := OpenDatabase(cfg.Database, log)
	if err != nil {
		log.Sync()
		return nil, err
	}

	clients, err := wireClients(ctx, log, cfg)
	if err != nil {
		_ = database.Close()
		log.Sync()
		return nil, err
	}

	// Session tasks outlive the requests that start them.
	base, cancel := context.WithCancel(context.Background())

	reposet := wireRepos(database.DB(), log)
	serviceset, err := wireServices(base, log, cfg, reposet, clients, metrics)
	if err != nil {
		cancel()
		clients.Close()
		_ = database.Close()
		log.Sync()
		return nil, err
	}

	handlerset := wireHandlers(log, cfg, database, clients, serviceset)
	middleware := wireMiddleware(log, cfg.Auth)
	server := wireServer(log, cfg.HTTP, handlerset, middleware, metrics)

	return &App{
		Log:          log,
		Config:       cfg,
		DB:           database,
		Repos:        reposet,
		Clients:      clients,
		Services:     serviceset,
		Metrics:      metrics,
		server:       server,
		base:         base,
		cancel:       cancel,
		otelShutdown: otelShutdown,
	}, nil
}

// Run serves until ctx ends, then fails running sessions with the restart
// notice, waits for their refunds and drains the HTTP server.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.server == nil {
		return fmt.Errorf("app not initialized")
	}
	a.Services.Registry.StartSweeper(a.base)
	if err := a.Services.Analysis.StartControl(a.base); err != nil {
		a.Log.Warn("Cancel control channel unavailable", "error", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.Log.Info("Server listening", "addr", a.Config.HTTP.Addr)
		errCh <- a.server.Run(a.Config.HTTP.Addr, a.Config.HTTP.ReadHeaderTimeout)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		runErr = err
	}

	timeout := a.Config.HTTP.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if n := a.Services.Analysis.Shutdown(shutdownCtx); n > 0 {
		a.Log.Info("Interrupted running analyses", "count", n)
	}
	if err := a.server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		a.Log.Warn("HTTP shutdown incomplete", "error", err)
	}
	return runErr
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.Clients.Close()
	if a.DB != nil {
		_ = a.DB.Close()
	}
	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.otelShutdown(ctx)
		cancel()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
