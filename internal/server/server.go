// Package server assembles the stores, background jobs and HTTP router.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"smb-ledger/internal/audit"
	"smb-ledger/internal/backup"
	"smb-ledger/internal/config"
	"smb-ledger/internal/csrf"
	"smb-ledger/internal/database"
	"smb-ledger/internal/metrics"
	"smb-ledger/internal/middleware"
	"smb-ledger/internal/ratelimit"
	"smb-ledger/internal/rbac"
	"smb-ledger/internal/router"
	"smb-ledger/internal/session"
	"smb-ledger/internal/token"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const (
	auditBuffer     = 1024
	shutdownTimeout = 10 * time.Second
)

// App owns every long-lived component of a running server.
type App struct {
	Config   *config.Config
	DB       *gorm.DB
	Audit    *audit.Log
	Mirror   *audit.Mirror
	Sessions *session.Store
	Tokens   *token.Store
	Limits   ratelimit.Store
	Backups  *backup.Service
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry
	Engine   *gin.Engine

	redis *redis.Client
}

// New validates cfg and builds every component. Nothing runs until Run.
func New(cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := database.Init(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := database.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	if err := database.EnsureAdmin(db, cfg.Admin.Username, cfg.Admin.Password, cfg.Security.BcryptCost); err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics()
	if err := m.Register(reg); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	auditLog := audit.NewLog(audit.WithSink(auditBuffer), audit.WithObserver(m))
	csrfSvc, err := csrf.NewService(cfg.Security.CSRFSecret, cfg.Security.SessionSecret)
	if err != nil {
		return nil, err
	}
	enforcer, err := rbac.NewEnforcer()
	if err != nil {
		return nil, err
	}

	app := &App{
		Config:   cfg,
		DB:       db,
		Audit:    auditLog,
		Mirror:   audit.NewMirror(db, cfg.Security.EncryptionKey),
		Sessions: session.NewStore(db, cfg.Security.SessionSecret, cfg.Session.MaxAge),
		Tokens:   token.NewStore(),
		Metrics:  m,
		Registry: reg,
	}

	if cfg.Redis.Addr != "" {
		app.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		app.Limits = ratelimit.NewRedisStore(app.redis)
	} else {
		app.Limits = ratelimit.NewMemoryStore()
	}

	if cfg.Backup.Enabled {
		app.Backups = backup.NewService(db, cfg.Security.EncryptionKey, cfg.Backup, auditLog, m)
	}

	gate := &middleware.Gate{
		DB:       db,
		Sessions: app.Sessions,
		Tokens: token.NewManager(
			cfg.Security.AccessTokenSecret, cfg.Security.RefreshTokenSecret,
			cfg.Security.AccessTokenTTL, cfg.Security.RefreshTokenTTL,
			app.Tokens,
		),
		Audit:      auditLog,
		Enforcer:   enforcer,
		CookieName: cfg.Session.CookieName,
		Secure:     cfg.Server.Production(),
	}

	app.Engine = router.SetupRouter(router.Deps{
		Config:   cfg,
		DB:       db,
		Logger:   slog.Default(),
		Gate:     gate,
		CSRF:     csrfSvc,
		Audit:    auditLog,
		Mirror:   app.Mirror,
		Limits:   app.Limits,
		Backups:  app.Backups,
		Metrics:  m,
		Gatherer: reg,
	})
	return app, nil
}

// Run serves HTTP and the background jobs until ctx is cancelled, then shuts
// the listener down and waits for every job to return.
func (a *App) Run(ctx context.Context) error {
	jobsCtx, stopJobs := context.WithCancel(context.Background())
	defer stopJobs()

	var wg sync.WaitGroup
	spawn := func(name string, fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(jobsCtx)
			slog.Debug("background job stopped", "job", name)
		}()
	}

	spawn("audit-mirror", func(ctx context.Context) { a.Mirror.Run(ctx, a.Audit.Sink()) })
	spawn("session-sweep", func(ctx context.Context) { a.Sessions.Run(ctx, a.Config.Session.SweepInterval) })
	spawn("token-sweep", func(ctx context.Context) { a.Tokens.Run(ctx, time.Hour) })
	if mem, ok := a.Limits.(*ratelimit.MemoryStore); ok {
		spawn("ratelimit-cleanup", func(ctx context.Context) { mem.Run(ctx, time.Minute) })
	}
	if a.Backups != nil {
		spawn("backup", a.Backups.Run)
	}

	addr := fmt.Sprintf("%s:%d", a.Config.Server.Address, a.Config.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "address", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		serveErr = fmt.Errorf("server forced to shutdown: %w", err)
	}

	stopJobs()
	wg.Wait()
	a.close()

	slog.Info("server stopped")
	return serveErr
}

func (a *App) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			slog.Warn("close redis", "error", err)
		}
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// RunWithSignalHandling runs until SIGINT or SIGTERM.
func RunWithSignalHandling(cfg *config.Config) error {
	app, err := New(cfg)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return app.Run(ctx)
}
