// Command governor runs the agent governance service: permission decisions,
// trigger routing, skill registration with scanning, sandboxed execution and
// graduation, behind one HTTP API.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loopwork-ai/governor/pkg/api"
	"github.com/loopwork-ai/governor/pkg/audit"
	"github.com/loopwork-ai/governor/pkg/config"
	"github.com/loopwork-ai/governor/pkg/episodes"
	"github.com/loopwork-ai/governor/pkg/governance"
	"github.com/loopwork-ai/governor/pkg/graduation"
	"github.com/loopwork-ai/governor/pkg/observability"
	"github.com/loopwork-ai/governor/pkg/permcache"
	"github.com/loopwork-ai/governor/pkg/registry"
	"github.com/loopwork-ai/governor/pkg/sandbox"
	"github.com/loopwork-ai/governor/pkg/scanner"
	"github.com/loopwork-ai/governor/pkg/skillblob"
	"github.com/loopwork-ai/governor/pkg/store"
	"github.com/loopwork-ai/governor/pkg/trigger"
)

func main() {
	if err := run(); err != nil {
		slog.Error("governor exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	profile, err := loadProfile(cfg, logger)
	if err != nil {
		return err
	}

	obs, err := newObservability(ctx, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = obs.Shutdown(shutdownCtx)
	}()

	auditLog, closeAudit, err := newAuditLogger(cfg)
	if err != nil {
		return err
	}
	defer closeAudit()

	if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	db, err := sql.Open("sqlite", cfg.SQLitePath)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	defer db.Close()

	agents, err := store.NewSQLiteAgentStore(db)
	if err != nil {
		return fmt.Errorf("agent store: %w", err)
	}
	eps, err := episodes.NewSQLiteStore(db)
	if err != nil {
		return fmt.Errorf("episode store: %w", err)
	}

	cache := newDecisionCache(cfg, profile, logger)
	gov := governance.NewService(cache, agents,
		governance.WithLogger(logger),
		governance.WithMetrics(obs),
	)

	skills, err := newSkillRegistry(ctx, cfg, auditLog, logger)
	if err != nil {
		return err
	}

	pool, err := newSandboxPool(ctx, profile, eps, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	grad := graduation.NewService(agents, eps,
		graduation.WithExams(skills, pool),
		graduation.WithInvalidator(gov),
		graduation.WithAudit(auditLog),
		graduation.WithLogger(logger),
	)

	launcher := trigger.NewLauncher(skills, pool, logger)

	supervisors := trigger.NewStaticSupervisors(cfg.Supervisors)
	monitors := trigger.NewMemorySessionRegistry()
	queue := trigger.NewRetryQueue(supervisors, monitors, auditLog, launcher.OnReady(), logger)
	go queue.Run(ctx)
	defer queue.Close()

	router := trigger.NewRouter(gov, supervisors, monitors, queue, auditLog,
		trigger.WithLauncher(launcher),
		trigger.WithLogger(logger))

	serverOpts := []api.ServerOption{api.WithLogger(logger), api.WithRateLimit(50, 100)}
	if cfg.JWTSecret != "" {
		serverOpts = append(serverOpts, api.WithAuth(cfg.JWTSecret))
	} else {
		logger.Warn("JWT_SECRET not set, API authentication disabled")
	}
	srv := api.NewServer(gov, router, grad, skills, agents, serverOpts...)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("governor listening", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), 15*time.Second)
	defer done()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: l}))
}

func loadProfile(cfg *config.Config, logger *slog.Logger) (*config.GovernanceProfile, error) {
	if cfg.Profile == "" {
		return &config.GovernanceProfile{}, nil
	}
	profile, err := config.LoadProfile(cfg.ProfilesDir, cfg.Profile)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	logger.Info("governance profile loaded", "code", profile.Code, "name", profile.Name)
	return profile, nil
}

func newObservability(ctx context.Context, logger *slog.Logger) (*observability.Provider, error) {
	obsCfg := observability.DefaultConfig()
	obsCfg.Enabled = false
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		obsCfg.Enabled = true
		obsCfg.OTLPEndpoint = endpoint
		obsCfg.Insecure = os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true"
	} else {
		logger.Info("OTEL_EXPORTER_OTLP_ENDPOINT not set, telemetry disabled")
	}
	return observability.New(ctx, obsCfg)
}

func newAuditLogger(cfg *config.Config) (audit.Logger, func(), error) {
	if err := os.MkdirAll(filepath.Dir(cfg.AuditPath), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create audit dir: %w", err)
	}
	f, err := os.OpenFile(cfg.AuditPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("open audit log: %w", err)
	}

	var macKey []byte
	if cfg.AuditSecret != "" {
		macKey, err = audit.DeriveMACKey([]byte(cfg.AuditSecret), []byte("governor"))
		if err != nil {
			_ = f.Close()
			return nil, nil, err
		}
	}
	return audit.NewLoggerWithWriter(f, macKey), func() { _ = f.Close() }, nil
}

func newDecisionCache(cfg *config.Config, profile *config.GovernanceProfile, logger *slog.Logger) permcache.Cache {
	ttl := permcache.DefaultTTL
	if profile.Cache.TTLSeconds > 0 {
		ttl = profile.Cache.TTL()
	}

	if cfg.RedisAddr != "" {
		logger.Info("decision cache backend: redis", "addr", cfg.RedisAddr)
		return permcache.NewRedisCache(cfg.RedisAddr, "", 0, ttl)
	}

	capacity := permcache.DefaultCapacity
	if profile.Cache.Capacity > 0 {
		capacity = profile.Cache.Capacity
	}
	return permcache.NewMemoryCache(capacity, permcache.WithTTL(ttl))
}

// newSkillRegistry wires the scanner-gated registry. Postgres is the
// production store; without DATABASE_URL connectivity it falls back to the
// in-memory store so single-binary development still works.
func newSkillRegistry(ctx context.Context, cfg *config.Config, auditLog audit.Logger, logger *slog.Logger) (*registry.Service, error) {
	scan, err := scanner.NewScanner(scanner.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("scanner: %w", err)
	}

	blobs, err := skillblob.NewStoreFromEnv(ctx)
	if err != nil {
		return nil, fmt.Errorf("skill blob store: %w", err)
	}

	var regStore registry.Store
	pg, err := registry.OpenPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Warn("postgres unavailable, skill registry running in-memory", "error", err)
		regStore = registry.NewMemoryStore()
	} else {
		regStore = pg
	}

	return registry.NewService(regStore, scan,
		registry.WithBlobs(blobs),
		registry.WithAudit(auditLog),
		registry.WithLogger(logger),
	), nil
}

func newSandboxPool(ctx context.Context, profile *config.GovernanceProfile, eps episodes.Recorder, logger *slog.Logger) (*sandbox.Pool, error) {
	blobs, err := skillblob.NewStoreFromEnv(ctx)
	if err != nil {
		return nil, fmt.Errorf("sandbox blob store: %w", err)
	}

	wasiCfg := sandbox.WasiConfig{}
	if profile.Sandbox.MemoryLimitMB > 0 {
		wasiCfg.MemoryLimitBytes = int64(profile.Sandbox.MemoryLimitMB) << 20
	}
	runner, err := sandbox.NewWasiRunner(ctx, blobs, wasiCfg)
	if err != nil {
		return nil, fmt.Errorf("wasi runner: %w", err)
	}

	workers := sandbox.DefaultWorkers
	if profile.Workers.Sandbox > 0 {
		workers = profile.Workers.Sandbox
	}

	opts := []sandbox.PoolOption{sandbox.WithLogger(logger)}
	if profile.Sandbox.TimeoutSeconds > 0 {
		opts = append(opts, sandbox.WithTimeout(profile.Sandbox.Timeout()))
	}
	return sandbox.NewPool(runner, eps, workers, opts...), nil
}
