package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/af-corp/pplx-bridge/internal/audit"
	"github.com/af-corp/pplx-bridge/internal/auth"
	"github.com/af-corp/pplx-bridge/internal/config"
	"github.com/af-corp/pplx-bridge/internal/gateway"
	"github.com/af-corp/pplx-bridge/internal/httputil"
	"github.com/af-corp/pplx-bridge/internal/policy"
	"github.com/af-corp/pplx-bridge/internal/project"
	"github.com/af-corp/pplx-bridge/internal/ratelimit"
	"github.com/af-corp/pplx-bridge/internal/router"
	"github.com/af-corp/pplx-bridge/internal/sandbox"
	"github.com/af-corp/pplx-bridge/internal/secrets"
	"github.com/af-corp/pplx-bridge/internal/telemetry"
)

var version = "dev"

func main() {
	configDir := flag.String("config", "configs", "path to configuration directory")
	envFile := flag.String("env-file", ".env", "dotenv file loaded before the configuration")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	loader := config.NewLoader(*configDir, logger)
	if err := loader.Load(); err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	cfg := loader.Config()

	logger = newLogger(cfg.Telemetry)
	slog.SetDefault(logger)

	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)
	metrics.SetCatalogSize(len(loader.Models().Models))
	loader.OnReload(func() {
		metrics.SetCatalogSize(len(loader.Models().Models))
	})

	stopWatch, err := loader.Watch()
	if err != nil {
		logger.Warn("failed to start config watcher", "error", err)
	} else {
		defer stopWatch()
	}

	// Connect to Redis
	var scripter redis.Scripter
	if addrs := nonEmpty(cfg.Redis.Addresses); len(addrs) > 0 {
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    addrs,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		defer rdb.Close()
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.Warn("redis not reachable (rate limits fall back to in-process)", "error", err)
		} else {
			logger.Info("redis connected")
		}
		scripter = rdb
	}

	// Connect to PostgreSQL
	var recorder audit.Recorder = audit.Nop{}
	if cfg.Database.Enabled() {
		pool, err := newPool(cfg.Database)
		if err != nil {
			logger.Error("failed to configure database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		if err := pool.Ping(context.Background()); err != nil {
			logger.Warn("database not reachable (command audit writes will fail)", "error", err)
		} else {
			logger.Info("database connected")
		}
		pgRecorder := audit.NewPGRecorder(pool, logger)
		defer pgRecorder.Close()
		recorder = pgRecorder
	}

	// Build provider registry
	registry, err := router.BuildFromConfig(cfg, loader.Providers())
	if err != nil {
		logger.Error("failed to build provider registry", "error", err)
		os.Exit(1)
	}
	for _, p := range registry.Status() {
		logger.Info("provider registered", "provider", p.Name, "configured", p.Configured, "streaming", p.Streaming)
	}

	scanner := secrets.NewScanner()

	var sb *sandbox.Sandbox
	if cfg.Sandbox.Enabled {
		sb, err = newSandbox(cfg.Sandbox, scanner, logger)
		if err != nil {
			logger.Error("failed to set up terminal sandbox", "error", err)
			os.Exit(1)
		}
		logger.Info("terminal sandbox ready", "root", sb.Root(), "commands", sb.Policy().Commands())
	}

	var fileRedactor project.Redactor
	if cfg.Project.RedactSecrets {
		fileRedactor = scanner
	}
	files, err := project.NewReader(cfg.Project, fileRedactor)
	if err != nil {
		logger.Error("failed to open project root", "error", err)
		os.Exit(1)
	}

	handler := gateway.NewHandler(gateway.Deps{
		Config:   cfg,
		Registry: registry,
		Models:   loader.Models,
		Sandbox:  sb,
		Files:    files,
		Audit:    recorder,
		Metrics:  metrics,
		Logger:   logger,
		Version:  version,
	})

	// Router setup
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(httputil.RequestID)
	r.Use(httputil.RequestLogger(logger))
	r.Use(auth.Middleware(cfg.Auth.Secret, auth.DefaultPublicPaths))

	// Public routes
	r.Get("/health", handler.Health)
	r.Get("/models", handler.Models)

	// Authenticated routes
	r.Group(func(r chi.Router) {
		if cfg.RateLimit.Enabled {
			rate, err := ratelimit.ParseRate(cfg.RateLimit.Policy)
			if err != nil {
				logger.Error("invalid rate limit policy", "policy", cfg.RateLimit.Policy, "error", err)
				os.Exit(1)
			}
			r.Use(ratelimit.Middleware(ratelimit.NewLimiter(scripter), rate, metrics))
			logger.Info("rate limiting enabled", "policy", rate.String(), "redis", scripter != nil)
		}
		r.Post("/v1/chat/completions", handler.ChatCompletions)
		r.Get("/v1/models", handler.ListModels)
		r.Get("/ws/chat", handler.ChatSocket)
		r.Get("/project/file", handler.ProjectFile)
		if sb != nil {
			r.Post("/terminal", handler.Terminal)
		}
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	var metricsSrv *http.Server
	if cfg.Telemetry.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Telemetry.MetricsPort),
			Handler:           mux,
			ReadHeaderTimeout: cfg.Server.ReadTimeout,
		}
		go func() {
			logger.Info("metrics listener starting", "addr", metricsSrv.Addr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server error", "error", err)
			}
		}()
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway starting", "addr", addr, "version", version)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	if metricsSrv != nil {
		metricsSrv.Shutdown(ctx)
	}
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	logger.Info("gateway stopped")
}

func newLogger(cfg config.TelemetryConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func newPool(cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	return pgxpool.NewWithConfig(context.Background(), poolCfg)
}

func newSandbox(cfg config.SandboxConfig, scanner *secrets.Scanner, logger *slog.Logger) (*sandbox.Sandbox, error) {
	opts := []sandbox.Option{sandbox.WithLogger(logger)}
	if cfg.RedactSecrets {
		opts = append(opts, sandbox.WithRedactor(scanner))
	}
	if cfg.Policy.Enabled {
		evaluator := policy.NewEvaluator(cfg.Policy)
		if err := evaluator.Load(context.Background()); err != nil {
			return nil, fmt.Errorf("load command policy: %w", err)
		}
		opts = append(opts, sandbox.WithAuthorizer(evaluator))
		logger.Info("command policy loaded", "path", cfg.Policy.BundlePath)
	}
	return sandbox.New(cfg, opts...)
}

func nonEmpty(values []string) []string {
	out := values[:0:0]
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
