package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	specpkg "github.com/prettydl/prettydl/api"
	"github.com/prettydl/prettydl/internal/api"
	"github.com/prettydl/prettydl/internal/api/handler"
	"github.com/prettydl/prettydl/internal/auth"
	"github.com/prettydl/prettydl/internal/config"
	"github.com/prettydl/prettydl/internal/download"
	"github.com/prettydl/prettydl/internal/events"
	"github.com/prettydl/prettydl/internal/invite"
	"github.com/prettydl/prettydl/internal/metrics"
	"github.com/prettydl/prettydl/internal/passkey"
	"github.com/prettydl/prettydl/internal/quota"
	"github.com/prettydl/prettydl/internal/settings"
	"github.com/prettydl/prettydl/internal/store"
	"github.com/prettydl/prettydl/internal/sweeper"
	"github.com/prettydl/prettydl/internal/token"
	"github.com/prettydl/prettydl/internal/user"
)

const shutdownTimeout = 15 * time.Second

// backend is a record store that can report its own health.
type backend interface {
	store.Backend
	Ping(ctx context.Context) error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.LogLevel)

	if err := run(cfg); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped gracefully")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	records, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer records.Close()

	src, err := settings.New(settings.Defaults(cfg), cfg.SettingsPath)
	if err != nil {
		return fmt.Errorf("loading settings: %w", err)
	}

	checks := map[string]handler.Pinger{"store": records}

	var refreshStore token.RefreshStore = token.NewMemoryStore()
	if cfg.RefreshStore == "redis" {
		rs, err := token.NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer rs.Close()
		refreshStore = rs
		checks["redis"] = rs
	}

	secret, err := jwtSecret(cfg.JWTSecret)
	if err != nil {
		return err
	}

	m := metrics.New()
	journal := events.NewJournal(records, time.Duration(cfg.EventRetentionDays)*24*time.Hour)
	rec := events.Multi(journal, events.NewLogger(slog.Default()), m)

	users, err := user.NewDirectory(user.NewRepository(records), cfg.BcryptCost)
	if err != nil {
		return err
	}
	tokens := token.NewService(secret, refreshStore, auth.NewAdminLookup(users), src)
	invites := invite.NewService(records, rec)
	passkeys := passkey.NewService(records, users, tokens, src, rec)
	authService := auth.NewService(users, tokens, invites, passkeys, src, rec)
	quotas := quota.NewEngine(users, rec)

	var starter download.Starter = download.DisabledStarter{}
	if cfg.DownloadsEnabled {
		starter = download.LogStarter{Logger: slog.Default()}
	}
	downloads := download.NewService(quotas, starter, rec)

	if _, err := authService.BootstrapAdmin(ctx, cfg.BootstrapUsername, cfg.BootstrapPassword); err != nil {
		return fmt.Errorf("bootstrapping admin: %w", err)
	}

	sweep := sweeper.New(time.Duration(cfg.TokenSweepInterval)*time.Second, sweepTasks(tokens, passkeys, m)...)

	router := api.NewRouter(api.RouterDeps{
		AuthService:  authService,
		Users:        users,
		Quotas:       quotas,
		Invites:      invites,
		Passkeys:     passkeys,
		Downloads:    downloads,
		Events:       journal,
		Settings:     src,
		Metrics:      m,
		HealthChecks: checks,
		Version:      cfg.Version,
		OpenAPISpec:  specpkg.OpenAPISpec,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		journal.Run(gctx)
		return nil
	})
	g.Go(func() error {
		sweep.Start(gctx)
		return nil
	})
	g.Go(func() error {
		slog.Info("starting PrettyDownloader server", "port", cfg.Port, "version", cfg.Version,
			"store", cfg.StoreDriver, "refresh_store", cfg.RefreshStore, "downloads_enabled", cfg.DownloadsEnabled)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config) (backend, error) {
	switch cfg.StoreDriver {
	case "sqlite":
		return store.OpenSQLite(ctx, cfg.SQLitePath)
	case "postgres":
		return store.OpenPostgres(ctx, cfg.DatabaseURL)
	default:
		return store.NewFileBackend(cfg.DataDir)
	}
}

// jwtSecret returns the configured signing key, or a random one when none is
// set. A random key invalidates every session on restart.
func jwtSecret(configured string) ([]byte, error) {
	if configured != "" {
		return []byte(configured), nil
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generating JWT secret: %w", err)
	}
	slog.Warn("JWT_SECRET_KEY is not set; using a random key, sessions will not survive a restart")
	return secret, nil
}

// sweepTasks lists the periodic cleanups. Expired invites are left to
// invite.Service.List.
func sweepTasks(tokens *token.Service, passkeys *passkey.Service, m *metrics.Metrics) []sweeper.Task {
	return []sweeper.Task{
		{Name: "refresh_tokens", Run: func(ctx context.Context) (int, error) {
			n, err := tokens.Sweep(ctx)
			m.TokensSwept(n)
			return n, err
		}},
		{Name: "passkey_challenges", Run: passkeys.SweepChallenges},
	}
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
