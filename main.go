package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nanoassist/dashboard/internal/config"
	"github.com/nanoassist/dashboard/internal/handler"
	"github.com/nanoassist/dashboard/internal/instrument"
	"github.com/nanoassist/dashboard/internal/logging"
	"github.com/nanoassist/dashboard/internal/realtime"
	"github.com/nanoassist/dashboard/internal/repository"
	"github.com/nanoassist/dashboard/internal/service"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger, logCloser := logging.New(logging.Options{Level: cfg.Level(), File: cfg.LogFile})
	defer logCloser.Close()
	slog.SetDefault(logger)

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := instrument.New()
	broker := realtime.NewBroker(realtime.WithMetrics(metrics))
	defer broker.Close()

	db, err := repository.Open(ctx, repository.Options{
		Path:      cfg.DatabasePath,
		URL:       cfg.DatabaseURL,
		Publisher: broker,
	})
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database migrations applied", "postgres", cfg.Postgres())

	go func() {
		if err := db.Listen(ctx); err != nil {
			slog.Error("change listener stopped", "error", err)
		}
	}()

	loc := cfg.Location()
	authService := service.NewAuthService(db.Users, db.Profiles, cfg.JWTSecret, cfg.BcryptCost)
	profileService := service.NewProfileService(db.Profiles, metrics)
	chartService := service.NewChartService(db.Recordings, db.Metrics,
		service.WithLocation(loc), service.WithChartMetrics(metrics))
	dashboardService := service.NewDashboardService(db.Metrics)
	recordingService := service.NewRecordingService(db.Recordings, loc)

	if cfg.AdminEmail != "" {
		if err := authService.SeedAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword, cfg.AdminStores); err != nil {
			slog.Error("failed to seed admin account", "error", err)
			os.Exit(1)
		}
		slog.Info("admin account ready", "email", cfg.AdminEmail)
	}

	var limiter *service.TokenBucket
	if cfg.LoginRate > 0 {
		limiter = service.NewTokenBucket(cfg.LoginRate/60, cfg.LoginBurst, nil)
	}
	if len(cfg.IngestAPIKeys) == 0 {
		slog.Warn("INGEST_API_KEYS is empty; ingest endpoints will reject every request")
	}

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux, handler.Services{
		Auth:         authService,
		Profiles:     profileService,
		Charts:       chartService,
		Dashboard:    dashboardService,
		Recordings:   recordingService,
		Feed:         broker,
		DB:           db,
		LoginLimiter: limiter,
		Metrics:      metrics,
		IngestKeys:   cfg.IngestAPIKeys,
		CookieSecure: cfg.CookieSecure,
		Debounce:     cfg.RefetchDebounce,
		Location:     loc,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler.Stack(mux, metrics),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		slog.Info("server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	slog.Info("server stopped")
}
