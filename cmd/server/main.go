package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"stocktrend/internal/auth"
	"stocktrend/internal/config"
	"stocktrend/internal/db"
	httpapi "stocktrend/internal/http"
	"stocktrend/internal/logging"
	"stocktrend/internal/repository"
	"stocktrend/internal/repository/memory"
	"stocktrend/internal/service"

	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config error", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store service.Store
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL is empty; using the in-memory store, data will not survive a restart")
		store = memory.New()
	} else {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()

		applied, err := db.RunMigrations(ctx, pool)
		if err != nil {
			return err
		}
		if len(applied) > 0 {
			logger.Info("migrations applied", "versions", applied)
		}
		store = repository.New(pool)
	}

	svc := service.New(store, auth.NewTokenIssuer(cfg.JWTSecret, cfg.SessionTTL), logger)
	handler := httpapi.NewHandler(svc, logger, httpapi.Options{
		CookieSecure:       cfg.CookieSecure,
		MaxUploadBytes:     cfg.MaxUploadBytes,
		AllowedOrigins:     cfg.AllowedOrigins,
		AuthRateLimitRPS:   cfg.AuthRateLimitRPS,
		AuthRateLimitBurst: cfg.AuthRateLimitBurst,
	})

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           httpapi.NewRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", "error", err)
			return server.Close()
		}
		logger.Info("server stopped")
		return nil
	})
	return g.Wait()
}
