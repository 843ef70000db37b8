package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rs/cors"

	"github.com/prepstack/render-queue/internal/adapters/duckdb"
	"github.com/prepstack/render-queue/internal/adapters/render"
	"github.com/prepstack/render-queue/internal/core/domain"
	"github.com/prepstack/render-queue/internal/core/services"
	"github.com/prepstack/render-queue/pkg/api"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger.Info("starting render queue")

	if err := run(logger); err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Info("shutting down")
		cancel()
	}()

	dbPath := envOr("RENDERQ_DB_PATH", "render-queue.db")
	store, err := duckdb.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to init job store: %w", err)
	}
	defer store.Close()

	backend := render.NewClient(logger, render.Config{
		BaseURLs: map[domain.JobType]string{
			domain.JobTypeDoubt:      envOr("RENDERQ_DOUBT_URL", "http://localhost:8103"),
			domain.JobTypeTopicShort: envOr("RENDERQ_TOPIC_SHORT_URL", "http://localhost:8104"),
			domain.JobTypeDailyCA:    envOr("RENDERQ_DAILY_CA_URL", "http://localhost:8104"),
			domain.JobTypeNotes:      envOr("RENDERQ_NOTES_URL", "http://localhost:8106"),
		},
		RequestTimeout: envDuration("RENDERQ_RENDER_TIMEOUT", 5*time.Minute),
		PollInterval:   envDuration("RENDERQ_POLL_INTERVAL", 5*time.Second),
	})

	bus := services.NewEventBus(logger)
	reaper := services.NewReaper(logger, store)
	dispatcher := services.NewDispatcher(logger, store, backend, reaper, bus,
		envDuration("RENDERQ_TICK", 30*time.Second))
	queue := services.NewQueueService(logger, store, bus)

	apiServer := api.NewServer(logger, queue, dispatcher, bus)

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
	})

	httpServer := &http.Server{
		Addr:    envOr("RENDERQ_ADDR", ":8105"),
		Handler: c.Handler(apiServer.Handler()),
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return dispatcher.Run(gCtx)
	})

	g.Go(func() error {
		logger.Info("starting api server", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
