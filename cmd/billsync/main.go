package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"billsync/internal/books"
	"billsync/internal/config"
	"billsync/internal/handler"
	"billsync/internal/ingest"
	"billsync/internal/ledger"
	"billsync/internal/model"
	"billsync/internal/mw"
	"billsync/internal/service"
	"billsync/internal/worker"
)

func main() {
	cfg := config.New()

	defaults := model.DefaultSettings()
	defaults.DefaultCurrency = cfg.DefaultCurrency
	defaults.Environment = model.Environment(cfg.Environment)
	if !defaults.Environment.Valid() {
		slog.Error("invalid books environment", "environment", cfg.Environment)
		os.Exit(1)
	}

	var store ledger.Store
	if cfg.DatabaseURI != "" {
		pgStore, err := ledger.NewPostgresStore(cfg.DatabaseURI)
		if err != nil {
			slog.Error("failed to connect to DB", "error", err)
			os.Exit(1)
		}
		defer pgStore.Close()
		store = pgStore
	} else {
		store = ledger.NewMemoryStore()
	}

	profiles, err := ingest.LoadProfiles(cfg.ProfilesPath)
	if err != nil {
		slog.Error("failed to load mapping profiles", "error", err)
		os.Exit(1)
	}

	// Services
	orchestrator := service.NewOrchestrator(store)
	batches := handler.NewBatchStore()
	registry := worker.NewRegistry()

	dial := func(cred books.Credential, env model.Environment) books.API {
		addr := cfg.BooksAddress
		if env == model.EnvSandbox {
			addr = cfg.BooksSandboxAddress
		}
		return books.NewRetrier(books.NewClient(addr, cred))
	}

	// Worker
	runner := worker.NewRunner(registry, orchestrator, dial)

	// Router
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Public routes
	r.Get("/api/health", handler.HealthHandler())
	r.Post("/api/batches", handler.CreateBatchHandler(batches, profiles, defaults))
	r.Post("/api/batches/{id}/files", handler.AddFilesHandler(batches))
	r.Get("/api/batches/{id}", handler.GetBatchHandler(batches))
	r.Post("/api/batches/{id}/dry-run", handler.DryRunHandler(batches, orchestrator))
	r.Get("/api/jobs/{id}", handler.GetJobHandler(registry))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(mw.CredentialMiddleware(cfg.JWTSecret))

		r.Post("/api/batches/{id}/execute", handler.ExecuteBatchHandler(batches, runner))
	})

	srv := &http.Server{
		Addr:         cfg.RunAddress,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	go runner.Start(ctx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	slog.Info("starting server", "addr", cfg.RunAddress)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-quit
	slog.Info("shutting down...")

	cancel() // stop runner
	ctxShut, cancelShut := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShut()

	if err := srv.Shutdown(ctxShut); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}

	slog.Info("server stopped")
}
