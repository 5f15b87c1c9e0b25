package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/usefultools/backend/internal/bootstrap"
	"github.com/usefultools/backend/internal/config"
	"github.com/usefultools/backend/internal/handlers"
	"github.com/usefultools/backend/internal/logging"
	"github.com/usefultools/backend/internal/metrics"
	appMiddleware "github.com/usefultools/backend/internal/middleware"
	"github.com/usefultools/backend/internal/services"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()

	logger, err := logging.New(cfg.LogLevel, cfg.Environment)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	stack, err := bootstrap.Open(ctx, cfg, logger, m)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := stack.Close(closeCtx); err != nil {
			logger.Warn("store close", zap.Error(err))
		}
	}()

	trackers := services.NewTrackerRegistry(stack.Profiles, services.RealClock{}, logger)
	defer trackers.Close()
	go trackers.RunEvictor(ctx, cfg.TrackerIdleTTL, cfg.TrackerIdleTTL/2)

	profileHandler := handlers.NewProfileHandler(trackers, logger)
	pregnancyHandler := handlers.NewPregnancyHandler(trackers, services.RealClock{}, logger)

	var authenticate func(http.Handler) http.Handler
	switch {
	case stack.Auth != nil:
		authenticate = appMiddleware.FirebaseAuth(stack.Auth)
		logger.Info("auth: firebase ID tokens")
	case cfg.JWTSecret != "":
		authenticate = appMiddleware.JWTAuth(cfg.JWTSecret)
		logger.Info("auth: HS256 bearer tokens")
	default:
		authenticate = appMiddleware.DenyAll
		logger.Warn("auth: no provider configured, /api is closed")
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(appMiddleware.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Use(authenticate)

		r.Get("/profile", profileHandler.GetProfile)
		r.Put("/profile", profileHandler.UpdateProfile)

		r.Get("/pregnancy", pregnancyHandler.GetPregnancy)
		r.Get("/pregnancy/calendar.ics", pregnancyHandler.GetCalendar)

		r.Get("/baby/age", pregnancyHandler.GetBabyAge)
	})

	srv := &http.Server{
		Addr:              cfg.ServerAddress,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", cfg.ServerAddress), zap.String("backend", cfg.StoreBackend))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}
	return nil
}
