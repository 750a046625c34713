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
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/score-server/internal/api"
	"github.com/score-server/internal/config"
	"github.com/score-server/internal/geoip"
	"github.com/score-server/internal/kafka"
	"github.com/score-server/internal/leaderboard"
	"github.com/score-server/internal/live"
	"github.com/score-server/internal/ranker"
	"github.com/score-server/internal/storage"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := config.Load()
	ctx := context.Background()

	// Initialize PostgreSQL store
	store, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("database not available", slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close()

	// Geolocation resolver for per-country boards
	geo := geoip.NewResolver(cfg.GeoIPServices, cfg.GeoIPCacheSize, logger,
		geoip.WithTimeout(cfg.GeoIPTimeout))

	// In-memory rank trees, one per game and category
	trees := ranker.NewRegistry()

	// Live score feed over websockets
	hub := live.NewHub()
	go hub.Run()

	// Kafka producer for score events (optional, degrades when unreachable)
	producer, err := kafka.NewProducer(cfg.KafkaBrokers)
	if err != nil {
		logger.Warn("kafka producer not available", slog.Any("error", err))
	}
	defer producer.Close()

	publishers := []leaderboard.Publisher{hub}
	if producer.IsEnabled() {
		publishers = append(publishers, producer)
	}

	service := leaderboard.NewService(store, geo, trees, logger, publishers...)

	// Kafka consumer for bulk score imports (optional)
	if producer.IsEnabled() {
		consumer, err := kafka.NewConsumer(cfg.KafkaBrokers, service)
		if err != nil {
			logger.Warn("kafka consumer not available", slog.Any("error", err))
		} else {
			consumer.Start()
			defer consumer.Stop()
		}
	}

	// Set up HTTP router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Game-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		handlers := api.NewHandlers(service, store)
		handlers.RegisterRoutes(r)
	})

	// WebSocket endpoint for the live score feed
	r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		live.ServeWs(hub, w, r)
	})

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server starting", slog.String("port", cfg.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server exited properly")
}
