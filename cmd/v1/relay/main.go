package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/bytetogether/relay/internal/v1/auth"
	"github.com/bytetogether/relay/internal/v1/config"
	"github.com/bytetogether/relay/internal/v1/docsync"
	"github.com/bytetogether/relay/internal/v1/health"
	"github.com/bytetogether/relay/internal/v1/logging"
	"github.com/bytetogether/relay/internal/v1/middleware"
	"github.com/bytetogether/relay/internal/v1/ratelimit"
	"github.com/bytetogether/relay/internal/v1/tracing"
	"github.com/bytetogether/relay/internal/v1/transport"
)

func main() {
	// Load .env file for local development.
	// Try multiple paths to handle different ways of running the app
	envPaths := []string{".env", "../../../.env", "../../.env"}
	var envLoaded bool

	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			slog.Info("Loaded environment from", "path", path)
			envLoaded = true
			break
		}
	}

	if !envLoaded {
		slog.Warn("No .env file found in any expected location, relying on environment variables")
	}

	// Validate environment variables before starting the server
	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("Environment validation failed", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}

	if cfg.DevelopmentMode {
		slog.Info("Running in DEVELOPMENT MODE")
	}

	// --- Tracing (Optional) ---
	// Enabled only when a collector address is configured.
	if cfg.OtelCollectorAddr != "" {
		tp, err := tracing.InitTracer(context.Background(), "collab-relay", cfg.OtelCollectorAddr)
		if err != nil {
			slog.Error("Failed to initialize tracing, continuing without it", "error", err)
		} else {
			slog.Info("✅ Tracing initialized", "collector", cfg.OtelCollectorAddr)
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := tp.Shutdown(shutdownCtx); err != nil {
					slog.Error("Error shutting down tracer provider", "error", err)
				}
			}()
		}
	}

	// --- Admission Dependencies ---
	origins := auth.ParseAllowedOrigins(cfg.AllowedOrigins, []string{"http://localhost:3000"})
	slog.Info("✅ Origin allow-list configured", "origins", origins.List())

	var rateLimiter *ratelimit.Limiter
	if cfg.DevelopmentMode {
		slog.Warn("⚠️  Development Mode: WS upgrade rate limiting disabled")
	} else {
		rateLimiter, err = ratelimit.NewLimiter(cfg)
		if err != nil {
			slog.Error("Failed to create rate limiter", "error", err)
			os.Exit(1)
		}
	}

	// --- Hub with Dependencies ---
	engine := docsync.NewEngine()
	hub := transport.NewHub(cfg, engine, origins, rateLimiter)

	// --- Set up Server ---
	router := gin.Default()
	// Cors
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = origins.List()
	router.Use(cors.New(corsConfig))

	// Correlation IDs and tracing spans for every request
	router.Use(middleware.CorrelationID())
	if cfg.OtelCollectorAddr != "" {
		router.Use(otelgin.Middleware("collab-relay"))
	}

	// Error handling
	router.Use(gin.Recovery())

	// Routing: the whole relay protocol rides one WebSocket endpoint
	router.GET(cfg.RelayPath, hub.ServeWs)

	// Prometheus metrics endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check endpoints
	healthHandler := health.NewHandler(hub)
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)

	// Start the server.
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// --- Graceful Shutdown ---
	// Start the server in a goroutine so it doesn't block.
	go func() {
		slog.Info("Relay server starting", "port", cfg.Port, "path", cfg.RelayPath)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Failed to run server", "error", err)
			syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	// Wait for an interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	// The context is used to inform the server it has 30 seconds to finish
	// the requests it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Close all active rooms and WebSocket connections gracefully
	if err := hub.Shutdown(ctx); err != nil {
		slog.Error("Error during Hub shutdown:", "error", err)
	}

	// Shutdown HTTP server
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown:", "error", err)
	}

	slog.Info("Server exiting")
}
