package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/osobh/parley/internal/v1/bus"
	"github.com/osobh/parley/internal/v1/config"
	"github.com/osobh/parley/internal/v1/health"
	"github.com/osobh/parley/internal/v1/logging"
	"github.com/osobh/parley/internal/v1/middleware"
	"github.com/osobh/parley/internal/v1/ratelimit"
	"github.com/osobh/parley/internal/v1/room"
	"github.com/osobh/parley/internal/v1/session"
	"github.com/osobh/parley/internal/v1/store"
	"github.com/osobh/parley/internal/v1/tracing"
)

func main() {
	// Load .env for local development. Try multiple paths to handle
	// different ways of running the binary.
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
	var tracerProvider *sdktrace.TracerProvider
	if cfg.OtelCollectorAddr != "" {
		tracerProvider, err = tracing.InitTracer(context.Background(), "parley", cfg.OtelCollectorAddr)
		if err != nil {
			slog.Error("Failed to initialize tracing, continuing without it", "error", err)
			tracerProvider = nil
		} else {
			slog.Info("OpenTelemetry tracing initialized", "collector", cfg.OtelCollectorAddr)
		}
	}

	// --- Federation Bus (Optional) ---
	// With Redis enabled, chat messages replicate to every node that
	// hosts the same room. Without it the node runs standalone.
	var redisBus *bus.RedisBus
	var federation bus.Bus
	if cfg.RedisEnabled {
		redisBus, err = bus.NewRedisBus(cfg.RedisAddr, cfg.RedisPassword, cfg.BusChannel)
		if err != nil {
			slog.Error("Failed to connect to Redis, running in single-node mode", "error", err)
			redisBus = nil
		} else {
			federation = redisBus
			slog.Info("Redis pub/sub initialized for federation", "addr", cfg.RedisAddr, "channel", cfg.BusChannel)
		}
	} else {
		slog.Info("Running in single-node mode (Redis disabled)")
	}

	// --- Rate Limiter ---
	limiter, err := ratelimit.NewRateLimiter(cfg, redisBus.Client())
	if err != nil {
		slog.Error("Failed to initialize rate limiter", "error", err)
		os.Exit(1)
	}

	// --- Room Manager and Session Server ---
	rootCtx := context.Background()
	rooms := room.NewManager(room.ManagerOptions{
		ServerID:    cfg.ServerID,
		Repo:        store.NewMemory(),
		Bus:         federation,
		SeenIDLimit: cfg.SeenIDLimit,
	})
	server := session.NewServer(rootCtx, cfg, rooms, limiter)

	// --- HTTP Server ---
	if !cfg.DevelopmentMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = allowedOrigins(cfg.AllowedOrigins)
	router.Use(cors.New(corsConfig))
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	if tracerProvider != nil {
		router.Use(otelgin.Middleware("parley"))
	}

	router.GET("/ws", server.ServeWs)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	healthHandler := health.NewHandler(federation)
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// --- Graceful Shutdown ---
	go func() {
		slog.Info("Conference server starting", "port", cfg.Port, "server_id", cfg.ServerID)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Failed to run server", "error", err)
			syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Drain all rooms and close their connections before the listener.
	rooms.ShutdownAll(ctx)

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown:", "error", err)
	}

	if tracerProvider != nil {
		if err := tracerProvider.Shutdown(ctx); err != nil {
			slog.Error("Failed to shut down tracer provider:", "error", err)
		}
	}

	if redisBus != nil {
		if err := redisBus.Close(); err != nil {
			slog.Error("Failed to close Redis connection:", "error", err)
		} else {
			slog.Info("Redis connection closed")
		}
	}

	slog.Info("Server exiting")
}

func allowedOrigins(raw string) []string {
	if raw == "" {
		return []string{"http://localhost:3000"}
	}
	if raw == "*" {
		return []string{"*"}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
