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

	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/assets"
	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/auth"
	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/cache"
	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/config"
	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/game"
	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/health"
	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/httpapi"
	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/logging"
	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/middleware"
	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/ratelimit"
	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/store"
	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/tracing"
	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/transport"
)

const serviceName = "api-game"

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

	developmentMode := cfg.GoEnv == "development"
	if developmentMode {
		slog.Info("Running in DEVELOPMENT MODE")
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := logging.Initialize(developmentMode); err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}

	// --- Tracing (Optional) ---
	var tracerShutdown func(context.Context) error
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(context.Background(), serviceName, cfg.GoEnv, cfg.OTelCollectorAddr)
		if err != nil {
			slog.Error("Failed to initialize tracing", "error", err)
			os.Exit(1)
		}
		tracerShutdown = tp.Shutdown
		slog.Info("✅ Tracing initialized", "collector", cfg.OTelCollectorAddr)
	}

	// --- Document Store ---
	dbStore, err := store.New(context.Background(), cfg.DatabaseDSN())
	if err != nil {
		slog.Error("Failed to connect to document store", "error", err)
		os.Exit(1)
	}
	if err := dbStore.Migrate(context.Background()); err != nil {
		slog.Error("Failed to run store migrations", "error", err)
		os.Exit(1)
	}

	// --- Redis Cache Initialization (Optional) ---
	// The cache is strictly a read accelerator; the service degrades to
	// store-only reads when Redis is missing or down.
	var cacheService *cache.Service
	if cfg.RedisEnabled {
		cacheService, err = cache.NewService(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			slog.Error("Failed to connect to Redis, running store-only", "error", err)
			cacheService = nil
		} else {
			slog.Info("✅ Redis cache initialized", "addr", cfg.RedisAddr)
		}
	} else {
		slog.Info("Running without Redis cache (REDIS_ENABLED != true)")
	}

	// Rate limiter shares the cache's Redis connection; with no Redis it
	// falls back to a per-process memory store.
	rateLimiter, err := ratelimit.NewRateLimiter(cfg, cacheService.Client())
	if err != nil {
		slog.Error("Failed to configure rate limiter", "error", err)
		os.Exit(1)
	}

	// --- Game Services ---
	roomService := game.NewRoomService(dbStore, cacheService)
	logService := game.NewAdventureLogService(dbStore, cfg.MaxAdventureLogs)
	mapService := game.NewMapService(dbStore, dbStore, cacheService)

	// Asset URL refresh is optional; keep the interface nil when disabled so
	// the dispatcher's nil check short-circuits.
	var refresher game.AudioURLRefresher
	if client := assets.New(cfg.APISiteBaseURL, cfg.PresignedURLExpiry()); client != nil {
		refresher = client
		slog.Info("✅ Asset URL refresh enabled", "base_url", cfg.APISiteBaseURL)
	} else {
		slog.Info("Asset URL refresh disabled (API_SITE_BASE_URL not set)")
	}

	dispatcher := game.NewDispatcher(roomService, mapService, logService, refresher)

	// --- WebSocket Edge ---
	manager := transport.NewConnectionManager(dispatcher, cfg.ReconnectGrace())
	allowedOrigins := auth.GetAllowedOriginsFromEnv("ALLOWED_ORIGINS", []string{"http://localhost:3000"})
	hub := transport.NewHub(manager, dispatcher, roomService, rateLimiter, allowedOrigins)

	// --- Control Plane ---
	serviceTokens := auth.NewServiceTokenValidator(cfg.SessionControlSecret)
	if serviceTokens == nil {
		slog.Warn("⚠️ Session control plane is UNGUARDED (SESSION_CONTROL_SECRET not set) - DO NOT USE IN PRODUCTION")
	}
	apiHandler := httpapi.NewHandler(roomService, mapService, logService, manager)

	// --- Set up Server ---
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())

	// Cors
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = allowedOrigins
	router.Use(cors.New(corsConfig))

	// Probe and scrape endpoints register before tracing and rate limiting
	// so kubelet and Prometheus traffic never shows up in either.
	health.NewHandler(dbStore, cacheService).Register(router)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if cfg.TracingEnabled {
		router.Use(otelgin.Middleware(serviceName))
	}
	router.Use(rateLimiter.GlobalMiddleware())

	// Routing
	wsGroup := router.Group("/ws")
	{
		wsGroup.GET("/:roomId", hub.ServeWs)
	}

	apiGroup := router.Group("/", rateLimiter.RoomsMiddleware())
	apiHandler.Register(apiGroup, serviceTokens)

	// Start the server.
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// --- Graceful Shutdown ---
	// Start the server in a goroutine so it doesn't block.
	go func() {
		slog.Info("Game room server starting", "port", cfg.Port)
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

	// Close all live WebSocket connections with a shutdown close frame.
	hub.Shutdown(ctx)

	// Shutdown HTTP server
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown:", "error", err)
	}

	// Close Redis connection if it was initialized
	if cacheService != nil {
		if err := cacheService.Close(); err != nil {
			slog.Error("Failed to close Redis connection:", "error", err)
		} else {
			slog.Info("Redis connection closed")
		}
	}

	dbStore.Close()
	slog.Info("Document store connection closed")

	// Flush buffered spans last so shutdown itself stays traceable.
	if tracerShutdown != nil {
		if err := tracerShutdown(ctx); err != nil {
			slog.Error("Failed to flush tracer:", "error", err)
		}
	}

	slog.Info("Server exiting")
}
