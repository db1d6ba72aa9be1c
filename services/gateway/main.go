package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ruche-go/commonlib/config"
	"ruche-go/commonlib/log"
	"ruche-go/services/gateway/handler"
	"ruche-go/services/gateway/middleware"
)

func main() {
	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	// Initialize ServiceContext (includes logger, store, monitor, handler)
	svcCtx, err := NewServiceContext(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init service context: %v\n", err)
		os.Exit(1)
	}
	defer svcCtx.Close()

	logger := svcCtx.Logger
	logger.Info("Starting gateway service",
		log.String("name", cfg.Service.Name),
		log.String("version", cfg.Service.Version),
	)

	// Start the health monitor
	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	defer stopMonitor()
	svcCtx.Monitor.Start(monitorCtx)

	// Setup Gin
	if cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Add middlewares
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger))
	router.Use(middleware.Recovery(logger))
	if cfg.HTTP.EnableCORS {
		router.Use(middleware.CORS(cfg.HTTP.CORSOrigins))
	}

	// Register routes
	RegisterRoutes(router, svcCtx.Handler, cfg.Auth.APIKey)

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.GetHTTPAddr(),
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("HTTP server started", log.String("addr", cfg.GetHTTPAddr()))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", log.Err(err))
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// Graceful shutdown
	logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", log.Err(err))
	}
	logger.Info("Server stopped")
}

// RegisterRoutes registers all HTTP routes.
func RegisterRoutes(router *gin.Engine, h *handler.Handler, apiKey string) {
	// Public endpoints
	router.GET("/health", h.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (shared-secret protected)
	v1 := router.Group("/api/v1", middleware.APIKeyAuth(apiKey))

	// Actor routes
	{
		actors := v1.Group("/actors")
		actors.POST("", h.CreateActor)
		actors.GET("", h.ListActors)
		actors.GET("/by-service/:serviceId", h.ListActorsByService)
		actors.GET("/:id", h.GetActor)
		actors.DELETE("/:id", h.DeleteActor)
		actors.POST("/:id/tell", h.Tell)
	}

	// Service routes
	{
		services := v1.Group("/services")
		services.GET("", h.ListServices)
		services.POST("/register", h.RegisterService)
		services.POST("/heartbeat", h.Heartbeat)
	}

	// Lifecycle event feed
	v1.GET("/events/ws", h.EventsFeed)
}
