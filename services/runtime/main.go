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
	"ruche-go/services/runtime/handler"
	"ruche-go/services/runtime/middleware"
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
	if cfg.Service.ID == "" || cfg.Service.PublicURL == "" {
		fmt.Fprintln(os.Stderr, "service.id and service.public_url are required for hosting services")
		os.Exit(1)
	}

	// Initialize ServiceContext (includes logger, actor system, bus, handler)
	svcCtx, err := NewServiceContext(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init service context: %v\n", err)
		os.Exit(1)
	}
	defer svcCtx.Close()

	logger := svcCtx.Logger
	logger.Info("Starting runtime service",
		log.String("name", cfg.Service.Name),
		log.String("service_id", cfg.Service.ID),
		log.String("version", cfg.Service.Version),
	)

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	// Start bus consumption before registration so no delivery races the
	// gateway learning about us.
	if svcCtx.Consumer != nil {
		if err := svcCtx.Consumer.Start(rootCtx); err != nil {
			logger.Fatal("Failed to start bus consumer", log.Err(err))
		}
	}
	svcCtx.Registration.Start(rootCtx)

	// Setup Gin
	if cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Add middlewares
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger))
	router.Use(middleware.Recovery(logger))

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

	// Graceful shutdown: stop taking requests, then drain the actors.
	logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", log.Err(err))
	}
	if err := svcCtx.System.Shutdown(15 * time.Second); err != nil {
		logger.Error("Actor system shutdown incomplete", log.Err(err))
	}
	logger.Info("Server stopped")
}

// RegisterRoutes registers all HTTP routes.
func RegisterRoutes(router *gin.Engine, h *handler.Handler, apiKey string) {
	// Public endpoints
	router.GET("/health", h.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Runtime facade (shared-secret protected)
	rt := router.Group("/runtime", middleware.APIKeyAuth(apiKey))
	rt.POST("/create-actor", h.CreateActor)
	rt.POST("/tell", h.Tell)
	rt.POST("/ask", h.Ask)

	actors := rt.Group("/actors")
	actors.GET("", h.ListActors)
	actors.GET("/:id/health", h.ActorHealth)
	actors.POST("/:id/restart", h.RestartActor)
	actors.DELETE("/:id", h.StopActor)
}
