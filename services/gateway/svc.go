package main

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"ruche-go/commonlib/actor"
	"ruche-go/commonlib/config"
	"ruche-go/commonlib/log"
	"ruche-go/infrastructure/transport"
	"ruche-go/services/gateway/biz"
	"ruche-go/services/gateway/handler"
)

// ServiceContext holds all dependencies for the gateway service
type ServiceContext struct {
	Config  *config.Config
	Logger  log.Logger
	Store   biz.Store
	Monitor *biz.HealthMonitor
	Service *biz.GatewayService
	Handler *handler.Handler

	forwarder *transport.HTTPTransport
}

// NewServiceContext creates a new service context with all dependencies initialized
func NewServiceContext(cfg *config.Config) (*ServiceContext, error) {
	// Initialize logger
	if err := log.Init(log.LogConfig{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		OutputPath: cfg.Log.OutputPath,
		AddCaller:  true,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   true,
	}); err != nil {
		return nil, err
	}
	logger := log.Default()

	// Registry store
	store, err := newStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	events := actor.NewEventBus()

	monitor := biz.NewHealthMonitor(store, events, logger, biz.HealthMonitorConfig{
		ProbeInterval: cfg.Health.ProbeInterval,
		ProbeTimeout:  cfg.Health.ProbeTimeout,
		DeadThreshold: cfg.Health.DeadThreshold,
	})

	// Forwarder to hosting services
	forwarder := transport.NewHTTPTransport(transport.HTTPTransportConfig{
		APIKey:         cfg.Auth.APIKey,
		ConnectTimeout: cfg.Gateway.ConnectTimeout,
		ReadTimeout:    cfg.Gateway.ReadTimeout,
	})

	svc := biz.NewGatewayService(store, monitor, events, forwarder, logger)
	h := handler.NewHandler(svc, logger)

	return &ServiceContext{
		Config:    cfg,
		Logger:    logger,
		Store:     store,
		Monitor:   monitor,
		Service:   svc,
		Handler:   h,
		forwarder: forwarder,
	}, nil
}

// newStore builds the configured registry store.
func newStore(cfg *config.Config, logger log.Logger) (biz.Store, error) {
	switch cfg.Registry.Store {
	case "", "memory":
		return biz.NewMemoryStore(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:         cfg.GetRedisAddr(),
			Password:     cfg.Registry.Redis.Password,
			DB:           cfg.Registry.Redis.DB,
			PoolSize:     cfg.Registry.Redis.PoolSize,
			MinIdleConns: cfg.Registry.Redis.MinIdleConns,
		})
		return biz.NewRedisStore(client, logger), nil
	default:
		return nil, fmt.Errorf("unknown registry store %q", cfg.Registry.Store)
	}
}

// Close closes all resources in the service context
func (ctx *ServiceContext) Close() error {
	ctx.Monitor.Stop()
	if ctx.forwarder != nil {
		ctx.forwarder.Close()
	}
	if ctx.Store != nil {
		return ctx.Store.Close()
	}
	return nil
}
