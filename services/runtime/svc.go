package main

import (
	"fmt"

	"ruche-go/commonlib/actor"
	"ruche-go/commonlib/config"
	"ruche-go/commonlib/log"
	infraactor "ruche-go/infrastructure/actor"
	"ruche-go/infrastructure/transport"
	"ruche-go/services/runtime/biz"
	"ruche-go/services/runtime/handler"
)

// ServiceContext holds all dependencies for the runtime service
type ServiceContext struct {
	Config       *config.Config
	Logger       log.Logger
	Factory      *actor.FactoryTable
	System       *infraactor.LocalSystem
	Bus          transport.BusTransport
	Consumer     *biz.BusConsumer
	Registration *biz.RegistrationClient
	Handler      *handler.Handler
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

	// Actor factory: every hosted type is registered here.
	factory := actor.NewFactoryTable()
	factory.Register("EchoActor", biz.NewEchoActor)

	system := infraactor.NewLocalSystem(infraactor.SystemConfig{
		Name:             cfg.Service.Name,
		ServiceID:        cfg.Service.ID,
		Workers:          cfg.Dispatcher.Workers,
		ThroughputPerRun: cfg.Dispatcher.ThroughputPerRun,
		MailboxCapacity:  cfg.Dispatcher.MailboxCapacity,
		Factory:          factory,
		Logger:           logger,
	})

	// Optional streaming bus
	bus, err := newBus(cfg, logger)
	if err != nil {
		return nil, err
	}
	var consumer *biz.BusConsumer
	if bus != nil {
		consumer = biz.NewBusConsumer(bus, system, logger)
	}

	registration := biz.NewRegistrationClient(biz.RegistrationConfig{
		GatewayURL:          cfg.Gateway.URL,
		ServiceID:           cfg.Service.ID,
		ServiceURL:          cfg.Service.PublicURL,
		SupportedActorTypes: factory.Types(),
		APIKey:              cfg.Auth.APIKey,
		HeartbeatInterval:   cfg.Health.HeartbeatInterval,
		ConnectTimeout:      cfg.Gateway.ConnectTimeout,
		ReadTimeout:         cfg.Gateway.ReadTimeout,
	}, logger)

	h := handler.NewHandler(system, logger)

	return &ServiceContext{
		Config:       cfg,
		Logger:       logger,
		Factory:      factory,
		System:       system,
		Bus:          bus,
		Consumer:     consumer,
		Registration: registration,
		Handler:      h,
	}, nil
}

// newBus builds the configured bus transport, or nil for HTTP-only setups.
func newBus(cfg *config.Config, logger log.Logger) (transport.BusTransport, error) {
	switch cfg.Bus.Type {
	case "", "none":
		return nil, nil
	case "kafka":
		return transport.NewKafkaTransport(transport.KafkaConfig{
			Brokers:       cfg.Bus.Brokers,
			TopicStrategy: transport.TopicStrategy(cfg.Bus.TopicStrategy),
			SharedTopic:   cfg.Bus.SharedTopic,
			ConsumerGroup: cfg.Bus.ConsumerGroup,
		}, logger), nil
	case "rabbitmq":
		return transport.NewRabbitTransport(transport.RabbitConfig{
			URL:           cfg.Bus.URL,
			TopicStrategy: transport.TopicStrategy(cfg.Bus.TopicStrategy),
			SharedTopic:   cfg.Bus.SharedTopic,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown bus type %q", cfg.Bus.Type)
	}
}

// Close closes all resources in the service context
func (ctx *ServiceContext) Close() error {
	ctx.Registration.Stop()
	if ctx.Consumer != nil {
		ctx.Consumer.Stop()
	}
	if ctx.Bus != nil {
		ctx.Bus.Close()
	}
	return nil
}
