package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// =============================================================================
// Configuration Types
// =============================================================================

// ServiceConfig configures the service identity.
type ServiceConfig struct {
	Name        string `json:"name" mapstructure:"name"`
	Version     string `json:"version" mapstructure:"version"`
	Environment string `json:"environment" mapstructure:"environment"` // dev, staging, prod
	// ID is the stable service id used for registration; hosting services only.
	ID string `json:"id" mapstructure:"id"`
	// PublicURL is the URL other processes use to reach this service.
	PublicURL string `json:"public_url" mapstructure:"public_url"`
}

// HTTPConfig configures the HTTP server.
type HTTPConfig struct {
	Host         string        `json:"host" mapstructure:"host"`
	Port         int           `json:"port" mapstructure:"port"`
	ReadTimeout  time.Duration `json:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout" mapstructure:"idle_timeout"`
	EnableCORS   bool          `json:"enable_cors" mapstructure:"enable_cors"`
	CORSOrigins  []string      `json:"cors_origins" mapstructure:"cors_origins"`
}

// AuthConfig configures the shared-secret filter.
// An empty APIKey disables the check (dev mode).
type AuthConfig struct {
	APIKey string `json:"api_key" mapstructure:"api_key"`
}

// GatewayConfig configures how hosting services reach the control plane.
type GatewayConfig struct {
	URL            string        `json:"url" mapstructure:"url"`
	ConnectTimeout time.Duration `json:"connect_timeout" mapstructure:"connect_timeout"`
	ReadTimeout    time.Duration `json:"read_timeout" mapstructure:"read_timeout"`
}

// RegistryConfig configures the gateway's registry store.
type RegistryConfig struct {
	Store string      `json:"store" mapstructure:"store"` // memory, redis
	Redis RedisConfig `json:"redis" mapstructure:"redis"`
}

// RedisConfig configures Redis.
type RedisConfig struct {
	Host         string `json:"host" mapstructure:"host"`
	Port         int    `json:"port" mapstructure:"port"`
	Password     string `json:"password" mapstructure:"password"`
	DB           int    `json:"db" mapstructure:"db"`
	PoolSize     int    `json:"pool_size" mapstructure:"pool_size"`
	MinIdleConns int    `json:"min_idle_conns" mapstructure:"min_idle_conns"`
}

// DispatcherConfig configures the actor dispatcher.
type DispatcherConfig struct {
	Workers          int `json:"workers" mapstructure:"workers"`
	ThroughputPerRun int `json:"throughput_per_run" mapstructure:"throughput_per_run"`
	MailboxCapacity  int `json:"mailbox_capacity" mapstructure:"mailbox_capacity"` // 0 = unbounded
}

// BusConfig configures the streaming-bus transport.
type BusConfig struct {
	Type          string   `json:"type" mapstructure:"type"`                     // none, kafka, rabbitmq
	Brokers       []string `json:"brokers" mapstructure:"brokers"`               // kafka bootstrap
	URL           string   `json:"url" mapstructure:"url"`                       // rabbitmq amqp url
	TopicStrategy string   `json:"topic_strategy" mapstructure:"topic_strategy"` // per-actor, shared
	SharedTopic   string   `json:"shared_topic" mapstructure:"shared_topic"`
	ConsumerGroup string   `json:"consumer_group" mapstructure:"consumer_group"`
}

// HealthConfig configures heartbeats and liveness probing.
type HealthConfig struct {
	HeartbeatInterval time.Duration `json:"heartbeat_interval" mapstructure:"heartbeat_interval"`
	ProbeInterval     time.Duration `json:"probe_interval" mapstructure:"probe_interval"`
	ProbeTimeout      time.Duration `json:"probe_timeout" mapstructure:"probe_timeout"`
	DeadThreshold     time.Duration `json:"dead_threshold" mapstructure:"dead_threshold"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level      string `json:"level" mapstructure:"level"`   // debug, info, warn, error
	Format     string `json:"format" mapstructure:"format"` // json, console
	OutputPath string `json:"output_path" mapstructure:"output_path"`
	MaxSize    int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"`
	MaxAge     int    `json:"max_age" mapstructure:"max_age"` // days
}

// Config holds all configuration.
type Config struct {
	Service    ServiceConfig    `json:"service" mapstructure:"service"`
	HTTP       HTTPConfig       `json:"http" mapstructure:"http"`
	Auth       AuthConfig       `json:"auth" mapstructure:"auth"`
	Gateway    GatewayConfig    `json:"gateway" mapstructure:"gateway"`
	Registry   RegistryConfig   `json:"registry" mapstructure:"registry"`
	Dispatcher DispatcherConfig `json:"dispatcher" mapstructure:"dispatcher"`
	Bus        BusConfig        `json:"bus" mapstructure:"bus"`
	Health     HealthConfig     `json:"health" mapstructure:"health"`
	Log        LogConfig        `json:"log" mapstructure:"log"`
}

// =============================================================================
// Configuration Loading
// =============================================================================

// Load loads configuration from files and environment.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/ruche")
	}

	// Read environment variables
	v.SetEnvPrefix("RUCHE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found, use defaults + env vars
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Override with environment variables
	overrideFromEnv(&config)

	return &config, nil
}

// setDefaults sets default values.
func setDefaults(v *viper.Viper) {
	// Service
	v.SetDefault("service.name", "ruche")
	v.SetDefault("service.version", "1.0.0")
	v.SetDefault("service.environment", "dev")

	// HTTP
	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", "30s")
	v.SetDefault("http.write_timeout", "30s")
	v.SetDefault("http.idle_timeout", "120s")
	v.SetDefault("http.enable_cors", true)

	// Gateway client
	v.SetDefault("gateway.url", "http://localhost:8080")
	v.SetDefault("gateway.connect_timeout", "2s")
	v.SetDefault("gateway.read_timeout", "5s")

	// Registry
	v.SetDefault("registry.store", "memory")
	v.SetDefault("registry.redis.host", "localhost")
	v.SetDefault("registry.redis.port", 6379)
	v.SetDefault("registry.redis.db", 0)
	v.SetDefault("registry.redis.pool_size", 100)

	// Dispatcher
	v.SetDefault("dispatcher.workers", 0) // 0 = NumCPU * 2
	v.SetDefault("dispatcher.throughput_per_run", 16)
	v.SetDefault("dispatcher.mailbox_capacity", 0)

	// Bus
	v.SetDefault("bus.type", "none")
	v.SetDefault("bus.topic_strategy", "per-actor")
	v.SetDefault("bus.shared_topic", "actor-messages")
	v.SetDefault("bus.consumer_group", "ruche-runtime")

	// Health
	v.SetDefault("health.heartbeat_interval", "30s")
	v.SetDefault("health.probe_interval", "10s")
	v.SetDefault("health.probe_timeout", "5s")
	v.SetDefault("health.dead_threshold", "60s")

	// Log
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 30)
}

// overrideFromEnv overrides secrets from environment variables.
func overrideFromEnv(config *Config) {
	if key := os.Getenv("RUCHE_API_KEY"); key != "" {
		config.Auth.APIKey = key
	}
	if pw := os.Getenv("RUCHE_REDIS_PASSWORD"); pw != "" {
		config.Registry.Redis.Password = pw
	}
}

// =============================================================================
// Validation
// =============================================================================

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Service.Name == "" {
		return fmt.Errorf("service.name is required")
	}

	if c.HTTP.Port <= 0 {
		return fmt.Errorf("http.port must be positive")
	}

	switch c.Registry.Store {
	case "", "memory":
	case "redis":
		if c.Registry.Redis.Host == "" {
			return fmt.Errorf("registry.redis.host is required for the redis store")
		}
	default:
		return fmt.Errorf("registry.store must be memory or redis, got %q", c.Registry.Store)
	}

	switch c.Bus.Type {
	case "", "none":
	case "kafka":
		if len(c.Bus.Brokers) == 0 {
			return fmt.Errorf("bus.brokers is required for the kafka bus")
		}
	case "rabbitmq":
		if c.Bus.URL == "" {
			return fmt.Errorf("bus.url is required for the rabbitmq bus")
		}
	default:
		return fmt.Errorf("bus.type must be none, kafka or rabbitmq, got %q", c.Bus.Type)
	}

	if c.Bus.TopicStrategy != "per-actor" && c.Bus.TopicStrategy != "shared" {
		return fmt.Errorf("bus.topic_strategy must be per-actor or shared, got %q", c.Bus.TopicStrategy)
	}

	// Heartbeats must be strictly more frequent than the dead threshold,
	// otherwise healthy services flap.
	if c.Health.HeartbeatInterval >= c.Health.DeadThreshold {
		return fmt.Errorf("health.heartbeat_interval must be below health.dead_threshold")
	}
	if c.Health.ProbeTimeout > c.Health.ProbeInterval/2 {
		return fmt.Errorf("health.probe_timeout must be at most half of health.probe_interval")
	}

	return nil
}

// =============================================================================
// Helper Functions
// =============================================================================

// IsDev returns true if in development environment.
func (c *Config) IsDev() bool {
	return c.Service.Environment == "dev" || c.Service.Environment == "development"
}

// IsProd returns true if in production environment.
func (c *Config) IsProd() bool {
	return c.Service.Environment == "prod" || c.Service.Environment == "production"
}

// GetHTTPAddr returns the HTTP listen address.
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// GetRedisAddr returns the Redis address for the registry store.
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Registry.Redis.Host, c.Registry.Redis.Port)
}
