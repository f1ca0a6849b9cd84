// Package config loads service configuration from the environment and an
// optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	ShutdownTimeout time.Duration
	LogLevel        string
}

// DatabaseConfig configures the durable session store.
// An empty URL selects the in-memory store.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrateOnStart  bool
}

// RedisConfig configures the session cache and pub/sub notifier.
// An empty URL disables both.
type RedisConfig struct {
	URL                 string
	PoolSize            int
	MinIdleConns        int
	DialTimeout         time.Duration
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	HealthCheckInterval time.Duration
}

// KafkaConfig configures the optional onboarding event sink.
type KafkaConfig struct {
	Brokers     []string
	Topic       string
	CreateTopic bool
}

// RegistrarConfig configures the external entity registration client.
type RegistrarConfig struct {
	BaseURL     string
	Timeout     time.Duration
	MaxAttempts int
	BaseDelay   time.Duration
}

// WorkflowConfig tunes the onboarding run loop and state store.
type WorkflowConfig struct {
	MaxSteps       int
	CacheTTL       time.Duration
	EventBuffer    int
	BreakerFailure int
	BreakerCool    time.Duration
}

// Config is the full service configuration.
type Config struct {
	Server    Server
	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Registrar RegistrarConfig
	Workflow  WorkflowConfig
}

// env mirrors the flat environment keys.
type env struct {
	Addr            string        `mapstructure:"ONBOARDING_ADDR"`
	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`
	LogLevel        string        `mapstructure:"LOG_LEVEL"`

	DatabaseURL     string        `mapstructure:"DATABASE_URL"`
	DBMaxOpenConns  int           `mapstructure:"DB_MAX_OPEN_CONNS"`
	DBMaxIdleConns  int           `mapstructure:"DB_MAX_IDLE_CONNS"`
	DBConnLifetime  time.Duration `mapstructure:"DB_CONN_MAX_LIFETIME"`
	DBMigrateOnBoot bool          `mapstructure:"DB_MIGRATE_ON_START"`

	RedisURL          string        `mapstructure:"REDIS_URL"`
	RedisPoolSize     int           `mapstructure:"REDIS_POOL_SIZE"`
	RedisMinIdle      int           `mapstructure:"REDIS_MIN_IDLE_CONNS"`
	RedisDialTimeout  time.Duration `mapstructure:"REDIS_DIAL_TIMEOUT"`
	RedisReadTimeout  time.Duration `mapstructure:"REDIS_READ_TIMEOUT"`
	RedisWriteTimeout time.Duration `mapstructure:"REDIS_WRITE_TIMEOUT"`
	RedisHealthEvery  time.Duration `mapstructure:"REDIS_HEALTH_CHECK_INTERVAL"`

	KafkaBrokers     string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic       string `mapstructure:"KAFKA_TOPIC"`
	KafkaCreateTopic bool   `mapstructure:"KAFKA_CREATE_TOPIC"`

	RegistrarURL       string        `mapstructure:"REGISTRAR_URL"`
	RegistrarTimeout   time.Duration `mapstructure:"REGISTRAR_TIMEOUT"`
	RegistrarAttempts  int           `mapstructure:"REGISTRAR_MAX_ATTEMPTS"`
	RegistrarBaseDelay time.Duration `mapstructure:"REGISTRAR_BASE_DELAY"`

	MaxSteps       int           `mapstructure:"WORKFLOW_MAX_STEPS"`
	CacheTTL       time.Duration `mapstructure:"SESSION_CACHE_TTL"`
	EventBuffer    int           `mapstructure:"EVENT_BUFFER_SIZE"`
	BreakerFailure int           `mapstructure:"EVENT_BREAKER_THRESHOLD"`
	BreakerCool    time.Duration `mapstructure:"EVENT_BREAKER_COOLDOWN"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ONBOARDING_ADDR", ":8080")
	v.SetDefault("SHUTDOWN_TIMEOUT", "10s")
	v.SetDefault("LOG_LEVEL", "info")

	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_CONN_MAX_LIFETIME", "30m")
	v.SetDefault("DB_MIGRATE_ON_START", true)

	v.SetDefault("REDIS_URL", "")
	v.SetDefault("REDIS_POOL_SIZE", 10)
	v.SetDefault("REDIS_MIN_IDLE_CONNS", 2)
	v.SetDefault("REDIS_DIAL_TIMEOUT", "5s")
	v.SetDefault("REDIS_READ_TIMEOUT", "5s")
	v.SetDefault("REDIS_WRITE_TIMEOUT", "5s")
	v.SetDefault("REDIS_HEALTH_CHECK_INTERVAL", "30s")

	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_TOPIC", "onboarding.events")
	v.SetDefault("KAFKA_CREATE_TOPIC", false)

	v.SetDefault("REGISTRAR_URL", "http://localhost:8000")
	v.SetDefault("REGISTRAR_TIMEOUT", "30s")
	v.SetDefault("REGISTRAR_MAX_ATTEMPTS", 3)
	v.SetDefault("REGISTRAR_BASE_DELAY", "1s")

	v.SetDefault("WORKFLOW_MAX_STEPS", 50)
	v.SetDefault("SESSION_CACHE_TTL", "1h")
	v.SetDefault("EVENT_BUFFER_SIZE", 256)
	v.SetDefault("EVENT_BREAKER_THRESHOLD", 5)
	v.SetDefault("EVENT_BREAKER_COOLDOWN", "1m")
}

// Load reads .env (if present), then builds and validates Config from the
// environment. Environment variables override .env values.
func Load() (*Config, error) {
	return load(".env")
}

func load(envFile string) (*Config, error) {
	v := viper.New()
	if envFile != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		_ = v.ReadInConfig() // a missing file is fine
	}
	v.AutomaticEnv()
	setDefaults(v)

	var e env
	if err := v.Unmarshal(&e); err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: Server{
			Addr:            e.Addr,
			ShutdownTimeout: e.ShutdownTimeout,
			LogLevel:        e.LogLevel,
		},
		Database: DatabaseConfig{
			URL:             e.DatabaseURL,
			MaxOpenConns:    e.DBMaxOpenConns,
			MaxIdleConns:    e.DBMaxIdleConns,
			ConnMaxLifetime: e.DBConnLifetime,
			MigrateOnStart:  e.DBMigrateOnBoot,
		},
		Redis: RedisConfig{
			URL:                 e.RedisURL,
			PoolSize:            e.RedisPoolSize,
			MinIdleConns:        e.RedisMinIdle,
			DialTimeout:         e.RedisDialTimeout,
			ReadTimeout:         e.RedisReadTimeout,
			WriteTimeout:        e.RedisWriteTimeout,
			HealthCheckInterval: e.RedisHealthEvery,
		},
		Kafka: KafkaConfig{
			Brokers:     splitList(e.KafkaBrokers),
			Topic:       e.KafkaTopic,
			CreateTopic: e.KafkaCreateTopic,
		},
		Registrar: RegistrarConfig{
			BaseURL:     strings.TrimRight(e.RegistrarURL, "/"),
			Timeout:     e.RegistrarTimeout,
			MaxAttempts: e.RegistrarAttempts,
			BaseDelay:   e.RegistrarBaseDelay,
		},
		Workflow: WorkflowConfig{
			MaxSteps:       e.MaxSteps,
			CacheTTL:       e.CacheTTL,
			EventBuffer:    e.EventBuffer,
			BreakerFailure: e.BreakerFailure,
			BreakerCool:    e.BreakerCool,
		},
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Addr == "" {
		return errors.New("config: ONBOARDING_ADDR must be set")
	}
	if c.Workflow.MaxSteps < 1 {
		return errors.New("config: WORKFLOW_MAX_STEPS must be positive")
	}
	if c.Registrar.MaxAttempts < 1 {
		return errors.New("config: REGISTRAR_MAX_ATTEMPTS must be at least 1")
	}
	if c.Registrar.Timeout <= 0 {
		return errors.New("config: REGISTRAR_TIMEOUT must be positive")
	}
	if c.Workflow.CacheTTL <= 0 {
		return errors.New("config: SESSION_CACHE_TTL must be positive")
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return errors.New("config: KAFKA_TOPIC must be set when KAFKA_BROKERS is")
	}
	return nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
