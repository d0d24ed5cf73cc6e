package domain

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines backing-service selection
	Tier Tier `json:"tier" env:"KESTREL_TIER"`

	// Trust engine hyperparameters
	Engine EngineConfig `json:"engine"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Account and session settings
	Auth AuthConfig `json:"auth"`
	Mail MailConfig `json:"mail"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// EngineConfig holds the behavioral trust engine hyperparameters.
// These were literals in early prototypes; keeping them injected means
// deployments can tune sensitivity without a rebuild.
type EngineConfig struct {
	// Contamination is the expected anomaly fraction in training data.
	Contamination float64 `json:"contamination" env:"KESTREL_CONTAMINATION"`

	// RandomSeed makes detector fits reproducible.
	RandomSeed int64 `json:"randomSeed" env:"KESTREL_RANDOM_SEED"`

	// TrustThreshold is the trust-score cutoff in [0,100] below which
	// behavior is flagged anomalous.
	TrustThreshold float64 `json:"trustThreshold" env:"KESTREL_TRUST_THRESHOLD"`

	// MinTrainingSamples rejects training batches too small to fit a
	// meaningful detector.
	MinTrainingSamples int `json:"minTrainingSamples" env:"KESTREL_MIN_TRAINING_SAMPLES"`

	// Trees and SubsampleSize shape the isolation ensemble.
	Trees         int `json:"trees" env:"KESTREL_TREES"`
	SubsampleSize int `json:"subsampleSize" env:"KESTREL_SUBSAMPLE_SIZE"`

	// FailClosed treats users without a published baseline as untrusted
	// (trust 0, anomalous) instead of the default fail-open (trust 100).
	// Fail-open favors usability: a brand-new user is never locked out
	// before a baseline exists. Fail-closed favors security. Product
	// call, so it is a switch rather than a constant.
	FailClosed bool `json:"failClosed" env:"KESTREL_FAIL_CLOSED"`
}

// AuthConfig holds account and session settings.
type AuthConfig struct {
	// JWTSecret signs session tokens (HS256).
	JWTSecret string `json:"-" env:"KESTREL_JWT_SECRET"`

	TokenTTL       time.Duration `json:"tokenTTL" env:"KESTREL_TOKEN_TTL"`
	OTPExpiry      time.Duration `json:"otpExpiry" env:"KESTREL_OTP_EXPIRY"`
	SessionTimeout time.Duration `json:"sessionTimeout" env:"KESTREL_SESSION_TIMEOUT"`

	// MaxLoginAttempts per OTP window before login is throttled.
	MaxLoginAttempts int `json:"maxLoginAttempts" env:"KESTREL_MAX_LOGIN_ATTEMPTS"`
}

// MailConfig holds SMTP settings for OTP and alert delivery.
type MailConfig struct {
	Enabled  bool   `json:"enabled" env:"KESTREL_MAIL_ENABLED"`
	Host     string `json:"host" env:"KESTREL_MAIL_HOST"`
	Port     int    `json:"port" env:"KESTREL_MAIL_PORT"`
	Username string `json:"username" env:"KESTREL_MAIL_USERNAME"`
	Password string `json:"-" env:"KESTREL_MAIL_PASSWORD"`
	From     string `json:"from" env:"KESTREL_MAIL_FROM"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" env:"KESTREL_HOST"`
	Port         int    `json:"port" env:"KESTREL_PORT"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" env:"KESTREL_LOG_LEVEL"`
	Format string `json:"format" env:"KESTREL_LOG_FORMAT"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" env:"KESTREL_TRACING_ENABLED"`
	ServiceName string `json:"serviceName"`
	Endpoint    string `json:"endpoint" env:"KESTREL_TRACING_ENDPOINT"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite + in-memory cache + channel bus.
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + Redis + NATS.
	TierPro Tier = "pro"
)

// DefaultConfig returns a Community tier configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Engine: EngineConfig{
			Contamination:      0.1,
			RandomSeed:         42,
			TrustThreshold:     70,
			MinTrainingSamples: 20,
			Trees:              100,
			SubsampleSize:      256,
			FailClosed:         false,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Auth: AuthConfig{
			TokenTTL:         12 * time.Hour,
			OTPExpiry:        5 * time.Minute,
			SessionTimeout:   30 * time.Minute,
			MaxLoginAttempts: 5,
		},
		Mail: MailConfig{
			Enabled: false,
			Host:    "smtp.gmail.com",
			Port:    587,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ProConfig returns a Pro tier configuration.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       5 * time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}

// LoadConfig builds the configuration for the current environment:
// tier defaults overlaid with KESTREL_* environment variables.
func LoadConfig() (*Config, error) {
	var probe struct {
		Tier Tier `env:"KESTREL_TIER"`
	}
	if err := env.Parse(&probe); err != nil {
		return nil, fmt.Errorf("failed to read tier from environment: %w", err)
	}

	cfg := DefaultConfig()
	if probe.Tier == TierPro {
		cfg = ProConfig()
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment config: %w", err)
	}

	if cfg.Engine.TrustThreshold < 0 || cfg.Engine.TrustThreshold > 100 {
		return nil, fmt.Errorf("trust threshold must be in [0,100], got %v", cfg.Engine.TrustThreshold)
	}
	if cfg.Engine.Contamination <= 0 || cfg.Engine.Contamination >= 0.5 {
		return nil, fmt.Errorf("contamination must be in (0,0.5), got %v", cfg.Engine.Contamination)
	}

	return cfg, nil
}
