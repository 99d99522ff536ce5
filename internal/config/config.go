package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Prefix is prepended to every environment variable name, e.g. SPROUTXP_POSTGRES_HOST.
const Prefix = "SPROUTXP"

type Config struct {
	DBUser     string `envconfig:"POSTGRES_USER" required:"true"`
	DBPass     string `envconfig:"POSTGRES_PASSWORD"`
	DBHost     string `envconfig:"POSTGRES_HOST" default:"localhost"`
	DBPort     string `envconfig:"POSTGRES_PORT" default:"5432"`
	DBName     string `envconfig:"POSTGRES_DB" required:"true"`
	SSLMode    string `envconfig:"POSTGRES_SSLMODE" default:"disable"`
	DBMaxConns int32  `envconfig:"POSTGRES_MAX_CONNS" default:"25"`
	DBMinConns int32  `envconfig:"POSTGRES_MIN_CONNS" default:"2"`

	RedisHost     string `envconfig:"REDIS_HOST" default:"localhost"`
	RedisPort     string `envconfig:"REDIS_PORT" default:"6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	BusProvider string `envconfig:"BUS_PROVIDER" default:"nats"`
	NatsURL     string `envconfig:"NATS_URL" default:"nats://localhost:4222"`

	ApiEnabled bool   `envconfig:"API_ENABLED" default:"true"`
	ApiPort    string `envconfig:"API_PORT" default:"8080"`
	GRPCPort   string `envconfig:"GRPC_PORT" default:"50051"`

	JWTSecret      string   `envconfig:"JWT_SECRET" required:"true"`
	JWTIssuer      string   `envconfig:"JWT_ISSUER"`
	JWTAudience    string   `envconfig:"JWT_AUDIENCE" default:"authenticated"`
	AllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"http://localhost:8081,http://localhost:19006"`
	MaxBodyBytes   int64    `envconfig:"MAX_BODY_BYTES" default:"5242880"`

	RateLimitRequests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"10"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`

	LedgerMode     string        `envconfig:"LEDGER_MODE" default:"procedure"`
	AuditSink      string        `envconfig:"AUDIT_SINK" default:"postgres"`
	WorkerPoolSize int           `envconfig:"WORKER_POOL_SIZE" default:"64"`
	SessionTTL     time.Duration `envconfig:"SESSION_TTL" default:"24h"`
	XPCacheTTL     time.Duration `envconfig:"XP_CACHE_TTL" default:"10m"`

	// Retention sweeps of rate-limit windows are off unless a cron schedule is set.
	RetentionSchedule string        `envconfig:"RETENTION_SCHEDULE"`
	RetentionMaxAge   time.Duration `envconfig:"RETENTION_MAX_AGE" default:"24h"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
}

// New loads configuration from the environment (and an optional .env file) and validates it.
// The HTTP API can be switched off with SPROUTXP_API_ENABLED=false; ApiAddr then returns an error
// and the HTTP server is not started.
func New() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.BusProvider != "nats" && c.BusProvider != "none" {
		return fmt.Errorf("invalid bus provider %q, must be 'nats' or 'none'", c.BusProvider)
	}
	if c.BusProvider == "nats" && c.NatsURL == "" {
		return fmt.Errorf("missing required env for nats bus: %s_NATS_URL", Prefix)
	}
	if c.LedgerMode != "procedure" && c.LedgerMode != "transaction" {
		return fmt.Errorf("invalid ledger mode %q, must be 'procedure' or 'transaction'", c.LedgerMode)
	}
	switch c.AuditSink {
	case "postgres":
	case "bus":
		if c.BusProvider == "none" {
			return fmt.Errorf("audit sink 'bus' requires a bus provider")
		}
	default:
		return fmt.Errorf("invalid audit sink %q, must be 'postgres' or 'bus'", c.AuditSink)
	}
	if len(c.AllowedOrigins) == 0 {
		return fmt.Errorf("%s_CORS_ALLOWED_ORIGINS must list at least one origin", Prefix)
	}
	if c.RateLimitRequests <= 0 || c.RateLimitWindow <= 0 {
		return fmt.Errorf("rate limit requests and window must be positive")
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("%s_MAX_BODY_BYTES must be positive", Prefix)
	}
	if c.WorkerPoolSize <= 0 {
		return fmt.Errorf("%s_WORKER_POOL_SIZE must be positive", Prefix)
	}
	if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("invalid POSTGRES_MIN_CONNS/POSTGRES_MAX_CONNS")
	}
	return nil
}

func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPass, c.DBHost, c.DBPort, c.DBName, c.SSLMode)
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

func (c *Config) GRPCAddr() string {
	return ":" + c.GRPCPort
}

// ApiAddr returns the HTTP listen address if the API is enabled.
func (c *Config) ApiAddr() (string, error) {
	if !c.ApiEnabled {
		return "", fmt.Errorf("HTTP API is disabled (%s_API_ENABLED=false)", Prefix)
	}
	if c.ApiPort == "" {
		return "", fmt.Errorf("%s_API_PORT is required when the API is enabled", Prefix)
	}
	return ":" + c.ApiPort, nil
}
