package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Storage backends.
const (
	StorePostgres = "postgres"
	StoreMongo    = "mongo"
)

const defaultAddr = "0.0.0.0:8080"

// Config is loaded from BOOKSTORE_* environment variables, flags and YAML
// files.
type Config struct {
	Addr         string          `default:"0.0.0.0:8080" usage:"API server listen address" env:"ADDR" yaml:"addr"`
	Store        string          `default:"postgres" usage:"Storage backend: postgres or mongo" env:"STORE" yaml:"store"`
	DatabaseURL  string          `usage:"PostgreSQL connection URL (BOOKSTORE_DATABASE_URL or DATABASE_URL)" env:"DATABASE_URL" yaml:"database_url" flag:"database-url"`
	Mongo        MongoConfig     `env:"MONGO" yaml:"mongo"`
	APIKeyPepper string          `usage:"HMAC pepper for API key hashing" env:"API_KEY_PEPPER" yaml:"api_key_pepper" flag:"api-key-pepper"`
	RateLimit    RateLimitConfig `env:"RATE_LIMIT" yaml:"rate_limit"`
	CORS         CORSConfig      `env:"CORS" yaml:"cors"`
	Graceful     GracefulConfig  `env:"GRACEFUL" yaml:"graceful"`
}

// MongoConfig selects the MongoDB deployment used when Store is "mongo".
type MongoConfig struct {
	URI      string `usage:"MongoDB connection URI (BOOKSTORE_MONGO_URI or MONGODB_URI)" env:"URI" yaml:"uri"`
	Database string `default:"bookstore" usage:"MongoDB database name" env:"DATABASE" yaml:"database"`
}

// RateLimitConfig controls the per-client token bucket.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Requests allowed per window" env:"MAX" yaml:"max"`
	Window time.Duration `default:"1m" usage:"Window over which Max refills" env:"WINDOW" yaml:"window"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins" env:"ORIGINS" yaml:"origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" env:"ALLOW_CREDENTIALS" yaml:"allow_credentials" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s" usage:"Delay after readiness=false before shutdown" env:"READINESS_DELAY" yaml:"readiness_delay" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" env:"SHUTDOWN_TIMEOUT" yaml:"shutdown_timeout" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from the environment, command-line flags
// and config.yaml or /etc/bookstore/config.yaml.
func LoadConfig() (*Config, error) {
	return loadConfig(aconfig.Config{
		Files: []string{"config.yaml", "/etc/bookstore/config.yaml"},
	})
}

func loadConfig(base aconfig.Config) (*Config, error) {
	var cfg Config
	base.EnvPrefix = "BOOKSTORE"
	base.FileDecoders = map[string]aconfig.FileDecoder{
		".yaml": aconfigyaml.New(),
	}
	if err := aconfig.LoaderFor(&cfg, base).Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Store {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("database URL is required: set BOOKSTORE_DATABASE_URL or DATABASE_URL")
		}
	case StoreMongo:
		if c.Mongo.URI == "" {
			return errors.New("mongo URI is required: set BOOKSTORE_MONGO_URI or MONGODB_URI")
		}
	default:
		return errors.Errorf("unknown store %q: want %s or %s", c.Store, StorePostgres, StoreMongo)
	}
	if c.RateLimit.Max < 1 || c.RateLimit.Window <= 0 {
		return errors.New("rate limit max and window must be positive")
	}
	return nil
}

// applyPlatformDefaults honours the unprefixed DATABASE_URL, MONGODB_URI and
// PORT variables set by hosting platforms.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.Mongo.URI == "" {
		c.Mongo.URI = os.Getenv("MONGODB_URI")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
