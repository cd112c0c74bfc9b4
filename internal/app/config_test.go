package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearPlatformEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"DATABASE_URL", "MONGODB_URI", "PORT"} {
		t.Setenv(key, "")
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearPlatformEnv(t)
	t.Setenv("BOOKSTORE_DATABASE_URL", "postgres://localhost/bookstore")

	cfg, err := loadConfig(aconfig.Config{SkipFlags: true, SkipFiles: true})
	require.NoError(t, err)

	assert.Equal(t, defaultAddr, cfg.Addr)
	assert.Equal(t, StorePostgres, cfg.Store)
	assert.Equal(t, "postgres://localhost/bookstore", cfg.DatabaseURL)
	assert.Equal(t, "bookstore", cfg.Mongo.Database)
	assert.Equal(t, 100, cfg.RateLimit.Max)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, []string{"*"}, cfg.CORS.Origins)
	assert.Equal(t, 3*time.Second, cfg.Graceful.ReadinessDelay)
	assert.Equal(t, 15*time.Second, cfg.Graceful.ShutdownTimeout)
}

func TestLoadConfig_File(t *testing.T) {
	clearPlatformEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store: mongo
api_key_pepper: pepper
mongo:
  uri: mongodb://localhost:27017
  database: shop
rate_limit:
  max: 5
  window: 30s
`), 0o600))

	cfg, err := loadConfig(aconfig.Config{SkipFlags: true, Files: []string{path}})
	require.NoError(t, err)

	assert.Equal(t, StoreMongo, cfg.Store)
	assert.Equal(t, "pepper", cfg.APIKeyPepper)
	assert.Equal(t, "mongodb://localhost:27017", cfg.Mongo.URI)
	assert.Equal(t, "shop", cfg.Mongo.Database)
	assert.Equal(t, 5, cfg.RateLimit.Max)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.Window)
}

func TestLoadConfig_PlatformDefaults(t *testing.T) {
	clearPlatformEnv(t)
	t.Setenv("DATABASE_URL", "postgres://platform/db")
	t.Setenv("PORT", "9000")

	cfg, err := loadConfig(aconfig.Config{SkipFlags: true, SkipFiles: true})
	require.NoError(t, err)
	assert.Equal(t, "postgres://platform/db", cfg.DatabaseURL)
	assert.Equal(t, "0.0.0.0:9000", cfg.Addr)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{
			Store:       StorePostgres,
			DatabaseURL: "postgres://localhost/db",
			RateLimit:   RateLimitConfig{Max: 1, Window: time.Second},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "postgres ok", mutate: func(*Config) {}},
		{
			name:    "postgres without url",
			mutate:  func(c *Config) { c.DatabaseURL = "" },
			wantErr: "database URL is required",
		},
		{
			name:   "mongo ok",
			mutate: func(c *Config) { c.Store = StoreMongo; c.Mongo.URI = "mongodb://localhost" },
		},
		{
			name:    "mongo without uri",
			mutate:  func(c *Config) { c.Store = StoreMongo },
			wantErr: "mongo URI is required",
		},
		{
			name:    "unknown store",
			mutate:  func(c *Config) { c.Store = "redis" },
			wantErr: `unknown store "redis"`,
		},
		{
			name:    "zero rate limit",
			mutate:  func(c *Config) { c.RateLimit.Max = 0 },
			wantErr: "rate limit",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
