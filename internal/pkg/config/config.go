package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	APIBaseURL string `env:"API_BASE_URL, default=http://localhost:8000"`
	Env        string `env:"ENV,          default=development"`
	LogLevel   string `env:"LOG_LEVEL,    default=info"`

	HTTPTimeoutSeconds int `env:"HTTP_TIMEOUT_SECONDS, default=15"`
	// RoleSwitchGraceMS bounds how long a role-switch marker overrides
	// stale persisted session data.
	RoleSwitchGraceMS int `env:"ROLE_SWITCH_GRACE_MS, default=10000"`

	Store StoreConfig
}

// StoreConfig selects and configures the session storage backend.
type StoreConfig struct {
	// Backend is one of: file, memory, redis, mongo, sqlite.
	Backend string `env:"STORE_BACKEND, default=file"`
	// FilePath overrides the default location under the user config dir.
	FilePath   string `env:"STORE_FILE_PATH"`
	SQLitePath string `env:"STORE_SQLITE_PATH, default=session.db"`

	Redis RedisConfig
	Mongo MongoConfig
}

type RedisConfig struct {
	Addr string `env:"REDIS_ADDR, default=localhost:6379"`
	DB   int    `env:"REDIS_DB,   default=0"`
}

type MongoConfig struct {
	URI      string `env:"MONGO_URI, default=mongodb://localhost:27017"`
	Database string `env:"MONGO_DB,  default=tutorlink_client"`
}

func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}

func (c *Config) RoleSwitchGrace() time.Duration {
	return time.Duration(c.RoleSwitchGraceMS) * time.Millisecond
}

// Load reads configuration from environment variables using go-envconfig.
func Load() *Config {
	var cfg Config
	if err := envconfig.Process(context.Background(), &cfg); err != nil {
		panic(fmt.Sprintf("config: failed to load configuration: %v", err))
	}
	return &cfg
}
