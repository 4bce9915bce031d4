// Package config gathers Herald's process-level configuration, following
// the teacher's env-struct-plus-caarlos0/env convention (pkg/config.Load).
package config

import (
	"time"

	"github.com/starksama/herald/pkg/config"
	"github.com/starksama/herald/pkg/httpserver"
	"github.com/starksama/herald/pkg/pg"
	"github.com/starksama/herald/pkg/redis"
)

// Auth holds API key hashing and agent tunnel auth settings.
type Auth struct {
	// APIKeyPepper is required at startup. API key hashing
	// (internal/authcrypto.HashAPIKey) is plain SHA-256 and does not use it.
	APIKeyPepper string `env:"HERALD_API_KEY_PEPPER,required"`
}

// Queue holds the generalized delivery queue's pull/lock tuning. It has the
// same fields as internal/queue.Config but reads HERALD_-prefixed variables
// and defaults ShutdownTimeout to 10s.
type Queue struct {
	PollInterval       time.Duration `env:"HERALD_QUEUE_POLL_INTERVAL" envDefault:"1s"`
	LockTimeout        time.Duration `env:"HERALD_QUEUE_LOCK_TIMEOUT" envDefault:"1m"`
	ShutdownTimeout    time.Duration `env:"HERALD_QUEUE_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	MaxConcurrentTasks int           `env:"HERALD_QUEUE_MAX_CONCURRENT_TASKS" envDefault:"20"`
}

// Tunnel holds the WebSocket agent-tunnel server's heartbeat tuning.
type Tunnel struct {
	AuthTimeout  time.Duration `env:"HERALD_TUNNEL_AUTH_TIMEOUT" envDefault:"10s"`
	PingInterval time.Duration `env:"HERALD_TUNNEL_PING_INTERVAL" envDefault:"30s"`
}

// API is the full configuration for cmd/api.
type API struct {
	HTTP   httpserver.Config
	PG     pg.Config
	Redis  redis.Config
	Auth   Auth
	Queue  Queue
	Tunnel Tunnel
}

// Worker is the full configuration for cmd/worker.
type Worker struct {
	PG    pg.Config
	Redis redis.Config
	Queue Queue
}

// LoadAPI loads cmd/api's configuration from the environment, panicking if
// any required variable is missing (mirroring pkg/config.MustLoad).
func LoadAPI() API {
	var cfg API
	config.MustLoad(&cfg.HTTP)
	config.MustLoad(&cfg.PG)
	config.MustLoad(&cfg.Redis)
	config.MustLoad(&cfg.Auth)
	config.MustLoad(&cfg.Queue)
	config.MustLoad(&cfg.Tunnel)
	applyMigrationsPathDefault(&cfg.PG)
	return cfg
}

// applyMigrationsPathDefault repoints pg.Config's migrations path at
// Herald's own migrations directory unless the operator has already set
// PG_MIGRATIONS_PATH explicitly; pkg/pg's own envDefault points at the
// teacher's migrations layout, which this module doesn't use.
func applyMigrationsPathDefault(cfg *pg.Config) {
	if cfg.MigrationsPath == "internal/db/migrations" {
		cfg.MigrationsPath = "internal/store/postgres/migrations"
	}
}

// LoadWorker loads cmd/worker's configuration from the environment.
func LoadWorker() Worker {
	var cfg Worker
	config.MustLoad(&cfg.PG)
	config.MustLoad(&cfg.Redis)
	config.MustLoad(&cfg.Queue)
	return cfg
}
