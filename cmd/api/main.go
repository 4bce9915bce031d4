// Command api runs Herald's publisher-facing HTTP surface and the
// subscriber agent tunnel: signal publication, DLQ retry, health checks,
// and the WebSocket tunnel upgrade.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/starksama/herald/internal/config"
	"github.com/starksama/herald/internal/httpapi"
	"github.com/starksama/herald/internal/ingest"
	"github.com/starksama/herald/internal/queue"
	"github.com/starksama/herald/internal/queue/pgqueue"
	"github.com/starksama/herald/internal/registry"
	"github.com/starksama/herald/internal/store/postgres"
	"github.com/starksama/herald/internal/store/rediscache"
	"github.com/starksama/herald/internal/tunnel"
	"github.com/starksama/herald/pkg/httpserver"
	"github.com/starksama/herald/pkg/logger"
	"github.com/starksama/herald/pkg/pg"
	"github.com/starksama/herald/pkg/redis"
)

func main() {
	cfg := config.LoadAPI()
	log := logger.New(logger.WithEnvironment(os.Getenv("HERALD_ENV"), "herald-api"))
	logger.SetAsDefault(log)

	ctx := context.Background()

	pool, err := pg.Connect(ctx, cfg.PG)
	if err != nil {
		log.Error("api: connecting to postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	if err := pg.Migrate(ctx, pool, cfg.PG, log); err != nil {
		log.Error("api: applying migrations", slog.Any("error", err))
		os.Exit(1)
	}

	rdb, err := redis.Connect(ctx, cfg.Redis)
	if err != nil {
		log.Error("api: connecting to redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer rdb.Close()

	st := rediscache.New(postgres.New(pool), rdb)
	reg := registry.New()
	tunnelServer := tunnel.NewServer(st, reg, log)

	qs := pgqueue.New(pool)
	enq, err := queue.NewEnqueuer(qs, queue.WithDefaultLane(queue.LaneNormal))
	if err != nil {
		log.Error("api: constructing enqueuer", slog.Any("error", err))
		os.Exit(1)
	}
	ingestSvc := ingest.NewService(st, enq, log)

	api := httpapi.New(st, ingestSvc, tunnelServer, log)

	srv := httpserver.NewFromConfig(cfg.HTTP)
	if err := srv.Run(ctx, api.Router()); err != nil {
		log.Error("api: server exited", slog.Any("error", err))
		os.Exit(1)
	}
}
