// Command worker runs Herald's delivery worker: it claims DeliveryJobs off
// both priority lanes and executes internal/delivery.Engine against them.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/starksama/herald/internal/config"
	"github.com/starksama/herald/internal/delivery"
	"github.com/starksama/herald/internal/queue"
	"github.com/starksama/herald/internal/queue/pgqueue"
	"github.com/starksama/herald/internal/registry"
	"github.com/starksama/herald/internal/store/postgres"
	"github.com/starksama/herald/internal/store/rediscache"
	"github.com/starksama/herald/internal/webhookclient"
	"github.com/starksama/herald/pkg/logger"
	"github.com/starksama/herald/pkg/pg"
	"github.com/starksama/herald/pkg/redis"
)

func main() {
	cfg := config.LoadWorker()
	log := logger.New(logger.WithEnvironment(os.Getenv("HERALD_ENV"), "herald-worker"))
	logger.SetAsDefault(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pg.Connect(ctx, cfg.PG)
	if err != nil {
		log.Error("worker: connecting to postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	rdb, err := redis.Connect(ctx, cfg.Redis)
	if err != nil {
		log.Error("worker: connecting to redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer rdb.Close()

	st := rediscache.New(postgres.New(pool), rdb)

	// The worker process never receives an agent tunnel connection of its
	// own; an empty registry means every job falls straight through to its
	// webhook, which is the correct behavior when no agent is attached to
	// this process (§4.F, deliverTunnel only fires for local registrations).
	reg := registry.New()

	qs := pgqueue.New(pool)
	enq, err := queue.NewEnqueuer(qs, queue.WithDefaultLane(queue.LaneNormal))
	if err != nil {
		log.Error("worker: constructing enqueuer", slog.Any("error", err))
		os.Exit(1)
	}

	engine := delivery.NewEngine(st, reg, webhookclient.New(nil), enq, log)

	w, err := queue.NewWorker(qs,
		queue.WithPullInterval(cfg.Queue.PollInterval),
		queue.WithLockTimeout(cfg.Queue.LockTimeout),
		queue.WithMaxConcurrentTasks(cfg.Queue.MaxConcurrentTasks),
		queue.WithWorkerLogger(log),
	)
	if err != nil {
		log.Error("worker: constructing worker", slog.Any("error", err))
		os.Exit(1)
	}
	w.RegisterHandler(engine.AsHandler())

	run := w.Run(ctx)
	if err := run(); err != nil {
		log.Error("worker: exited", slog.Any("error", err))
		os.Exit(1)
	}
}
