package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-resource-saga.git/internal/config"
	"github.com/ariefcatur/go-resource-saga.git/internal/events"
	"github.com/ariefcatur/go-resource-saga.git/internal/kafkax"
	"github.com/ariefcatur/go-resource-saga.git/internal/obs"
	"github.com/ariefcatur/go-resource-saga.git/internal/postgres"
	"github.com/ariefcatur/go-resource-saga.git/internal/redisx"
	"github.com/ariefcatur/go-resource-saga.git/internal/replenish"
	"github.com/ariefcatur/go-resource-saga.git/internal/saga"
	"github.com/ariefcatur/go-resource-saga.git/internal/sweeper"
)

// Worker: sweeper expiry + consumer replenishment, satu proses.
func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log, err := obs.NewLogger(cfg.ServiceName+"-worker", cfg.Debug)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Producer event expired
	pExpired := kafkax.NewProducer(cfg.KafkaBrokers, events.TopicReservationExpired, 1024, log)
	pExpired.Start(ctx)

	store := postgres.NewStore(db)
	coord := saga.NewCoordinator(store)
	coord.RetryBudget = cfg.ReserveRetryBudget

	metrics := obs.NewMetrics()

	// Sweeper
	sw := &sweeper.Sweeper{
		Coord:       coord,
		Store:       store,
		Producer:    pExpired,
		Redis:       rdb,
		Metrics:     metrics,
		Log:         log,
		Interval:    cfg.SweepInterval,
		Jitter:      cfg.SweepJitter,
		Parallel:    cfg.SweepParallel,
		ServiceName: cfg.ServiceName + "-worker",
	}
	go sw.Run(ctx)

	// Consumer replenishment
	svc := &replenish.Service{
		Store:       store,
		Redis:       rdb,
		Log:         log,
		ServiceName: cfg.ServiceName + "-worker",
	}
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.WorkerGroup, events.TopicLedgerReplenish, cfg.WorkerConcurrency, log)

	go func() {
		log.Info("replenish consumer started",
			zap.String("group", cfg.WorkerGroup),
			zap.String("topic", events.TopicLedgerReplenish),
			zap.Int("workers", cfg.WorkerConcurrency))
		if err := cons.Start(ctx, svc.HandleLedgerReplenish); err != nil {
			log.Error("consumer exit", zap.Error(err))
			cancel()
		}
	}()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down worker...")
	cancel()
	time.Sleep(500 * time.Millisecond)
	pExpired.Close()
	pExpired.WaitClosed()
}
