package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-resource-saga.git/internal/config"
	"github.com/ariefcatur/go-resource-saga.git/internal/confirmer"
	"github.com/ariefcatur/go-resource-saga.git/internal/events"
	"github.com/ariefcatur/go-resource-saga.git/internal/httpx"
	"github.com/ariefcatur/go-resource-saga.git/internal/kafkax"
	"github.com/ariefcatur/go-resource-saga.git/internal/obs"
	"github.com/ariefcatur/go-resource-saga.git/internal/postgres"
	"github.com/ariefcatur/go-resource-saga.git/internal/redisx"
	"github.com/ariefcatur/go-resource-saga.git/internal/saga"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log, err := obs.NewLogger(cfg.ServiceName, cfg.Debug)
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

	// Kafka producers: satu per topic lifecycle
	pCreated := kafkax.NewProducer(cfg.KafkaBrokers, events.TopicReservationCreated, 1024, log)
	pCreated.Start(ctx)
	pConfirmed := kafkax.NewProducer(cfg.KafkaBrokers, events.TopicReservationConfirmed, 1024, log)
	pConfirmed.Start(ctx)
	pCancelled := kafkax.NewProducer(cfg.KafkaBrokers, events.TopicReservationCancelled, 1024, log)
	pCancelled.Start(ctx)

	// Coordinator + remote confirmer
	store := postgres.NewStore(db)
	coord := saga.NewCoordinator(store)
	coord.RetryBudget = cfg.ReserveRetryBudget

	txClient := confirmer.New(cfg.TransactionAPIURL, cfg.ServiceName,
		&http.Client{Timeout: cfg.ConfirmTimeout})

	metrics := obs.NewMetrics()

	router := httpx.NewRouter()
	rh := &httpx.ReservationsHandler{
		Coord:             coord,
		Confirm:           txClient.AsConfirmFunc(),
		Redis:             rdb,
		Metrics:           metrics,
		Service:           cfg.ServiceName,
		ProducerCreated:   pCreated,
		ProducerConfirmed: pConfirmed,
		ProducerCancelled: pCancelled,
		DefaultTTL:        cfg.DefaultReservationTTL,
		ConfirmTimeout:    cfg.ConfirmTimeout,
	}
	rh.Register(router)

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	// graceful shutdown
	go func() {
		log.Info("HTTP listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	pCreated.Close() // tutup inbox -> flush & close writer
	pConfirmed.Close()
	pCancelled.Close()
	cancel() // stop producer loop
	pCreated.WaitClosed()
	pConfirmed.WaitClosed()
	pCancelled.WaitClosed()
}
