package sweeper

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-resource-saga.git/internal/events"
	"github.com/ariefcatur/go-resource-saga.git/internal/kafkax"
	"github.com/ariefcatur/go-resource-saga.git/internal/obs"
	"github.com/ariefcatur/go-resource-saga.git/internal/redisx"
	"github.com/ariefcatur/go-resource-saga.git/internal/saga"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
)

// Sweeper proses periodik: cari pool yang punya reservation PENDING lewat
// deadline, lalu ReleaseExpired per pool. Jalan per pool secara independen;
// satu pool gagal tidak nge-block yang lain. Best-effort & idempotent:
// sweep saat tidak ada yang expired itu no-op.
type Sweeper struct {
	Coord    *saga.Coordinator
	Store    saga.Store
	Producer kafkax.Publisher // boleh nil (tanpa event)
	Redis    *redis.Client    // boleh nil; dipakai buat invalidasi cache API
	Metrics  *obs.Metrics     // boleh nil
	Log      *zap.Logger

	Interval time.Duration
	Jitter   time.Duration // uniform [0, Jitter) per cycle, hindari thundering-herd
	Parallel int           // max pool yang disapu barengan

	ServiceName string
}

func (s *Sweeper) interval() time.Duration {
	if s.Interval > 0 {
		return s.Interval
	}
	return 30 * time.Second
}

func (s *Sweeper) Run(ctx context.Context) {
	log := s.Log
	if log == nil {
		log = zap.NewNop()
	}

	// sekali di awal, jangan nunggu tick pertama
	s.SweepOnce(ctx)

	for {
		d := s.interval()
		if s.Jitter > 0 {
			d += time.Duration(rand.Int63n(int64(s.Jitter)))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(d):
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce satu siklus sweep. Return total reservation yang di-release.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	log := s.Log
	if log == nil {
		log = zap.NewNop()
	}
	start := time.Now()

	pools, err := s.Store.PoolsWithExpired(ctx, s.Coord.Now())
	if err != nil {
		log.Error("sweep: list pools failed", zap.Error(err))
		return 0
	}
	if len(pools) == 0 {
		if s.Metrics != nil {
			s.Metrics.LastSweepSize.Set(0)
		}
		return 0
	}

	parallel := s.Parallel
	if parallel <= 0 {
		parallel = 4
	}

	released := make(chan saga.Reservation, 64)
	done := make(chan int)
	go func() {
		n := 0
		for res := range released {
			n++
			s.invalidateCache(ctx, res)
			s.publishExpired(res)
		}
		done <- n
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for _, key := range pools {
		key := key
		g.Go(func() error {
			rs, err := s.Coord.ReleaseExpired(gctx, key)
			if err != nil {
				// error satu pool dicatat, pool lain tetap jalan
				log.Warn("sweep: release failed", zap.String("pool", key.String()), zap.Error(err))
			}
			for _, r := range rs {
				released <- r
			}
			return nil
		})
	}
	_ = g.Wait()
	close(released)
	total := <-done

	if s.Metrics != nil {
		s.Metrics.ExpiredTotal.Add(float64(total))
		s.Metrics.LastSweepSize.Set(float64(total))
	}
	if total > 0 {
		log.Info("sweep done",
			zap.Int("pools", len(pools)),
			zap.Int("released", total),
			zap.Int64("latency_ms", time.Since(start).Milliseconds()))
	}
	return total
}

// Snapshot reservation yang di-cache API masih bilang PENDING sampai
// TTL-nya habis; buang bersama pool view supaya GET tidak serve state basi.
func (s *Sweeper) invalidateCache(ctx context.Context, res saga.Reservation) {
	if s.Redis == nil {
		return
	}
	_ = s.Redis.Del(ctx,
		fmt.Sprintf(redisx.KeyReservation, res.ID),
		fmt.Sprintf(redisx.KeyPoolView, res.Type, res.ResourceID),
	).Err()
}

func (s *Sweeper) publishExpired(res saga.Reservation) {
	if s.Producer == nil {
		return
	}
	ev := events.Envelope{
		EventID:       uuid.NewString(),
		EventType:     events.EventReservationExpired,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      s.ServiceName,
		CorrelationID: res.ID,
		Payload: kafkax.MustMarshal(events.ReservationExpiredPayload{
			ReservationID: res.ID,
			ResourceType:  string(res.Type),
			ResourceID:    res.ResourceID,
			Quantity:      res.Quantity,
			ExpiredAt:     res.ExpiresAt,
		}),
	}
	s.Producer.Publish(events.PartitionKey(string(res.Type), res.ResourceID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(events.EventReservationExpired)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
