package replenish

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-resource-saga.git/internal/events"
	"github.com/ariefcatur/go-resource-saga.git/internal/kafkax"
	"github.com/ariefcatur/go-resource-saga.git/internal/redisx"
	"github.com/ariefcatur/go-resource-saga.git/internal/saga"
)

// Service konsumsi event replenishment dari origin system (restocking,
// deposit, schedule baru) dan apply delta committed ke ledger. Ini satu-
// satunya jalur mutasi committed selain settle.
type Service struct {
	Store       saga.Store
	Redis       *redis.Client
	Log         *zap.Logger
	ServiceName string
}

// HandleLedgerReplenish dipasang sebagai handler consumer.
func (s *Service) HandleLedgerReplenish(ctx context.Context, m kafkago.Message) error {
	// 1) decode envelope
	var env events.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return err
	}
	if env.EventType != events.EventLedgerReplenished {
		return nil // ignore
	}

	// 2) dedup via Redis (pakai event_id); apply dua kali = delta dobel.
	// Key-nya baru ditulis SETELAH apply sukses: kalau ditulis duluan dan
	// apply-nya gagal, redelivery bakal ke-skip dan delta hilang permanen.
	var dkey string
	if s.Redis != nil {
		dkey = fmt.Sprintf(redisx.KeyDedup, "replenish", env.EventID)
		exists, _ := redisx.Exists(ctx, s.Redis, dkey)
		if exists {
			return nil
		}
	}

	// 3) decode payload
	p, err := kafkax.UnwrapPayload[events.LedgerReplenishedPayload](env.Payload)
	if err != nil {
		return err
	}
	if p.ResourceType == "" || p.ResourceID == "" || p.Delta == 0 {
		return nil // payload kosong, tidak ada yang di-apply
	}

	key := saga.PoolKey{Type: saga.ResourceType(p.ResourceType), ID: p.ResourceID}
	pool, err := s.Store.ApplyLedgerDelta(ctx, key, p.Delta)
	if err != nil {
		return err // offset tidak di-commit, event bakal datang lagi
	}

	if s.Redis != nil && dkey != "" {
		_ = s.Redis.Set(ctx, dkey, "1", redisx.TTLDedup).Err()
	}

	if s.Log != nil {
		s.Log.Info("ledger replenished",
			zap.String("pool", key.String()),
			zap.Int64("delta", p.Delta),
			zap.Int64("committed", pool.Committed),
			zap.String("reason", p.Reason))
	}
	return nil
}
