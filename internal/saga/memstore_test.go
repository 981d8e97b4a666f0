package saga

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pendingRes(key PoolKey, qty int64) Reservation {
	now := time.Date(2023, 11, 1, 10, 0, 0, 0, time.UTC)
	return Reservation{
		ID:         uuid.NewString(),
		Type:       key.Type,
		ResourceID: key.ID,
		Quantity:   qty,
		Status:     StatusPending,
		CreatedAt:  now,
		ExpiresAt:  now.Add(time.Minute),
	}
}

func TestMemStoreCreateReservationVersionConflict(t *testing.T) {
	store := NewMemStore()
	key := PoolKey{Type: TypeStock, ID: "PART-001"}
	store.SeedPool(key, 10)

	ctx := context.Background()
	pool, err := store.GetPool(ctx, key)
	require.NoError(t, err)

	// writer pertama menang, version naik
	require.NoError(t, store.CreateReservation(ctx, pendingRes(key, 1), pool.Version))

	// writer kedua bawa version stale -> harus kalah
	err = store.CreateReservation(ctx, pendingRes(key, 1), pool.Version)
	require.ErrorIs(t, err, ErrVersionConflict)

	after, err := store.GetPool(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, pool.Version+1, after.Version)

	pending, err := store.PendingQuantity(ctx, key)
	require.NoError(t, err)
	assert.EqualValues(t, 1, pending, "write yang kalah tidak boleh nulis apa-apa")
}

func TestMemStoreSettleVersionConflict(t *testing.T) {
	store := NewMemStore()
	key := PoolKey{Type: TypeBalance, ID: "1010"}
	store.SeedPool(key, 100)

	ctx := context.Background()
	pool, err := store.GetPool(ctx, key)
	require.NoError(t, err)
	res := pendingRes(key, 10)
	require.NoError(t, store.CreateReservation(ctx, res, pool.Version))

	err = store.SettleReservation(ctx, res.ID, "txn-1", pool.Version)
	require.ErrorIs(t, err, ErrVersionConflict)

	// conflict tidak boleh setengah jalan: status masih PENDING
	got, err := store.GetReservation(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)

	fresh, err := store.GetPool(ctx, key)
	require.NoError(t, err)
	require.NoError(t, store.SettleReservation(ctx, res.ID, "txn-1", fresh.Version))

	got, err = store.GetReservation(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, got.Status)
	assert.Equal(t, "txn-1", got.ExternalRef)

	after, err := store.GetPool(ctx, key)
	require.NoError(t, err)
	assert.EqualValues(t, 90, after.Committed)
}

func TestMemStoreApplyLedgerDelta(t *testing.T) {
	store := NewMemStore()
	key := PoolKey{Type: TypeStock, ID: "PART-009"}
	ctx := context.Background()

	// pool baru dibuat on-demand
	pool, err := store.ApplyLedgerDelta(ctx, key, 25)
	require.NoError(t, err)
	assert.EqualValues(t, 25, pool.Committed)

	pool, err = store.ApplyLedgerDelta(ctx, key, -40)
	require.NoError(t, err)
	assert.EqualValues(t, 0, pool.Committed, "committed tidak boleh negatif")
}

func TestMemStoreExpiredPendingOrdering(t *testing.T) {
	store := NewMemStore()
	key := PoolKey{Type: TypeSlot, ID: "TECH-001"}
	store.SeedPool(key, 10)

	ctx := context.Background()
	base := time.Date(2023, 11, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		pool, err := store.GetPool(ctx, key)
		require.NoError(t, err)
		res := pendingRes(key, 1)
		res.ExpiresAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, store.CreateReservation(ctx, res, pool.Version))
	}

	// deadline tepat di now juga dihitung expired
	expired, err := store.ExpiredPending(ctx, key, base.Add(1*time.Second))
	require.NoError(t, err)
	require.Len(t, expired, 2)
	assert.True(t, !expired[0].ExpiresAt.After(expired[1].ExpiresAt))

	pools, err := store.PoolsWithExpired(ctx, base.Add(1*time.Second))
	require.NoError(t, err)
	require.Len(t, pools, 1)
	assert.Equal(t, key, pools[0])
}
