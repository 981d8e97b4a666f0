package saga

import (
	"context"
	"time"
)

// Store kontrak persistence utk ledger + reservation. Semua method yang
// mutate harus atomik per satu pool (single transaction / critical section);
// antar pool tidak boleh saling contend.
type Store interface {
	// GetPool baca ledger entry. ErrNotFound kalau pool tidak ada.
	GetPool(ctx context.Context, key PoolKey) (Pool, error)

	// PendingQuantity total quantity reservation PENDING utk satu pool.
	PendingQuantity(ctx context.Context, key PoolKey) (int64, error)

	// ApplyLedgerDelta mutasi committed dari event replenishment eksternal
	// (restocking, deposit, schedule baru). Pool dibuat kalau belum ada.
	// Committed tidak boleh turun di bawah nol.
	ApplyLedgerDelta(ctx context.Context, key PoolKey, delta int64) (Pool, error)

	// CreateReservation insert row PENDING sekaligus bump version pool,
	// hanya jika version masih = poolVersion. Ini linearization point dari
	// reserve: reader yang stale gagal dengan ErrVersionConflict.
	CreateReservation(ctx context.Context, res Reservation, poolVersion int64) error

	GetReservation(ctx context.Context, id string) (Reservation, error)

	// SettleReservation transisi PENDING->CONFIRMED + debit committed
	// sebesar quantity, conditional pada poolVersion. external_ref disimpan
	// sekali, tidak pernah ditimpa.
	SettleReservation(ctx context.Context, id, externalRef string, poolVersion int64) error

	// ReleaseReservation transisi PENDING->CANCELLED|EXPIRED dan bump
	// version pool (availability view berubah). ErrAlreadyTerminal kalau
	// row sudah terminal; tidak ada double-release.
	ReleaseReservation(ctx context.Context, id string, to Status) error

	// ExpiredPending daftar reservation PENDING yang expires_at <= now
	// utk satu pool.
	ExpiredPending(ctx context.Context, key PoolKey, now time.Time) ([]Reservation, error)

	// PoolsWithExpired daftar pool yang punya minimal satu PENDING expired.
	PoolsWithExpired(ctx context.Context, now time.Time) ([]PoolKey, error)
}
