package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ConfirmFunc mewakili panggilan ke Remote Confirmer (misal: record
// transaction). Return external_ref saat sukses; error di-wrap
// ErrUnreachable / ErrRejected oleh adapter. Coordinator memanggil
// maksimal sekali per Confirm.
type ConfirmFunc func(ctx context.Context, res Reservation) (externalRef string, err error)

const defaultRetryBudget = 4

// Coordinator driver protokol empat fase: check -> reserve -> confirm ->
// release-or-expire. Aman dipanggil concurrent; linearizable per pool
// lewat version token di Store.
type Coordinator struct {
	store Store

	// RetryBudget batas retry conditional write yang kalah race.
	RetryBudget int
	// Now injected supaya expiry bisa dites deterministik.
	Now func() time.Time
}

func NewCoordinator(store Store) *Coordinator {
	return &Coordinator{
		store:       store,
		RetryBudget: defaultRetryBudget,
		Now:         time.Now,
	}
}

func (c *Coordinator) retries() int {
	if c.RetryBudget > 0 {
		return c.RetryBudget
	}
	return defaultRetryBudget
}

// Reserve re-read availability lalu insert reservation PENDING secara
// atomik (CAS di version pool). Dua caller rebutan unit terakhir tidak
// mungkin dua-duanya sukses: yang stale kena ErrVersionConflict dan
// re-read.
func (c *Coordinator) Reserve(ctx context.Context, key PoolKey, quantity int64, ttl time.Duration) (Reservation, error) {
	return c.reserve(ctx, key, quantity, ttl, "", "")
}

// ReserveFor sama dengan Reserve tapi bawa metadata requested_by/work_order
// (field dari sistem inventory/maintenance).
func (c *Coordinator) ReserveFor(ctx context.Context, key PoolKey, quantity int64, ttl time.Duration, requestedBy, workOrder string) (Reservation, error) {
	return c.reserve(ctx, key, quantity, ttl, requestedBy, workOrder)
}

func (c *Coordinator) reserve(ctx context.Context, key PoolKey, quantity int64, ttl time.Duration, requestedBy, workOrder string) (Reservation, error) {
	if quantity <= 0 {
		return Reservation{}, fmt.Errorf("quantity %d: must be positive", quantity)
	}
	if ttl <= 0 {
		return Reservation{}, fmt.Errorf("ttl %s: must be positive", ttl)
	}

	for attempt := 0; attempt < c.retries(); attempt++ {
		pool, err := c.store.GetPool(ctx, key)
		if err != nil {
			return Reservation{}, err
		}
		pending, err := c.store.PendingQuantity(ctx, key)
		if err != nil {
			return Reservation{}, err
		}
		if pool.Available(pending) < quantity {
			return Reservation{}, fmt.Errorf("pool %s: available %d < requested %d: %w",
				key, pool.Available(pending), quantity, ErrInsufficientAvailability)
		}

		now := c.Now()
		res := Reservation{
			ID:          uuid.NewString(),
			Type:        key.Type,
			ResourceID:  key.ID,
			Quantity:    quantity,
			Status:      StatusPending,
			RequestedBy: requestedBy,
			WorkOrder:   workOrder,
			CreatedAt:   now,
			ExpiresAt:   now.Add(ttl),
		}
		err = c.store.CreateReservation(ctx, res, pool.Version)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return Reservation{}, err
		}
		// kalah race -> ulang dengan fresh read
	}
	return Reservation{}, fmt.Errorf("reserve %s: %w", key, ErrConflictRetryExhausted)
}

// Confirm panggil fn sekali, lalu settle: PENDING->CONFIRMED + debit
// committed. fn gagal Unreachable -> reservation tetap PENDING (caller
// boleh retry, atau sweeper yang expire). fn gagal Rejected -> cancel
// langsung karena retry tidak akan menolong.
func (c *Coordinator) Confirm(ctx context.Context, id string, fn ConfirmFunc) (Reservation, error) {
	res, err := c.store.GetReservation(ctx, id)
	if err != nil {
		return Reservation{}, err
	}
	if res.Status != StatusPending {
		return Reservation{}, fmt.Errorf("reservation %s status %s: %w", id, res.Status, ErrAlreadyTerminal)
	}

	ref, err := fn(ctx, res)
	if err != nil {
		if errors.Is(err, ErrRejected) {
			// kompensasi: hold dilepas sekarang juga
			if cerr := c.Cancel(ctx, id); cerr != nil && !errors.Is(cerr, ErrAlreadyTerminal) {
				return Reservation{}, fmt.Errorf("cancel after rejection: %v: %w", cerr, err)
			}
		}
		return Reservation{}, err
	}

	for attempt := 0; attempt < c.retries(); attempt++ {
		pool, perr := c.store.GetPool(ctx, res.Pool())
		if perr != nil {
			return Reservation{}, perr
		}
		serr := c.store.SettleReservation(ctx, id, ref, pool.Version)
		if serr == nil {
			return c.store.GetReservation(ctx, id)
		}
		if !errors.Is(serr, ErrVersionConflict) {
			return Reservation{}, serr
		}
	}
	return Reservation{}, fmt.Errorf("confirm %s: %w", id, ErrConflictRetryExhausted)
}

// Cancel transisi PENDING->CANCELLED dan kembalikan availability.
// Sudah terminal -> ErrAlreadyTerminal (bukan silent success), supaya
// caller bisa bedakan "kamu yang cancel" vs "sudah keburu hilang".
func (c *Coordinator) Cancel(ctx context.Context, id string) error {
	return c.store.ReleaseReservation(ctx, id, StatusCancelled)
}

// ReleaseExpired dipanggil sweeper: semua PENDING yang lewat deadline di
// satu pool ditransisikan ke EXPIRED. Idempotent; row yang keburu
// terminal di-skip. Return reservation yang berhasil di-release.
func (c *Coordinator) ReleaseExpired(ctx context.Context, key PoolKey) ([]Reservation, error) {
	now := c.Now()
	expired, err := c.store.ExpiredPending(ctx, key, now)
	if err != nil {
		return nil, err
	}
	released := make([]Reservation, 0, len(expired))
	for _, res := range expired {
		err := c.store.ReleaseReservation(ctx, res.ID, StatusExpired)
		if errors.Is(err, ErrAlreadyTerminal) || errors.Is(err, ErrNotFound) {
			continue // race sudah resolve (confirm/cancel menang)
		}
		if err != nil {
			return released, err
		}
		res.Status = StatusExpired
		released = append(released, res)
	}
	return released, nil
}

// PoolView snapshot availability utk satu pool.
type PoolView struct {
	Type      ResourceType `json:"resource_type"`
	ID        string       `json:"resource_id"`
	Committed int64        `json:"committed"`
	Pending   int64        `json:"pending"`
	Available int64        `json:"available"`
}

func (c *Coordinator) View(ctx context.Context, key PoolKey) (PoolView, error) {
	pool, err := c.store.GetPool(ctx, key)
	if err != nil {
		return PoolView{}, err
	}
	pending, err := c.store.PendingQuantity(ctx, key)
	if err != nil {
		return PoolView{}, err
	}
	return PoolView{
		Type:      pool.Type,
		ID:        pool.ID,
		Committed: pool.Committed,
		Pending:   pending,
		Available: pool.Available(pending),
	}, nil
}

// Reservation lookup; dipakai handler GET.
func (c *Coordinator) Reservation(ctx context.Context, id string) (Reservation, error) {
	return c.store.GetReservation(ctx, id)
}
