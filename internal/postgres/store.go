package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-resource-saga.git/internal/saga"
)

// Store implementasi saga.Store di atas Postgres. Semua mutasi dibungkus
// satu transaction per pool; version di row pools = optimistic token,
// writer yang bawa version stale harus kalah (bukan last-write-wins).
type Store struct{ DB *pgxpool.Pool }

func NewStore(db *pgxpool.Pool) *Store { return &Store{DB: db} }

var _ saga.Store = (*Store)(nil)

func (s *Store) GetPool(ctx context.Context, key saga.PoolKey) (saga.Pool, error) {
	var p saga.Pool
	p.Type, p.ID = key.Type, key.ID
	err := s.DB.QueryRow(ctx, `
		SELECT committed, version, updated_at FROM pools
		WHERE resource_type=$1 AND resource_id=$2`,
		key.Type, key.ID).Scan(&p.Committed, &p.Version, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return saga.Pool{}, fmt.Errorf("pool %s: %w", key, saga.ErrNotFound)
	}
	if err != nil {
		return saga.Pool{}, err
	}
	return p, nil
}

func (s *Store) PendingQuantity(ctx context.Context, key saga.PoolKey) (int64, error) {
	var sum int64
	err := s.DB.QueryRow(ctx, `
		SELECT COALESCE(SUM(quantity), 0) FROM reservations
		WHERE resource_type=$1 AND resource_id=$2 AND status='PENDING'`,
		key.Type, key.ID).Scan(&sum)
	return sum, err
}

// ApplyLedgerDelta upsert: pool baru dibuat saat replenishment pertama
// (origin system yang jadi sumber kebenaran committed).
func (s *Store) ApplyLedgerDelta(ctx context.Context, key saga.PoolKey, delta int64) (saga.Pool, error) {
	var p saga.Pool
	p.Type, p.ID = key.Type, key.ID
	err := s.DB.QueryRow(ctx, `
		INSERT INTO pools (resource_type, resource_id, committed, version, updated_at)
		VALUES ($1, $2, GREATEST($3, 0), 1, now())
		ON CONFLICT (resource_type, resource_id) DO UPDATE
		SET committed  = GREATEST(pools.committed + $3, 0),
		    version    = pools.version + 1,
		    updated_at = now()
		RETURNING committed, version, updated_at`,
		key.Type, key.ID, delta).Scan(&p.Committed, &p.Version, &p.UpdatedAt)
	if err != nil {
		return saga.Pool{}, err
	}
	return p, nil
}

// CreateReservation: bump version conditional + insert PENDING dalam satu
// tx. UPDATE-nya yang jadi linearization point: kalau 0 row, reader stale.
func (s *Store) CreateReservation(ctx context.Context, res saga.Reservation, poolVersion int64) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `
		UPDATE pools SET version = version + 1, updated_at = now()
		WHERE resource_type=$1 AND resource_id=$2 AND version=$3`,
		res.Type, res.ResourceID, poolVersion)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		// bedakan pool hilang vs version kalah
		var exists bool
		if err := tx.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM pools WHERE resource_type=$1 AND resource_id=$2)`,
			res.Type, res.ResourceID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("pool %s: %w", res.Pool(), saga.ErrNotFound)
		}
		return saga.ErrVersionConflict
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO reservations (id, resource_type, resource_id, quantity, status,
		                          requested_by, work_order, created_at, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		res.ID, res.Type, res.ResourceID, res.Quantity, res.Status,
		res.RequestedBy, res.WorkOrder, res.CreatedAt, res.ExpiresAt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) GetReservation(ctx context.Context, id string) (saga.Reservation, error) {
	return scanReservation(s.DB.QueryRow(ctx, `
		SELECT id, resource_type, resource_id, quantity, status,
		       requested_by, work_order, external_ref, created_at, expires_at
		FROM reservations WHERE id=$1`, id), id)
}

func scanReservation(row pgx.Row, id string) (saga.Reservation, error) {
	var r saga.Reservation
	err := row.Scan(&r.ID, &r.Type, &r.ResourceID, &r.Quantity, &r.Status,
		&r.RequestedBy, &r.WorkOrder, &r.ExternalRef, &r.CreatedAt, &r.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return saga.Reservation{}, fmt.Errorf("reservation %s: %w", id, saga.ErrNotFound)
	}
	if err != nil {
		return saga.Reservation{}, err
	}
	return r, nil
}

// SettleReservation: PENDING->CONFIRMED + debit committed, dua-duanya
// conditional, satu tx. external_ref ditulis sekali.
func (s *Store) SettleReservation(ctx context.Context, id, externalRef string, poolVersion int64) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var rType saga.ResourceType
	var rID string
	var qty int64
	err = tx.QueryRow(ctx, `
		UPDATE reservations SET status='CONFIRMED', external_ref=$2
		WHERE id=$1 AND status='PENDING'
		RETURNING resource_type, resource_id, quantity`,
		id, externalRef).Scan(&rType, &rID, &qty)
	if errors.Is(err, pgx.ErrNoRows) {
		var status saga.Status
		gerr := tx.QueryRow(ctx, `SELECT status FROM reservations WHERE id=$1`, id).Scan(&status)
		if errors.Is(gerr, pgx.ErrNoRows) {
			return fmt.Errorf("reservation %s: %w", id, saga.ErrNotFound)
		}
		if gerr != nil {
			return gerr
		}
		return fmt.Errorf("reservation %s status %s: %w", id, status, saga.ErrAlreadyTerminal)
	}
	if err != nil {
		return err
	}

	ct, err := tx.Exec(ctx, `
		UPDATE pools SET committed = committed - $3, version = version + 1, updated_at = now()
		WHERE resource_type=$1 AND resource_id=$2 AND version=$4`,
		rType, rID, qty, poolVersion)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return saga.ErrVersionConflict // rollback via defer, status tetap PENDING
	}
	return tx.Commit(ctx)
}

// ReleaseReservation: PENDING->CANCELLED|EXPIRED. Version pool di-bump
// tanpa syarat: availability view berubah, reserve in-flight harus re-read.
func (s *Store) ReleaseReservation(ctx context.Context, id string, to saga.Status) error {
	if to != saga.StatusCancelled && to != saga.StatusExpired {
		return fmt.Errorf("release to %s: invalid target status", to)
	}
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var rType saga.ResourceType
	var rID string
	err = tx.QueryRow(ctx, `
		UPDATE reservations SET status=$2
		WHERE id=$1 AND status='PENDING'
		RETURNING resource_type, resource_id`,
		id, to).Scan(&rType, &rID)
	if errors.Is(err, pgx.ErrNoRows) {
		var status saga.Status
		gerr := tx.QueryRow(ctx, `SELECT status FROM reservations WHERE id=$1`, id).Scan(&status)
		if errors.Is(gerr, pgx.ErrNoRows) {
			return fmt.Errorf("reservation %s: %w", id, saga.ErrNotFound)
		}
		if gerr != nil {
			return gerr
		}
		return fmt.Errorf("reservation %s status %s: %w", id, status, saga.ErrAlreadyTerminal)
	}
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE pools SET version = version + 1, updated_at = now()
		WHERE resource_type=$1 AND resource_id=$2`,
		rType, rID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) ExpiredPending(ctx context.Context, key saga.PoolKey, now time.Time) ([]saga.Reservation, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, resource_type, resource_id, quantity, status,
		       requested_by, work_order, external_ref, created_at, expires_at
		FROM reservations
		WHERE resource_type=$1 AND resource_id=$2 AND status='PENDING' AND expires_at <= $3
		ORDER BY expires_at`,
		key.Type, key.ID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []saga.Reservation
	for rows.Next() {
		var r saga.Reservation
		if err := rows.Scan(&r.ID, &r.Type, &r.ResourceID, &r.Quantity, &r.Status,
			&r.RequestedBy, &r.WorkOrder, &r.ExternalRef, &r.CreatedAt, &r.ExpiresAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) PoolsWithExpired(ctx context.Context, now time.Time) ([]saga.PoolKey, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT DISTINCT resource_type, resource_id FROM reservations
		WHERE status='PENDING' AND expires_at <= $1`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []saga.PoolKey
	for rows.Next() {
		var k saga.PoolKey
		if err := rows.Scan(&k.Type, &k.ID); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}
