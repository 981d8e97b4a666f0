package saga

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemStore implementasi Store in-memory. Dipakai di test dan utk embedded
// setup; semantik version token persis sama dengan store Postgres.
type MemStore struct {
	mu           sync.Mutex
	pools        map[PoolKey]*Pool
	reservations map[string]*Reservation
}

func NewMemStore() *MemStore {
	return &MemStore{
		pools:        make(map[PoolKey]*Pool),
		reservations: make(map[string]*Reservation),
	}
}

// SeedPool helper utk test & bootstrap: set committed awal.
func (s *MemStore) SeedPool(key PoolKey, committed int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pools[key] = &Pool{Type: key.Type, ID: key.ID, Committed: committed, Version: 1, UpdatedAt: time.Now()}
}

func (s *MemStore) GetPool(_ context.Context, key PoolKey) (Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pools[key]
	if !ok {
		return Pool{}, fmt.Errorf("pool %s: %w", key, ErrNotFound)
	}
	return *p, nil
}

func (s *MemStore) PendingQuantity(_ context.Context, key PoolKey) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingLocked(key), nil
}

func (s *MemStore) pendingLocked(key PoolKey) int64 {
	var sum int64
	for _, r := range s.reservations {
		if r.Status == StatusPending && r.Pool() == key {
			sum += r.Quantity
		}
	}
	return sum
}

func (s *MemStore) ApplyLedgerDelta(_ context.Context, key PoolKey, delta int64) (Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pools[key]
	if !ok {
		p = &Pool{Type: key.Type, ID: key.ID, Version: 1}
		s.pools[key] = p
	}
	next := p.Committed + delta
	if next < 0 {
		next = 0
	}
	p.Committed = next
	p.Version++
	p.UpdatedAt = time.Now()
	return *p, nil
}

func (s *MemStore) CreateReservation(_ context.Context, res Reservation, poolVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pools[res.Pool()]
	if !ok {
		return fmt.Errorf("pool %s: %w", res.Pool(), ErrNotFound)
	}
	if p.Version != poolVersion {
		return ErrVersionConflict
	}
	p.Version++
	p.UpdatedAt = time.Now()
	cp := res
	s.reservations[res.ID] = &cp
	return nil
}

func (s *MemStore) GetReservation(_ context.Context, id string) (Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[id]
	if !ok {
		return Reservation{}, fmt.Errorf("reservation %s: %w", id, ErrNotFound)
	}
	return *r, nil
}

func (s *MemStore) SettleReservation(_ context.Context, id, externalRef string, poolVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[id]
	if !ok {
		return fmt.Errorf("reservation %s: %w", id, ErrNotFound)
	}
	if r.Status != StatusPending {
		return fmt.Errorf("reservation %s status %s: %w", id, r.Status, ErrAlreadyTerminal)
	}
	p, ok := s.pools[r.Pool()]
	if !ok {
		return fmt.Errorf("pool %s: %w", r.Pool(), ErrNotFound)
	}
	if p.Version != poolVersion {
		return ErrVersionConflict
	}
	p.Committed -= r.Quantity
	p.Version++
	p.UpdatedAt = time.Now()
	r.Status = StatusConfirmed
	r.ExternalRef = externalRef
	return nil
}

func (s *MemStore) ReleaseReservation(_ context.Context, id string, to Status) error {
	if to != StatusCancelled && to != StatusExpired {
		return fmt.Errorf("release to %s: invalid target status", to)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[id]
	if !ok {
		return fmt.Errorf("reservation %s: %w", id, ErrNotFound)
	}
	if !CanTransition(r.Status, to) {
		return fmt.Errorf("reservation %s status %s: %w", id, r.Status, ErrAlreadyTerminal)
	}
	r.Status = to
	// availability view berubah -> bump version supaya reserve yang in-flight re-read
	if p, ok := s.pools[r.Pool()]; ok {
		p.Version++
		p.UpdatedAt = time.Now()
	}
	return nil
}

func (s *MemStore) ExpiredPending(_ context.Context, key PoolKey, now time.Time) ([]Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Reservation
	for _, r := range s.reservations {
		if r.Pool() == key && r.Status == StatusPending && !now.Before(r.ExpiresAt) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out, nil
}

func (s *MemStore) PoolsWithExpired(_ context.Context, now time.Time) ([]PoolKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[PoolKey]bool{}
	var out []PoolKey
	for _, r := range s.reservations {
		if r.Status == StatusPending && !now.Before(r.ExpiresAt) && !seen[r.Pool()] {
			seen[r.Pool()] = true
			out = append(out, r.Pool())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}
