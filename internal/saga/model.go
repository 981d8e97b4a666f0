package saga

import "time"

type ResourceType string

// Tiga pool type bawaan; string terbuka supaya service lain bisa nambah sendiri.
const (
	TypeStock   ResourceType = "stock"
	TypeBalance ResourceType = "balance"
	TypeSlot    ResourceType = "slot"
)

// PoolKey identitas satu pool resource: (type, id).
// Contoh: (stock, PART-001), (balance, 1010), (slot, TECH-001:2023-11-01T09).
type PoolKey struct {
	Type ResourceType
	ID   string
}

func (k PoolKey) String() string { return string(k.Type) + ":" + k.ID }

// Pool ledger entry. Committed hanya berubah lewat replenishment eksternal
// atau settle (confirm). Version = optimistic concurrency token per pool.
type Pool struct {
	Type      ResourceType
	ID        string
	Committed int64
	Version   int64
	UpdatedAt time.Time
}

func (p Pool) Key() PoolKey { return PoolKey{Type: p.Type, ID: p.ID} }

// Available = committed - sum(PENDING). Dihitung, tidak pernah disimpan.
func (p Pool) Available(pending int64) int64 { return p.Committed - pending }

type Reservation struct {
	ID          string
	Type        ResourceType
	ResourceID  string
	Quantity    int64
	Status      Status // lihat status.go
	RequestedBy string
	WorkOrder   string
	ExternalRef string // diisi hanya saat CONFIRMED
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

func (r Reservation) Pool() PoolKey { return PoolKey{Type: r.Type, ID: r.ResourceID} }

// Expired hanya berlaku utk PENDING; status terminal tidak pernah expire.
func (r Reservation) Expired(now time.Time) bool {
	return r.Status == StatusPending && !now.Before(r.ExpiresAt)
}
