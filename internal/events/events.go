package events

import (
	"encoding/json"
	"time"
)

const (
	EventReservationCreated   = "ReservationCreated"
	EventReservationConfirmed = "ReservationConfirmed"
	EventReservationCancelled = "ReservationCancelled"
	EventReservationExpired   = "ReservationExpired"
	EventLedgerReplenished    = "LedgerReplenished"
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // salah satu const di atas
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`   // RFC3339
	Producer      string          `json:"producer"`      // e.g., "saga-api"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // biasanya reservation_id
	Payload       json.RawMessage `json:"payload"`                  // payload spesifik
}

// ---- Payload tipe per event ----

type ReservationCreatedPayload struct {
	ReservationID string    `json:"reservation_id"`
	ResourceType  string    `json:"resource_type"`
	ResourceID    string    `json:"resource_id"`
	Quantity      int64     `json:"quantity"`
	RequestedBy   string    `json:"requested_by,omitempty"`
	WorkOrder     string    `json:"work_order,omitempty"`
	ExpiresAt     time.Time `json:"expires_at"`
}

type ReservationConfirmedPayload struct {
	ReservationID string `json:"reservation_id"`
	ResourceType  string `json:"resource_type"`
	ResourceID    string `json:"resource_id"`
	Quantity      int64  `json:"quantity"`
	ExternalRef   string `json:"external_ref"`
}

type ReservationCancelledPayload struct {
	ReservationID string `json:"reservation_id"`
	ResourceType  string `json:"resource_type"`
	ResourceID    string `json:"resource_id"`
	Quantity      int64  `json:"quantity"`
	Reason        string `json:"reason,omitempty"` // e.g., CALLER_CANCELLED | CONFIRMER_REJECTED
}

type ReservationExpiredPayload struct {
	ReservationID string    `json:"reservation_id"`
	ResourceType  string    `json:"resource_type"`
	ResourceID    string    `json:"resource_id"`
	Quantity      int64     `json:"quantity"`
	ExpiredAt     time.Time `json:"expired_at"`
}

// LedgerReplenishedPayload delta committed dari origin system
// (restocking, deposit, schedule creation). Delta boleh negatif
// (settlement eksternal / koreksi).
type LedgerReplenishedPayload struct {
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id"`
	Delta        int64  `json:"delta"`
	Reason       string `json:"reason,omitempty"`
}
