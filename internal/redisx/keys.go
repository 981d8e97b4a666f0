package redisx

import "time"

const (
	// Cache snapshot reservation: reservation:{reservation_id} -> JSON
	KeyReservation = "reservation:%s"

	// Cache availability pool: pool:{resource_type}:{resource_id} -> JSON view
	KeyPoolView = "pool:%s:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLReservationCache = 5 * time.Minute
	TTLPoolViewCache    = 3 * time.Second // availability cepat basi, cache tipis saja
	TTLDedup            = 48 * time.Hour
)
