package events

const (
	TopicReservationCreated   = "reservation.created"
	TopicReservationConfirmed = "reservation.confirmed"
	TopicReservationCancelled = "reservation.cancelled"
	TopicReservationExpired   = "reservation.expired"
	TopicLedgerReplenish      = "ledger.replenish"
)

// Partition key = resource_type:resource_id, supaya semua event 1 pool
// maintain urutan.
func PartitionKey(resourceType, resourceID string) []byte {
	return []byte(resourceType + ":" + resourceID)
}
