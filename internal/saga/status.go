package saga

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusExpired   Status = "EXPIRED"
	StatusCancelled Status = "CANCELLED"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:   {StatusConfirmed: true, StatusExpired: true, StatusCancelled: true},
	StatusConfirmed: {},
	StatusExpired:   {},
	StatusCancelled: {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// Terminal: sekali masuk tidak pernah keluar lagi.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusExpired || s == StatusCancelled
}
