package saga

import "errors"

// Taksonomi error inti. Layer luar (httpx dll) yang mapping ke status code;
// package ini tidak pernah format pesan user-facing.
var (
	// ErrNotFound: pool atau reservation tidak ada. Permanen, jangan retry.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientAvailability: available < quantity saat keputusan. Business rule.
	ErrInsufficientAvailability = errors.New("insufficient availability")

	// ErrAlreadyTerminal: reservation sudah CONFIRMED/EXPIRED/CANCELLED.
	ErrAlreadyTerminal = errors.New("reservation already terminal")

	// ErrUnreachable: remote confirmer tidak bisa dihubungi (network/timeout/5xx).
	// Aman di-retry caller, atau biarkan sweeper yang expire.
	ErrUnreachable = errors.New("remote confirmer unreachable")

	// ErrRejected: remote confirmer menolak eksplisit. Retry tidak akan menolong.
	ErrRejected = errors.New("remote confirmer rejected")

	// ErrVersionConflict: conditional write kalah race (stale version token).
	// Internal; coordinator retry dengan fresh read.
	ErrVersionConflict = errors.New("pool version conflict")

	// ErrConflictRetryExhausted: contention melebihi retry budget. Transient.
	ErrConflictRetryExhausted = errors.New("conflict retry budget exhausted")
)
