package dao

import "errors"

// Common, reusable DAO errors. Sentinel variables allow callers to detect
// conditions via errors.Is instead of brittle string comparisons.

var (
	// ErrNotFound is returned when the requested entity does not exist in
	// the underlying storage.
	ErrNotFound = errors.New("dao: not found")

	// ErrInvalidID indicates that the supplied ID/key is empty or otherwise
	// invalid.
	ErrInvalidID = errors.New("dao: invalid id")

	// ErrNilEntity is returned when the caller attempts to persist a nil
	// pointer.
	ErrNilEntity = errors.New("dao: nil entity")

	// ErrConflict is returned to the loser of a concurrent conditional
	// write. Engine callers treat it as a silent no-op, never a user-facing
	// failure.
	ErrConflict = errors.New("dao: conditional write lost")

	// ErrDuplicateFingerprint is returned when an insert collides with the
	// (run id, unites fingerprint) uniqueness constraint.
	ErrDuplicateFingerprint = errors.New("dao: duplicate unites fingerprint")
)
