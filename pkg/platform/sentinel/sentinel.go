package sentinel

import "errors"

// Sentinel errors for storage facts. Stores return these (optionally wrapped)
// and services translate them into domain errors:
// - ErrNotFound: no row for the key (unknown token, missing subscriber)
// - ErrAlreadyUsed: the row exists in a state that forbids the write
//   (re-registering an already confirmed email)
// - ErrConflict: a uniqueness constraint rejected the write
//
// Validation failures never use these; see pkg/domain-errors.
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrAlreadyUsed = errors.New("already used")
)
