package store

import "errors"

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a conditional write finds the record
	// changed since it was read
	ErrConflict = errors.New("conflicting update")
)
