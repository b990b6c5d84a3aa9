package store

import "errors"

// Sentinel errors for object store operations.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)
