package repository

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist or is no longer live.
	ErrNotFound = errors.New("repository: not found")
	// ErrInvalidArgument indicates a required key was blank.
	ErrInvalidArgument = errors.New("repository: invalid argument")
	// ErrCapacityExceeded indicates a bounded store is full of live records.
	ErrCapacityExceeded = errors.New("repository: capacity exceeded")
)
