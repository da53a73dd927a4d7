package engine

import "errors"

var (
	// ErrUnknownStation rejects observations for stations that were never
	// registered.
	ErrUnknownStation = errors.New("unknown station")

	// ErrInvalidObservation rejects readings that violate the capacity
	// invariant or carry negative counts.
	ErrInvalidObservation = errors.New("invalid observation")

	// ErrInvalidRange rejects aggregation queries with a malformed window.
	ErrInvalidRange = errors.New("invalid query range")

	// ErrNotFound signals a lookup for an entity that does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvariantViolation signals an internal bug, such as a flow edge
	// whose endpoints belong to different stations. It is never caused by
	// bad input alone.
	ErrInvariantViolation = errors.New("flow invariant violation")
)
