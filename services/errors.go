package services

import "errors"

// Error taxonomy shared by the HTTP layer. Handlers translate these into
// status codes; anything unwrapped is a 500.
var (
	// ErrValidation covers bad input: unknown menu items, quantity < 1,
	// intents for already-paid orders.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound covers tenant-scoped lookups that matched nothing.
	ErrNotFound = errors.New("not found")

	// ErrConflict covers state races: the order was paid or cancelled
	// between check and append. Callers must re-fetch before retrying.
	ErrConflict = errors.New("conflict")

	// ErrUpstream covers gateway and rate API failures. Safe to retry.
	ErrUpstream = errors.New("upstream unavailable")
)
