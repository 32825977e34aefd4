package store

import "errors"

// Invalid-argument errors.
var (
	ErrNegativeQuantity = errors.New("store: quantity must not be negative")
	ErrNoArticle        = errors.New("store: article must not be nothing")
	ErrInvalidDivisor   = errors.New("store: divisor must be at least 1")
	ErrInvalidCapacity  = errors.New("store: capacity must not be negative or below the current count")
	ErrInvalidMember    = errors.New("store: invalid aggregate member")
	ErrCorruptState     = errors.New("store: corrupt state blob")
)

// Invalid-state errors.
var (
	ErrUnenlistedMutation = errors.New("store: store is enlisted in an open scope not carried by the context")
	ErrNoCoordinator      = errors.New("store: aggregate has no transaction coordinator")
)

// ErrUnsupported is returned by aggregates for persistence operations.
var ErrUnsupported = errors.New("store: operation not supported")
