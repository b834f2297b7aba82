package models

import "errors"

// Validation errors are caller-correctable and never retried automatically.
var (
	ErrInvalidTransition = errors.New("invalid transition")
	ErrInvalidThreshold  = errors.New("invalid threshold")
	ErrInvalidQuantity   = errors.New("invalid quantity")
	ErrUnknownTaxRate    = errors.New("unknown tax rate")
	ErrMissingMultiplier = errors.New("missing cup size multiplier")
	ErrInvalidItem       = errors.New("invalid item")
	ErrInvalidOrder      = errors.New("invalid order")
	ErrInvalidArgument   = errors.New("invalid argument")
)

var (
	// ErrConcurrentTransitionConflict means another transition for the same order
	// committed first. Re-read the order state and retry.
	ErrConcurrentTransitionConflict = errors.New("concurrent transition conflict")

	ErrDependencyUnavailable = errors.New("dependency unavailable")

	// ErrDataCorruption is never repaired automatically.
	ErrDataCorruption = errors.New("data corruption")

	ErrNotFound = errors.New("not found")
)
