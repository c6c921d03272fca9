package entity

import "errors"

// Domain-level sentinel errors shared across the reminder pipeline.
var (
	// ErrNotFound indicates that a requested entity (template, reminder
	// target, notification) does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrInvalidTransition indicates a delivery state machine misuse:
	// the requested event is not valid from the notification's current
	// status (e.g. delivered -> sending).
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrValidation indicates that an entity failed its own invariant
	// checks (missing recipient address, empty dedupe key, etc.).
	ErrValidation = errors.New("entity validation failed")
)
