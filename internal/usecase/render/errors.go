package render

import "errors"

// Sentinel errors for template rendering.
var (
	// ErrTemplateNotFound indicates that neither the requested template
	// nor any fallback exists for the (tenant, code, channel) key.
	ErrTemplateNotFound = errors.New("template not found")

	// ErrMissingVariable indicates that a placeholder the template
	// marks as required was not supplied by the caller.
	ErrMissingVariable = errors.New("missing required template variable")

	// ErrVariableValidation indicates that a supplied variable failed
	// type coercion (e.g. a date placeholder that is not a date).
	ErrVariableValidation = errors.New("template variable validation failed")
)
