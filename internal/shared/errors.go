package shared

import "errors"

var (
	// ErrNotFound indicates a referenced record does not resolve.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates a payload was rejected before persistence.
	ErrValidation = errors.New("validation failed")
)
