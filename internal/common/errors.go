// Package common defines shared constants and sentinel errors used across
// the fedid server layers. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")

	// Validation errors raised at the request boundary.
	ErrorValidation = errors.New("validation error")

	// Pepper errors.
	ErrInvalidPepper = errors.New("invalid pepper")
	ErrStalePepper   = errors.New("pepper changed concurrently")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")

	// Rate limiting.
	ErrRateLimited = errors.New("rate limit exceeded")
)
