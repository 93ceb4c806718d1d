package auth

import "errors"

var (
	// ErrTokenInvalid is returned for malformed, expired or wrongly signed tokens.
	ErrTokenInvalid = errors.New("invalid token")

	// ErrForbidden is returned when a token does not grant the requested floor.
	ErrForbidden = errors.New("insufficient permissions")
)
