package model

import "errors"

var (
	// Session related errors
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrSessionLoading   = errors.New("session is still initializing")

	// Token related errors
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("token invalid")

	// Upstream related errors
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// Generic errors
	ErrInvalidInput = errors.New("invalid input")
)
