package auth

import "errors"

// Tenant resolution errors. All of them map to 401 at the HTTP boundary.
var (
	ErrTokenMissing = errors.New("auth: missing access token")
	ErrTokenInvalid = errors.New("auth: invalid access token")
	ErrNoTenant     = errors.New("auth: token has no service claim")
)
