// Package apierrors defines the wire-level error codes returned in the
// "error.code" field of every non-2xx response.
package apierrors

// Code identifies a class of API error for machine-readable handling by clients.
type Code string

const (
	InvalidBody         Code = "INVALID_BODY"
	InvalidCredentials  Code = "INVALID_CREDENTIALS"
	Unauthorized        Code = "UNAUTHORIZED"
	TokenExpired        Code = "TOKEN_EXPIRED"
	TokenRevoked        Code = "TOKEN_REVOKED"
	TokenMalformed      Code = "TOKEN_MALFORMED"
	ScopeMissing        Code = "SCOPE_MISSING"
	OutOfScope          Code = "OUT_OF_SCOPE"
	EmptyScope          Code = "EMPTY_SCOPE"
	UpstreamUnavailable Code = "UPSTREAM_UNAVAILABLE"
	UpstreamTimeout     Code = "UPSTREAM_TIMEOUT"
	NotFound            Code = "NOT_FOUND"
	ValidationError     Code = "VALIDATION_ERROR"
	RateLimited         Code = "RATE_LIMITED"
	ServiceUnavailable  Code = "SERVICE_UNAVAILABLE"
	InternalError       Code = "INTERNAL_ERROR"
)
