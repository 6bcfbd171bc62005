package api

import (
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/portico-estate/graphscopeproxy/internal/apierrors"
	"github.com/portico-estate/graphscopeproxy/internal/httputil"
	"github.com/portico-estate/graphscopeproxy/internal/scope"
	"github.com/portico-estate/graphscopeproxy/internal/token"
)

// claimsLocalsKey and scopeLocalsKey are the fiber.Ctx Locals keys RequireBearer stores validated claims and the
// resolved scope under.
const (
	claimsLocalsKey = "claims"
	scopeLocalsKey  = "scope"
)

// RequireBearer returns middleware that validates a Bearer token from the Authorization header, then resolves the
// token's scope directly from cache — by design (spec.md §4.4 step 4) it never rebuilds on a cache miss. A group
// that was invalidated via /admin/refresh or that simply expired from the cache causes every token bound to it to
// fail closed with ScopeMissing, forcing the caller back through /auth/login rather than silently handing out a scope
// the invalidation was meant to retire.
func RequireBearer(tokens *token.Service, cache scope.Cache, logger zerolog.Logger) fiber.Handler {
	return func(c fiber.Ctx) error {
		header := c.Get("Authorization")
		const prefix = "Bearer "
		if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
			return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorized, "Missing or malformed authorization header")
		}
		tokenStr := header[len(prefix):]

		claims, err := tokens.Validate(c.Context(), tokenStr)
		if err != nil {
			return httputil.Fail(c, fiber.StatusUnauthorized, tokenErrorCode(err), tokenErrorMessage(err))
		}

		sc, ok, err := cache.Get(c.Context(), claims.GroupID)
		if err != nil {
			logger.Error().Err(err).Str("group_id", claims.GroupID).Msg("Scope cache lookup failed")
			return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "Failed to resolve scope")
		}
		if !ok || sc.Expired(time.Now()) {
			return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.ScopeMissing, "Scope is no longer cached; please re-authenticate")
		}

		c.Locals(claimsLocalsKey, claims)
		c.Locals(scopeLocalsKey, sc)
		return c.Next()
	}
}

// claimsFromContext retrieves the claims RequireBearer stored for the current request.
func claimsFromContext(c fiber.Ctx) (*token.Claims, bool) {
	claims, ok := c.Locals(claimsLocalsKey).(*token.Claims)
	return claims, ok
}

// scopeFromContext retrieves the scope RequireBearer resolved for the current request.
func scopeFromContext(c fiber.Ctx) (*scope.Scope, bool) {
	sc, ok := c.Locals(scopeLocalsKey).(*scope.Scope)
	return sc, ok
}

func tokenErrorCode(err error) apierrors.Code {
	switch {
	case errors.Is(err, token.ErrExpired):
		return apierrors.TokenExpired
	case errors.Is(err, token.ErrRevoked):
		return apierrors.TokenRevoked
	case errors.Is(err, token.ErrMalformed), errors.Is(err, token.ErrSignatureInvalid):
		return apierrors.TokenMalformed
	default:
		return apierrors.Unauthorized
	}
}

func tokenErrorMessage(err error) string {
	switch {
	case errors.Is(err, token.ErrExpired):
		return "Token has expired"
	case errors.Is(err, token.ErrRevoked):
		return "Token has been revoked"
	case errors.Is(err, token.ErrMalformed), errors.Is(err, token.ErrSignatureInvalid):
		return "Token is malformed"
	default:
		return "Invalid token"
	}
}

// RequireAdminKey returns middleware that validates the X-Admin-Key header against adminKey using a constant-time
// comparison.
func RequireAdminKey(adminKey string) fiber.Handler {
	return func(c fiber.Ctx) error {
		got := c.Get("X-Admin-Key")
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(adminKey)) != 1 {
			return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorized, "Invalid or missing admin key")
		}
		return c.Next()
	}
}
