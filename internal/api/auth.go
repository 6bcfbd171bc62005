package api

import (
	"errors"
	"slices"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/portico-estate/graphscopeproxy/internal/apierrors"
	"github.com/portico-estate/graphscopeproxy/internal/config"
	"github.com/portico-estate/graphscopeproxy/internal/httputil"
	"github.com/portico-estate/graphscopeproxy/internal/scope"
	"github.com/portico-estate/graphscopeproxy/internal/token"
)

// AuthHandler serves token issuance and lifecycle endpoints.
type AuthHandler struct {
	cfg      *config.Config
	resolver *scope.Resolver
	tokens   *token.Service
	log      zerolog.Logger
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(cfg *config.Config, resolver *scope.Resolver, tokens *token.Service, logger zerolog.Logger) *AuthHandler {
	return &AuthHandler{cfg: cfg, resolver: resolver, tokens: tokens, log: logger}
}

type loginRequest struct {
	APIKey  string `json:"apiKey"`
	GroupID string `json:"groupId"`
}

// loginResponse is the literal wire shape spec.md §6 specifies for /auth/login and /auth/refresh — a flat object,
// not wrapped in the generic {"data": ...} envelope the rest of this package's success responses use.
type loginResponse struct {
	Token         string `json:"token"`
	GroupID       string `json:"groupId"`
	ResourceCount int    `json:"resourceCount"`
	ExpiresIn     int    `json:"expiresIn"`
}

// Login handles POST /auth/login. The caller presents a pre-provisioned API key and, if that key is bound to more
// than one group, the specific group it wants a token scoped to.
func (h *AuthHandler) Login(c fiber.Ctx) error {
	var body loginRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.InvalidBody, "Invalid request body")
	}
	if body.APIKey == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.InvalidBody, "apiKey is required")
	}

	groups, ok := h.cfg.GroupsForAPIKey(body.APIKey)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.InvalidCredentials, "Invalid API key")
	}

	groupID, err := selectGroup(groups, body.GroupID)
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError, err.Error())
	}

	sc, err := h.resolver.Resolve(c.Context(), groupID)
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadGateway, apierrors.UpstreamUnavailable, "Failed to materialize scope from upstream")
	}
	if sc.Size() == 0 {
		return httputil.Fail(c, fiber.StatusNotFound, apierrors.EmptyScope, "Group resolves to an empty resource scope")
	}

	signed, _, err := h.tokens.Mint(body.APIKey, groupID, sc.Size())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to mint token")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "Failed to issue token")
	}

	return c.JSON(loginResponse{
		Token:         signed,
		GroupID:       groupID,
		ResourceCount: sc.Size(),
		ExpiresIn:     h.cfg.JWTExpirationSeconds,
	})
}

// Refresh handles POST /auth/refresh. It force-rebuilds the caller's scope from upstream, revokes the presented
// token, and mints a fresh one bound to the same group — giving callers a way to pick up membership changes without
// waiting for the scope cache to expire naturally.
func (h *AuthHandler) Refresh(c fiber.Ctx) error {
	claims, ok := claimsFromContext(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorized, "Missing token claims")
	}

	sc, err := h.resolver.Refresh(c.Context(), claims.GroupID)
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadGateway, apierrors.UpstreamUnavailable, "Failed to refresh scope from upstream")
	}
	if sc.Size() == 0 {
		return httputil.Fail(c, fiber.StatusNotFound, apierrors.EmptyScope, "Group resolves to an empty resource scope")
	}

	oldToken := bearerToken(c)
	signed, _, err := h.tokens.Mint(claims.Subject, claims.GroupID, sc.Size())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to mint refreshed token")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "Failed to issue token")
	}
	if oldToken != "" {
		if err := h.tokens.Revoke(c.Context(), oldToken); err != nil {
			h.log.Warn().Err(err).Msg("Failed to revoke superseded token")
		}
	}

	return c.JSON(loginResponse{
		Token:         signed,
		GroupID:       claims.GroupID,
		ResourceCount: sc.Size(),
		ExpiresIn:     h.cfg.JWTExpirationSeconds,
	})
}

// Logout handles POST /auth/logout, revoking the presented token immediately rather than waiting for its natural
// expiry.
func (h *AuthHandler) Logout(c fiber.Ctx) error {
	tokenStr := bearerToken(c)
	if tokenStr == "" {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorized, "Missing authorization header")
	}
	if err := h.tokens.Revoke(c.Context(), tokenStr); err != nil {
		if errors.Is(err, token.ErrMalformed) {
			return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.TokenMalformed, "Token is malformed")
		}
		h.log.Error().Err(err).Msg("Failed to revoke token")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "Failed to revoke token")
	}
	return httputil.Success(c, fiber.Map{"revoked": true})
}

func selectGroup(bound []string, requested string) (string, error) {
	if requested == "" {
		if len(bound) == 1 {
			return bound[0], nil
		}
		return "", errors.New("groupId is required for API keys bound to more than one group")
	}
	if !slices.Contains(bound, requested) {
		return "", errors.New("groupId is not bound to this API key")
	}
	return requested, nil
}

func bearerToken(c fiber.Ctx) string {
	header := c.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) {
		return ""
	}
	return header[len(prefix):]
}
