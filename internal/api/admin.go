package api

import (
	"context"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/portico-estate/graphscopeproxy/internal/apierrors"
	"github.com/portico-estate/graphscopeproxy/internal/httputil"
	"github.com/portico-estate/graphscopeproxy/internal/scope"
)

// AdminHandler serves administrative cache-management endpoints, gated by RequireAdminKey.
type AdminHandler struct {
	cache   scope.Cache
	publish func(ctx context.Context, groupID string) error
	log     zerolog.Logger
}

// NewAdminHandler creates a new admin handler. publish is called after the local cache entry is removed, to fan the
// invalidation out to every other proxy instance (typically (*scope.Publisher).Invalidate); pass nil when running a
// single instance with CacheBackend=memory, where there's nothing to fan out to.
func NewAdminHandler(cache scope.Cache, publish func(ctx context.Context, groupID string) error, logger zerolog.Logger) *AdminHandler {
	return &AdminHandler{cache: cache, publish: publish, log: logger}
}

// RefreshGroup handles POST /admin/refresh/{groupId}. It evicts the group's cached scope on this instance (and, when
// a distributed cache backend is configured, publishes the invalidation to every other instance). Protected requests
// carrying a token bound to the group then fail with ScopeMissing until the caller logs in again, which rebuilds the
// scope from current upstream membership.
func (h *AdminHandler) RefreshGroup(c fiber.Ctx) error {
	groupID := c.Params("groupId")
	if groupID == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.InvalidBody, "groupId is required")
	}

	if err := h.cache.Remove(c.Context(), groupID); err != nil {
		h.log.Error().Err(err).Str("group_id", groupID).Msg("Failed to evict cached scope")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "Failed to invalidate group scope")
	}

	if h.publish != nil {
		if err := h.publish(c.Context(), groupID); err != nil {
			h.log.Warn().Err(err).Str("group_id", groupID).Msg("Failed to publish scope invalidation to other instances")
		}
	}

	return httputil.Success(c, fiber.Map{"groupId": groupID, "invalidated": true})
}
