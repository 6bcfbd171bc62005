package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/portico-estate/graphscopeproxy/internal/httputil"
)

// CachePinger reports whether the configured scope cache backend is reachable. *redis.Client (wrapped) satisfies it
// for CacheBackend=distributed; the memory backend has nothing to ping and is always healthy.
type CachePinger interface {
	Ping(ctx context.Context) error
}

// alwaysHealthyCache is the CachePinger used when CacheBackend=memory — there's no external dependency to fail.
type alwaysHealthyCache struct{}

func (alwaysHealthyCache) Ping(context.Context) error { return nil }

// AlwaysHealthyCache is the CachePinger to pass to NewHealthHandler when CacheBackend=memory.
var AlwaysHealthyCache CachePinger = alwaysHealthyCache{}

// UpstreamPinger reports whether Microsoft Graph is reachable under the proxy's application identity. It only needs
// to obtain a token, not make a Graph call, since token acquisition already exercises the network path and the app
// credential configuration. *graphclient.Credential satisfies it.
type UpstreamPinger interface {
	BearerToken(ctx context.Context) (string, error)
}

// HealthHandler serves the liveness/readiness endpoint.
type HealthHandler struct {
	cache    CachePinger
	upstream UpstreamPinger
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(cache CachePinger, upstream UpstreamPinger) *HealthHandler {
	return &HealthHandler{cache: cache, upstream: upstream}
}

// Health handles GET /admin/health. It pings the configured scope cache backend and attempts to acquire an upstream
// application token, reporting both component statuses alongside an overall status derived from them.
func (h *HealthHandler) Health(c fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 3*time.Second)
	defer cancel()

	cacheStatus := "ok"
	if err := h.cache.Ping(ctx); err != nil {
		cacheStatus = "unavailable"
	}

	upstreamStatus := "ok"
	if _, err := h.upstream.BearerToken(ctx); err != nil {
		upstreamStatus = "unavailable"
	}

	overall := "ok"
	status := fiber.StatusOK
	if cacheStatus != "ok" || upstreamStatus != "ok" {
		overall = "degraded"
		status = fiber.StatusServiceUnavailable
	}

	return httputil.SuccessStatus(c, status, fiber.Map{
		"status":   overall,
		"cache":    cacheStatus,
		"upstream": upstreamStatus,
	})
}
