package api

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/portico-estate/graphscopeproxy/internal/apierrors"
	"github.com/portico-estate/graphscopeproxy/internal/authz"
	"github.com/portico-estate/graphscopeproxy/internal/httputil"
	"github.com/portico-estate/graphscopeproxy/internal/proxy"
)

// ProxyHandler dispatches authenticated, scope-checked requests to Microsoft Graph.
type ProxyHandler struct {
	proxy *proxy.Proxy
	log   zerolog.Logger
}

// NewProxyHandler creates a new proxy dispatch handler.
func NewProxyHandler(p *proxy.Proxy, logger zerolog.Logger) *ProxyHandler {
	return &ProxyHandler{proxy: p, log: logger}
}

// Dispatch handles every request under the proxied API version prefix (e.g. /v1.0/*, /beta/*). The caller's scope
// was already resolved by RequireBearer; Dispatch decides whether the request may proceed, forwards it to Microsoft
// Graph under the service's application identity, and filters the response when the path addresses a collection.
func (h *ProxyHandler) Dispatch(c fiber.Ctx) error {
	sc, ok := scopeFromContext(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorized, "Missing resolved scope")
	}

	upstreamPath := c.Path()

	decision := authz.Decide(c.Method(), upstreamPath, sc)
	if decision == authz.Deny {
		return httputil.Fail(c, fiber.StatusForbidden, apierrors.OutOfScope, "Requested resource is outside the authorized scope")
	}

	resp, err := h.proxy.Forward(c.Context(), proxy.Request{
		Method:      c.Method(),
		Path:        upstreamPath,
		RawQuery:    string(c.Request().URI().QueryString()),
		Header:      copyIncomingHeaders(c),
		Body:        c.Body(),
		Correlation: c.Get(proxy.CorrelationHeader),
	})
	if err != nil {
		switch {
		case errors.Is(err, proxy.ErrUpstreamTimeout):
			return httputil.Fail(c, fiber.StatusRequestTimeout, apierrors.UpstreamTimeout, "Upstream request timed out")
		default:
			h.log.Error().Err(err).Str("path", upstreamPath).Msg("Upstream request failed")
			return httputil.Fail(c, fiber.StatusBadGateway, apierrors.UpstreamUnavailable, "Upstream request failed")
		}
	}

	body := resp.Body
	if decision == authz.FilterCollection {
		body = proxy.FilterCollection(body, sc)
	}

	c.Set(proxy.CorrelationHeader, resp.Correlation)
	copyResponseHeaders(c, resp.Header)
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		c.Set("Content-Type", ct)
	}
	return c.Status(resp.StatusCode).Send(body)
}

func copyIncomingHeaders(c fiber.Ctx) http.Header {
	h := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		h.Add(string(key), string(value))
	})
	return h
}

// strippedResponseHeaders are recomputed by the serving layer itself and must not be copied verbatim from upstream
// (spec.md §4.6): the body may have been rewritten by the response filter, which invalidates Content-Length, and
// Fiber sets Content-Type/Transfer-Encoding/Connection for the response it is actually writing.
var strippedResponseHeaders = map[string]bool{
	"Content-Length":    true,
	"Content-Type":      true,
	"Transfer-Encoding": true,
	"Connection":        true,
}

func copyResponseHeaders(c fiber.Ctx, header http.Header) {
	for key, vals := range header {
		if strippedResponseHeaders[http.CanonicalHeaderKey(key)] {
			continue
		}
		for _, v := range vals {
			c.Set(key, v)
		}
	}
}
