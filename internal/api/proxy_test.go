package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/portico-estate/graphscopeproxy/internal/proxy"
	"github.com/portico-estate/graphscopeproxy/internal/resource"
	"github.com/portico-estate/graphscopeproxy/internal/scope"
)

type fakeCredential struct{}

func (fakeCredential) BearerToken(ctx context.Context) (string, error) {
	return "upstream-token", nil
}

func buildProxyApp(t *testing.T, upstream *httptest.Server, sc *scope.Scope) *fiber.App {
	t.Helper()
	p := proxy.New(upstream.URL, fakeCredential{}, 5*time.Second)
	h := NewProxyHandler(p, zerolog.Nop())

	app := fiber.New()
	app.Use(func(c fiber.Ctx) error {
		c.Locals(scopeLocalsKey, sc)
		return c.Next()
	})
	app.Get("/v1.0/*", h.Dispatch)
	app.Get("/beta/*", h.Dispatch)
	return app
}

func TestDispatchForwardsAllowedRequest(t *testing.T) {
	t.Parallel()
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"r1"}`))
	}))
	defer upstream.Close()

	sc := &scope.Scope{
		GroupID:   "g1",
		Resources: []resource.Resource{{ID: "r1", Kind: resource.KindRoom}},
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	}
	app := buildProxyApp(t, upstream, sc)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/v1.0/users/r1", nil))
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, fiber.StatusOK)
	}
}

func TestDispatchDeniesOutOfScopeIdentifier(t *testing.T) {
	t.Parallel()
	var called bool
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.Write([]byte(`{}`))
	}))
	defer upstream.Close()

	sc := &scope.Scope{
		GroupID:   "g1",
		Resources: []resource.Resource{{ID: "r1", Kind: resource.KindRoom}},
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	}
	app := buildProxyApp(t, upstream, sc)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/v1.0/users/intruder", nil))
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusForbidden {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusForbidden)
	}
	if called {
		t.Error("upstream was called for a denied request")
	}
}

func TestDispatchFiltersCollectionResponse(t *testing.T) {
	t.Parallel()
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"value":[{"id":"r1"},{"id":"intruder"}]}`))
	}))
	defer upstream.Close()

	sc := &scope.Scope{
		GroupID:   "g1",
		Resources: []resource.Resource{{ID: "r1", Kind: resource.KindRoom}},
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	}
	app := buildProxyApp(t, upstream, sc)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/v1.0/users", nil))
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, fiber.StatusOK)
	}

	var got struct {
		Value []struct {
			ID string `json:"id"`
		} `json:"value"`
	}
	decodeJSON(t, resp, &got)
	if len(got.Value) != 1 || got.Value[0].ID != "r1" {
		t.Errorf("value = %+v, want only the in-scope entry r1", got.Value)
	}
}

func TestDispatchMissingScopeReturnsUnauthorized(t *testing.T) {
	t.Parallel()
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer upstream.Close()

	p := proxy.New(upstream.URL, fakeCredential{}, 5*time.Second)
	h := NewProxyHandler(p, zerolog.Nop())
	app := fiber.New()
	app.Get("/v1.0/*", h.Dispatch)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/v1.0/users/r1", nil))
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusUnauthorized)
	}
}
