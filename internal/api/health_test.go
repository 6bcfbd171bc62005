package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
)

type fakeUpstreamPinger struct{ err error }

func (f fakeUpstreamPinger) BearerToken(ctx context.Context) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "token", nil
}

type fakeCachePinger struct{ err error }

func (f fakeCachePinger) Ping(ctx context.Context) error { return f.err }

func TestHealthAllOK(t *testing.T) {
	t.Parallel()
	h := NewHealthHandler(fakeCachePinger{}, fakeUpstreamPinger{})
	app := fiber.New()
	app.Get("/admin/health", h.Health)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/admin/health", nil))
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusOK)
	}
}

func TestHealthCacheUnavailable(t *testing.T) {
	t.Parallel()
	h := NewHealthHandler(fakeCachePinger{err: errors.New("down")}, fakeUpstreamPinger{})
	app := fiber.New()
	app.Get("/admin/health", h.Health)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/admin/health", nil))
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusServiceUnavailable)
	}
}

func TestHealthUpstreamUnavailable(t *testing.T) {
	t.Parallel()
	h := NewHealthHandler(fakeCachePinger{}, fakeUpstreamPinger{err: errors.New("down")})
	app := fiber.New()
	app.Get("/admin/health", h.Health)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/admin/health", nil))
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusServiceUnavailable)
	}
}
