package graphclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/portico-estate/graphscopeproxy/internal/resource"
)

func intPtr(n int) *int { return &n }

func TestSupplementFillsMissingFields(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(placePage{
			Value: []graphPlace{
				{EmailAddress: "room-a@x.com", Capacity: intPtr(10), Building: "Building 1"},
			},
		})
	}))
	defer srv.Close()

	resources := []resource.Resource{
		{ID: "r1", Mail: "room-a@x.com", Kind: resource.KindRoom},
	}
	c := &PlacesClient{http: newTestClient(), cred: fakeTokenSource{}, baseURL: srv.URL, timeout: 5 * time.Second}
	if err := c.Supplement(context.Background(), resources); err != nil {
		t.Fatalf("Supplement() error = %v", err)
	}

	if resources[0].Capacity == nil || *resources[0].Capacity != 10 {
		t.Errorf("Capacity = %v, want 10", resources[0].Capacity)
	}
	if resources[0].Location == nil || *resources[0].Location != "Building 1" {
		t.Errorf("Location = %v, want %q", resources[0].Location, "Building 1")
	}
}

func TestSupplementSkipsWhenNothingPending(t *testing.T) {
	t.Parallel()
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cap10 := 10
	loc := "Building 1"
	resources := []resource.Resource{
		{ID: "r1", Mail: "room-a@x.com", Kind: resource.KindRoom, Capacity: &cap10, Location: &loc},
	}
	c := &PlacesClient{http: newTestClient(), cred: fakeTokenSource{}, baseURL: srv.URL, timeout: 5 * time.Second}
	if err := c.Supplement(context.Background(), resources); err != nil {
		t.Fatalf("Supplement() error = %v", err)
	}
	if called {
		t.Error("Supplement() made an upstream call when nothing needed enrichment")
	}
}

func TestSupplementDoesNotOverwriteExistingValues(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(placePage{
			Value: []graphPlace{
				{EmailAddress: "room-a@x.com", Capacity: intPtr(99), Building: "Other Building"},
			},
		})
	}))
	defer srv.Close()

	cap10 := 10
	resources := []resource.Resource{
		{ID: "r1", Mail: "room-a@x.com", Kind: resource.KindRoom, Capacity: &cap10},
	}
	c := &PlacesClient{http: newTestClient(), cred: fakeTokenSource{}, baseURL: srv.URL, timeout: 5 * time.Second}
	if err := c.Supplement(context.Background(), resources); err != nil {
		t.Fatalf("Supplement() error = %v", err)
	}
	if *resources[0].Capacity != 10 {
		t.Errorf("Capacity = %d, want original value 10 preserved", *resources[0].Capacity)
	}
	if resources[0].Location == nil || *resources[0].Location != "Other Building" {
		t.Errorf("Location = %v, want filled in from upstream", resources[0].Location)
	}
}
