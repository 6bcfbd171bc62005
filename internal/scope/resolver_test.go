package scope

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/portico-estate/graphscopeproxy/internal/resource"
)

func testResolverConfig() BuildConfig {
	return BuildConfig{
		AllowedPlaceTypes: resource.ParseAllowedPlaceTypes([]string{"room"}),
		MaxScopeSize:      500,
		ScopeTTL:          time.Minute,
	}
}

func TestResolverBuildsOnCacheMiss(t *testing.T) {
	t.Parallel()
	src := &fakeMemberSource{members: []resource.Member{{ID: "r1", Mail: "room-a@x.com", DisplayName: "Room A"}}}
	builder := NewBuilder(src, nil, testResolverConfig())
	cache := NewMemCache(10, time.Minute)
	resolver := NewResolver(cache, builder, zerolog.Nop())

	sc, err := resolver.Resolve(context.Background(), "g1")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if sc.Size() != 1 {
		t.Errorf("Size() = %d, want 1", sc.Size())
	}

	cached, ok, _ := cache.Get(context.Background(), "g1")
	if !ok || cached.Size() != 1 {
		t.Error("Resolve() did not populate the cache")
	}
}

func TestResolverReturnsCachedWhenFresh(t *testing.T) {
	t.Parallel()
	src := &fakeMemberSource{members: []resource.Member{{ID: "r1", Mail: "room-a@x.com", DisplayName: "Room A"}}}
	builder := NewBuilder(src, nil, testResolverConfig())
	cache := NewMemCache(10, time.Minute)
	resolver := NewResolver(cache, builder, zerolog.Nop())
	ctx := context.Background()

	if _, err := resolver.Resolve(ctx, "g1"); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	src.members = nil // if Resolve rebuilds, the second call would now see zero members
	sc, err := resolver.Resolve(ctx, "g1")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if sc.Size() != 1 {
		t.Error("Resolve() rebuilt from upstream instead of using the cached scope")
	}
}

func TestResolverRefreshForcesRebuild(t *testing.T) {
	t.Parallel()
	src := &fakeMemberSource{members: []resource.Member{{ID: "r1", Mail: "room-a@x.com", DisplayName: "Room A"}}}
	builder := NewBuilder(src, nil, testResolverConfig())
	cache := NewMemCache(10, time.Minute)
	resolver := NewResolver(cache, builder, zerolog.Nop())
	ctx := context.Background()

	if _, err := resolver.Resolve(ctx, "g1"); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	src.members = append(src.members, resource.Member{ID: "r2", Mail: "room-b@x.com", DisplayName: "Room B"})
	sc, err := resolver.Refresh(ctx, "g1")
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if sc.Size() != 2 {
		t.Errorf("Size() = %d, want 2 after Refresh()", sc.Size())
	}
}
