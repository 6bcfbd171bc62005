package scope

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Resolver resolves a group's current scope, using the cache when available and rebuilding on miss or expiry.
type Resolver struct {
	cache   Cache
	builder *Builder
	log     zerolog.Logger
}

// NewResolver creates a new scope resolver.
func NewResolver(cache Cache, builder *Builder, logger zerolog.Logger) *Resolver {
	return &Resolver{cache: cache, builder: builder, log: logger}
}

// Resolve returns groupID's current scope. A cache error is non-fatal and falls through to a rebuild.
func (r *Resolver) Resolve(ctx context.Context, groupID string) (*Scope, error) {
	sc, ok, err := r.cache.Get(ctx, groupID)
	if err != nil {
		r.log.Warn().Err(err).Str("group_id", groupID).Msg("Scope cache get failed, falling through to rebuild")
	}
	if ok && !sc.Expired(time.Now()) {
		return sc, nil
	}

	return r.Refresh(ctx, groupID)
}

// Refresh rebuilds groupID's scope from upstream regardless of what is cached, and replaces the cache entry.
func (r *Resolver) Refresh(ctx context.Context, groupID string) (*Scope, error) {
	sc, err := r.builder.Build(ctx, groupID)
	if err != nil {
		return nil, err
	}

	if err := r.cache.Put(ctx, groupID, sc, r.builder.Config.ScopeTTL); err != nil {
		r.log.Warn().Err(err).Str("group_id", groupID).Msg("Scope cache put failed")
	}

	return sc, nil
}
