package scope

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/portico-estate/graphscopeproxy/internal/resource"
)

// MemberSource enumerates the members of a directory group. Implementations must exhaust pagination themselves and
// return the complete member set.
type MemberSource interface {
	EnumerateGroupMembers(ctx context.Context, groupID string) ([]resource.Member, error)
}

// PlacesSource enriches already-classified resources with capacity and location data from a richer catalogue. It
// must never add or remove resources — only fill in fields on what Build already admitted. A failure here is
// non-fatal to scope materialization.
type PlacesSource interface {
	Supplement(ctx context.Context, resources []resource.Resource) error
}

// BuildConfig controls how Builder materializes a scope.
type BuildConfig struct {
	AllowedPlaceTypes     map[resource.Kind]bool
	AllowGenericResources bool
	MaxScopeSize          int
	UsePlacesApi          bool
	ScopeTTL              time.Duration
}

// Builder materializes a Scope for a group by enumerating its members, classifying and admitting each one, and
// optionally supplementing the result with richer catalogue data.
type Builder struct {
	Members MemberSource
	Places  PlacesSource
	Config  BuildConfig
}

// NewBuilder constructs a Builder. places may be nil when UsePlacesApi is false.
func NewBuilder(members MemberSource, places PlacesSource, cfg BuildConfig) *Builder {
	return &Builder{Members: members, Places: places, Config: cfg}
}

// Build enumerates groupID's members and returns the materialized Scope. Resources are deduplicated by identity,
// keeping the first occurrence seen, classified, admitted per the configured policy, and truncated deterministically
// at MaxScopeSize — members are processed in the order the upstream enumeration returned them, so truncation always
// drops the same tail for a given upstream response.
func (b *Builder) Build(ctx context.Context, groupID string) (*Scope, error) {
	members, err := b.Members.EnumerateGroupMembers(ctx, groupID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(members))
	resources := make([]resource.Resource, 0, len(members))
	truncated := false

	for _, m := range members {
		r, ok := resource.Classify(m, b.Config.AllowGenericResources)
		if !ok {
			continue
		}
		if !resource.Admit(r.Kind, b.Config.AllowedPlaceTypes, b.Config.AllowGenericResources) {
			continue
		}

		key := r.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		if len(resources) >= b.Config.MaxScopeSize {
			truncated = true
			continue
		}
		resources = append(resources, r)
	}

	if truncated {
		log.Warn().
			Str("group_id", groupID).
			Int("max_scope_size", b.Config.MaxScopeSize).
			Msg("Scope truncated at configured maximum size")
	}

	if b.Config.UsePlacesApi && b.Places != nil && len(resources) > 0 {
		if err := b.Places.Supplement(ctx, resources); err != nil {
			log.Warn().Err(err).Str("group_id", groupID).Msg("Places supplementation failed, continuing without it")
		}
	}

	now := time.Now()
	return &Scope{
		GroupID:   groupID,
		Resources: resources,
		CreatedAt: now,
		ExpiresAt: now.Add(b.Config.ScopeTTL),
		Truncated: truncated,
	}, nil
}
