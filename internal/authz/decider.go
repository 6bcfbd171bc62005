// Package authz decides, for a forwarded upstream path, whether a scoped caller may proceed unmodified, must be
// denied outright, or may proceed only if the response is filtered down to the caller's scope.
package authz

import (
	"net/url"
	"strings"

	"github.com/portico-estate/graphscopeproxy/internal/scope"
)

// Decision is the outcome of evaluating a request path against a scope.
type Decision string

const (
	// Allow means the request may be forwarded and the response returned unmodified.
	Allow Decision = "allow"
	// Deny means the request targets an identifier outside the caller's scope and must not be forwarded.
	Deny Decision = "deny"
	// FilterCollection means the request may be forwarded, but the response collection must be filtered down to
	// entries within the caller's scope before being returned.
	FilterCollection Decision = "filter_collection"
)

// identifierRoots are path roots whose second segment addresses a single scope-bound resource directly — matched by
// id or mail against the caller's scope.
var identifierRoots = map[string]bool{
	"users":     true,
	"calendars": true,
}

// collectionRoots are path roots that Microsoft Graph only ever exposes as a collection under this proxy's supported
// surface — including via its `microsoft.graph.{room,workspace,...}` OData type-cast idiom (e.g.
// `/places/microsoft.graph.room`, still a collection, not an identifier lookup). A second segment here is never a
// resource id, so these roots always filter rather than fall into the users/calendars identifier check.
var collectionRoots = map[string]bool{
	"rooms":      true,
	"places":     true,
	"equipment":  true,
	"workspaces": true,
}

// versionSegments are API version prefixes stripped before rule evaluation.
var versionSegments = map[string]bool{
	"v1.0": true,
	"beta": true,
}

// Decide evaluates an upstream request path against sc. method is accepted for symmetry with future method-specific
// rules but does not currently affect the outcome — every decision here is about WHAT is being read or written, not
// HOW. sc may be nil, in which case any identifier-gated path is denied.
func Decide(method, path string, sc *scope.Scope) Decision {
	segs := pathSegments(path)
	if len(segs) == 0 {
		return Allow
	}

	root := strings.ToLower(segs[0])
	if collectionRoots[root] {
		return FilterCollection
	}
	if identifierRoots[root] {
		if len(segs) == 1 {
			return FilterCollection
		}
		candidate := segs[1]
		if sc != nil && sc.Contains(candidate) {
			return Allow
		}
		return Deny
	}

	if strings.ToLower(segs[len(segs)-1]) == "calendars" {
		return FilterCollection
	}

	return Allow
}

// pathSegments splits path into percent-decoded, non-empty segments with any leading API version prefix removed.
func pathSegments(path string) []string {
	decoded, err := url.PathUnescape(path)
	if err != nil {
		decoded = path
	}

	raw := strings.Split(decoded, "/")
	segs := make([]string, 0, len(raw))
	for _, s := range raw {
		if s != "" {
			segs = append(segs, s)
		}
	}

	if len(segs) > 0 && versionSegments[strings.ToLower(segs[0])] {
		segs = segs[1:]
	}

	return segs
}
