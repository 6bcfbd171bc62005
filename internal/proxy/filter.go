package proxy

import (
	"github.com/valyala/fastjson"

	"github.com/portico-estate/graphscopeproxy/internal/scope"
)

// FilterCollection rewrites a Microsoft Graph response body down to what sc admits. Bodies shaped as a paginated
// collection (a top-level "value" array) have that array narrowed in place, preserving order and every other
// top-level field (including "@odata.nextLink"). Bodies shaped as a single object are kept unchanged if they
// identify a resource within sc, or replaced with "{}" if not. Bodies that aren't a JSON object at all are returned
// unmodified — this filter only ever narrows a recognized shape, never reshapes an unrecognized one.
func FilterCollection(body []byte, sc *scope.Scope) []byte {
	var p fastjson.Parser
	root, err := p.ParseBytes(body)
	if err != nil || root.Type() != fastjson.TypeObject {
		return body
	}

	value := root.Get("value")
	if value == nil {
		if matchesScope(root, sc) {
			return body
		}
		return []byte("{}")
	}
	if value.Type() != fastjson.TypeArray {
		return body
	}

	items, err := value.Array()
	if err != nil {
		return body
	}

	var arena fastjson.Arena
	filtered := arena.NewArray()
	kept := 0
	for _, item := range items {
		if matchesScope(item, sc) {
			filtered.SetArrayItem(kept, item)
			kept++
		}
	}

	root.Set("value", filtered)
	return root.MarshalTo(nil)
}

// identifierPaths are the fields, in order, an entry's identity is checked against. Nested paths (like
// emailAddress.address, used by Graph's calendar event organizer/attendee shapes) are expressed as multiple keys.
var identifierPaths = [][]string{
	{"id"},
	{"mail"},
	{"userPrincipalName"},
	{"emailAddress", "address"},
}

func matchesScope(item *fastjson.Value, sc *scope.Scope) bool {
	if sc == nil || item == nil || item.Type() != fastjson.TypeObject {
		return false
	}
	for _, path := range identifierPaths {
		v := item.Get(path...)
		if v == nil {
			continue
		}
		s, err := stringValue(v)
		if err != nil || s == "" {
			continue
		}
		if sc.Contains(s) {
			return true
		}
	}
	return false
}

func stringValue(v *fastjson.Value) (string, error) {
	b, err := v.StringBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}
