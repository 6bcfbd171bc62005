// Package resource classifies directory group members into typed,
// admissible resources (rooms, workspaces, equipment) for a Scope.
package resource

import (
	"regexp"
	"strconv"
	"strings"
)

// Kind identifies the type of a classified resource.
type Kind string

const (
	KindRoom      Kind = "room"
	KindWorkspace Kind = "workspace"
	KindEquipment Kind = "equipment"
	KindGeneric   Kind = "generic"
)

// Member is a directory group member as returned by upstream enumeration.
type Member struct {
	ID          string
	Mail        string
	DisplayName string
}

// Resource is a single admissible target inside a Scope.
type Resource struct {
	ID          string
	Mail        string
	Kind        Kind
	DisplayName string
	Capacity    *int
	Location    *string
}

// Key returns the deduplication identity of the resource: id if present, else mail.
func (r Resource) Key() string {
	if r.ID != "" {
		return strings.ToLower(r.ID)
	}
	return r.Mail
}

// equipmentKeywords, roomKeywords, workspaceKeywords are scanned in priority order — first match wins.
var (
	equipmentKeywords = []string{"equipment", "projector", "device", "camera", "tv", "screen"}
	roomKeywords      = []string{"room", "meeting", "conference", "boardroom", "meetingroom"}
	workspaceKeywords = []string{"workspace", "desk", "office", "workstation"}
)

// Classify maps a directory member to a Resource. It returns false only when the member has no usable mail address
// — classification itself never fails. allowGenericResources controls the Generic→Room historical fallback; the
// caller is still responsible for checking the result against AllowedPlaceTypes via Admit.
func Classify(m Member, allowGenericResources bool) (Resource, bool) {
	mail := strings.ToLower(strings.TrimSpace(m.Mail))
	if mail == "" {
		return Resource{}, false
	}

	kind := classifyKind(m.DisplayName, mail)
	if kind == KindGeneric && !allowGenericResources {
		kind = KindRoom
	}

	r := Resource{
		ID:          m.ID,
		Mail:        mail,
		Kind:        kind,
		DisplayName: m.DisplayName,
		Capacity:    extractCapacity(m.DisplayName),
		Location:    extractLocation(m.DisplayName),
	}
	return r, true
}

// classifyKind runs the deterministic, case-insensitive substring scan described in spec.md §4.1.
func classifyKind(displayName, mail string) Kind {
	haystack := strings.ToLower(displayName + " " + mail)

	if containsAny(haystack, equipmentKeywords) {
		return KindEquipment
	}
	if containsAny(haystack, roomKeywords) {
		return KindRoom
	}
	if containsAny(haystack, workspaceKeywords) {
		return KindWorkspace
	}
	return KindGeneric
}

func containsAny(haystack string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(haystack, kw) {
			return true
		}
	}
	return false
}

// Admit reports whether a classified kind is admissible into a Scope under the given policy.
func Admit(kind Kind, allowedPlaceTypes map[Kind]bool, allowGenericResources bool) bool {
	if allowedPlaceTypes[kind] {
		return true
	}
	return kind == KindGeneric && allowGenericResources
}

// ParseAllowedPlaceTypes converts a string slice (as read from config) into the set form Admit expects.
func ParseAllowedPlaceTypes(types []string) map[Kind]bool {
	set := make(map[Kind]bool, len(types))
	for _, t := range types {
		set[Kind(strings.ToLower(strings.TrimSpace(t)))] = true
	}
	return set
}

// capacityPatterns are tried in order; the first to match wins. Each has exactly one capturing group holding digits.
var capacityPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bcap:?\s*(\d+)`),
	regexp.MustCompile(`(?i)\bcapacity:?\s*(\d+)`),
	regexp.MustCompile(`(?i)\b(\d+)\s*people\b`),
	regexp.MustCompile(`(?i)\b(\d+)[-\s]*person\b`),
	regexp.MustCompile(`(?i)\bseats?[-\s]*(\d+)\b`),
	regexp.MustCompile(`(?i)\b(\d+)[-\s]*seat\b`),
}

// extractCapacity returns the first regex-captured integer capacity in displayName, or nil.
func extractCapacity(displayName string) *int {
	for _, re := range capacityPatterns {
		m := re.FindStringSubmatch(displayName)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		return &n
	}
	return nil
}

// locationPatterns are tried in order; the first to match wins. Each has exactly one capturing group.
var locationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\(([^()]+)\)\s*$`),
	regexp.MustCompile(`-\s*(\S.*)$`),
	regexp.MustCompile(`(?i)\broom\s+([A-Za-z0-9.\-]+)`),
	regexp.MustCompile(`(?i)\bbuilding\s+([A-Za-z0-9.\-]+)`),
	regexp.MustCompile(`(?i)\bfloor\s+([A-Za-z0-9.\-]+)`),
	regexp.MustCompile(`(?i)\blevel\s+([A-Za-z0-9.\-]+)`),
	regexp.MustCompile(`(?i)\b([A-Za-z0-9.\-]+)\s+building\b`),
	regexp.MustCompile(`(?i)\b(\d+(?:st|nd|rd|th)\s+floor\b.*)$`),
}

// extractLocation returns the first regex-captured location substring in displayName, trimmed but with original
// case preserved, or nil.
func extractLocation(displayName string) *string {
	for _, re := range locationPatterns {
		m := re.FindStringSubmatch(displayName)
		if m == nil {
			continue
		}
		loc := strings.TrimSpace(m[1])
		if loc == "" {
			continue
		}
		return &loc
	}
	return nil
}
