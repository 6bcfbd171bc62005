package proxy

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/portico-estate/graphscopeproxy/internal/resource"
	"github.com/portico-estate/graphscopeproxy/internal/scope"
)

func sampleScope() *scope.Scope {
	return &scope.Scope{
		GroupID: "g1",
		Resources: []resource.Resource{
			{ID: "r1", Mail: "room-a@x.com", Kind: resource.KindRoom},
		},
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	}
}

func TestFilterCollectionKeepsOnlyInScopeEntries(t *testing.T) {
	t.Parallel()
	body := []byte(`{"@odata.context":"x","value":[{"id":"r1","displayName":"Room A"},{"id":"intruder","displayName":"Other"}]}`)

	out := FilterCollection(body, sampleScope())

	var decoded map[string]any
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded["@odata.context"] != "x" {
		t.Error("other top-level fields were not preserved")
	}
	values, ok := decoded["value"].([]any)
	if !ok || len(values) != 1 {
		t.Fatalf("value = %v, want exactly one entry", decoded["value"])
	}
	entry := values[0].(map[string]any)
	if entry["id"] != "r1" {
		t.Errorf("kept entry id = %v, want r1", entry["id"])
	}
}

func TestFilterCollectionMatchesNestedEmailAddress(t *testing.T) {
	t.Parallel()
	body := []byte(`{"value":[{"emailAddress":{"address":"room-a@x.com"}},{"emailAddress":{"address":"other@x.com"}}]}`)

	out := FilterCollection(body, sampleScope())

	var decoded map[string]any
	json.Unmarshal(out, &decoded)
	values := decoded["value"].([]any)
	if len(values) != 1 {
		t.Fatalf("len(value) = %d, want 1", len(values))
	}
}

func TestFilterCollectionPreservesOrder(t *testing.T) {
	t.Parallel()
	sc := &scope.Scope{
		Resources: []resource.Resource{
			{ID: "a", Mail: "a@x.com"},
			{ID: "b", Mail: "b@x.com"},
			{ID: "c", Mail: "c@x.com"},
		},
	}
	body := []byte(`{"value":[{"id":"c"},{"id":"a"},{"id":"b"}]}`)

	out := FilterCollection(body, sc)
	var decoded map[string]any
	json.Unmarshal(out, &decoded)
	values := decoded["value"].([]any)
	if len(values) != 3 {
		t.Fatalf("len(value) = %d, want 3", len(values))
	}
	got := []string{
		values[0].(map[string]any)["id"].(string),
		values[1].(map[string]any)["id"].(string),
		values[2].(map[string]any)["id"].(string),
	}
	want := []string{"c", "a", "b"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("order not preserved: got %v, want %v", got, want)
		}
	}
}

func TestFilterCollectionKeepsSingleObjectInScope(t *testing.T) {
	t.Parallel()
	body := []byte(`{"id":"r1","displayName":"Room A"}`)

	out := FilterCollection(body, sampleScope())
	if string(out) != string(body) {
		t.Errorf("FilterCollection() = %s, want unchanged passthrough", out)
	}
}

func TestFilterCollectionReplacesSingleObjectOutOfScope(t *testing.T) {
	t.Parallel()
	body := []byte(`{"id":"intruder","displayName":"Other"}`)

	out := FilterCollection(body, sampleScope())
	if string(out) != "{}" {
		t.Errorf("FilterCollection() = %s, want {}", out)
	}
}

func TestFilterCollectionPassesThroughMalformedJSON(t *testing.T) {
	t.Parallel()
	body := []byte(`not json`)

	out := FilterCollection(body, sampleScope())
	if string(out) != string(body) {
		t.Errorf("FilterCollection() = %s, want unchanged passthrough", out)
	}
}

func TestFilterCollectionNilScopeFiltersEverything(t *testing.T) {
	t.Parallel()
	body := []byte(`{"value":[{"id":"r1"}]}`)

	out := FilterCollection(body, nil)
	var decoded map[string]any
	json.Unmarshal(out, &decoded)
	values := decoded["value"].([]any)
	if len(values) != 0 {
		t.Errorf("len(value) = %d, want 0 for nil scope", len(values))
	}
}
