package mcp_test

import (
	"encoding/base64"
	"encoding/json"
	"reflect"
	"testing"

	"github.com/MegaGrindStone/go-mcp-engine"
)

func TestPaginate(t *testing.T) {
	items := []string{"a", "b", "c", "d", "e"}

	first := mcp.Paginate(items, 2, "")
	if !reflect.DeepEqual(first.Items, []string{"a", "b"}) {
		t.Fatalf("first page = %v", first.Items)
	}
	if first.NextCursor == "" {
		t.Fatal("expected next cursor on first page")
	}

	second := mcp.Paginate(items, 2, first.NextCursor)
	if !reflect.DeepEqual(second.Items, []string{"c", "d"}) {
		t.Fatalf("second page = %v", second.Items)
	}
	if second.NextCursor == "" {
		t.Fatal("expected next cursor on second page")
	}

	third := mcp.Paginate(items, 2, second.NextCursor)
	if !reflect.DeepEqual(third.Items, []string{"e"}) {
		t.Fatalf("third page = %v", third.Items)
	}
	if third.NextCursor != "" {
		t.Errorf("expected no next cursor on last page, got %q", third.NextCursor)
	}
}

func TestPaginateEdgeCases(t *testing.T) {
	items := []int{1, 2, 3, 4}

	tests := []struct {
		name       string
		perPage    int
		cursor     string
		want       []int
		wantCursor bool
	}{
		{name: "malformed cursor", perPage: 2, cursor: "not-base64!!", want: []int{1, 2}, wantCursor: true},
		{name: "base64 but not json", perPage: 2, cursor: base64.StdEncoding.EncodeToString([]byte("nope")),
			want: []int{1, 2}, wantCursor: true},
		{name: "negative offset", perPage: 2, cursor: rawCursor(t, -3), want: []int{1, 2}, wantCursor: true},
		{name: "out of range", perPage: 2, cursor: mcp.EncodeCursor(10), want: []int{}},
		{name: "exact end", perPage: 2, cursor: mcp.EncodeCursor(2), want: []int{3, 4}},
		{name: "unbounded page", perPage: 0, cursor: mcp.EncodeCursor(1), want: []int{2, 3, 4}},
		{name: "page larger than set", perPage: 10, want: []int{1, 2, 3, 4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := mcp.Paginate(items, tt.perPage, tt.cursor)
			if !reflect.DeepEqual(page.Items, tt.want) {
				t.Errorf("items = %v, want %v", page.Items, tt.want)
			}
			if (page.NextCursor != "") != tt.wantCursor {
				t.Errorf("next cursor = %q, want present %v", page.NextCursor, tt.wantCursor)
			}
		})
	}
}

func TestCursorRoundTrip(t *testing.T) {
	for _, offset := range []int{0, 1, 7, 250} {
		cursor := mcp.EncodeCursor(offset)
		decoded := mcp.DecodeCursor(cursor)
		if decoded != offset {
			t.Fatalf("DecodeCursor(EncodeCursor(%d)) = %d", offset, decoded)
		}
		if again := mcp.EncodeCursor(decoded); again != cursor {
			t.Errorf("re-encoded cursor %q differs from %q", again, cursor)
		}
	}
}

func TestListResultOmitsNextCursor(t *testing.T) {
	page := mcp.Paginate([]mcp.Tool{{Name: "echo", InputSchema: json.RawMessage(`{"type":"object"}`)}}, 10, "")
	bs, err := json.Marshal(mcp.ListToolsResult{Tools: page.Items, NextCursor: page.NextCursor})
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(bs, &fields); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if _, ok := fields["nextCursor"]; ok {
		t.Errorf("expected nextCursor to be absent, got %s", bs)
	}
}

func rawCursor(t *testing.T, offset int) string {
	t.Helper()
	bs, err := json.Marshal(map[string]int{"offset": offset})
	if err != nil {
		t.Fatalf("failed to marshal cursor: %v", err)
	}
	return base64.StdEncoding.EncodeToString(bs)
}
