package mcp

import (
	"encoding/base64"
	"encoding/json"
)

// Page is one slice of a paginated listing. NextCursor is empty on the last page.
type Page[T any] struct {
	Items      []T
	NextCursor string
}

type cursorEnvelope struct {
	Offset int `json:"offset"`
}

// Paginate returns the page of items starting at the offset encoded in cursor. A missing or
// malformed cursor starts at the beginning, a cursor past the end yields an empty page. A perPage
// of zero or less returns every remaining item.
func Paginate[T any](items []T, perPage int, cursor string) Page[T] {
	offset := DecodeCursor(cursor)
	if offset >= len(items) {
		return Page[T]{Items: []T{}}
	}

	end := len(items)
	if perPage > 0 && offset+perPage < end {
		end = offset + perPage
	}

	page := Page[T]{Items: items[offset:end]}
	if end < len(items) {
		page.NextCursor = EncodeCursor(end)
	}
	return page
}

// EncodeCursor returns the opaque cursor for offset.
func EncodeCursor(offset int) string {
	bs, _ := json.Marshal(cursorEnvelope{Offset: offset})
	return base64.StdEncoding.EncodeToString(bs)
}

// DecodeCursor returns the offset held by cursor, or zero when the cursor cannot be decoded.
func DecodeCursor(cursor string) int {
	if cursor == "" {
		return 0
	}
	bs, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return 0
	}
	var env cursorEnvelope
	if err := json.Unmarshal(bs, &env); err != nil {
		return 0
	}
	if env.Offset < 0 {
		return 0
	}
	return env.Offset
}
