package filesystem

import (
	"encoding/json"
	"time"
)

// ReadFileArgs is an argument struct for the read_file tool.
type ReadFileArgs struct {
	Path string `json:"path"`
}

// ReadMultipleFilesArgs is an argument struct for the read_multiple_files tool.
type ReadMultipleFilesArgs struct {
	Paths []string `json:"paths"`
}

// WriteFileArgs is an argument struct for the write_file tool.
type WriteFileArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// EditFileArgs is an argument struct for the edit_file tool.
type EditFileArgs struct {
	Path   string          `json:"path"`
	Edits  []EditOperation `json:"edits"`
	DryRun bool            `json:"dryRun"`
}

// EditOperation replaces OldText with NewText.
type EditOperation struct {
	OldText string `json:"oldText"`
	NewText string `json:"newText"`
}

// PathArgs is an argument struct for the tools taking a single path.
type PathArgs struct {
	Path string `json:"path"`
}

// MoveFileArgs is an argument struct for the move_file tool.
type MoveFileArgs struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

// SearchFilesArgs is an argument struct for the search_files tool.
type SearchFilesArgs struct {
	Path    string   `json:"path"`
	Pattern string   `json:"pattern"`
	Exclude []string `json:"excludePatterns"`
}

// FileInfo is the structured output of the get_file_info tool.
type FileInfo struct {
	Path        string    `json:"path"`
	Size        int64     `json:"size"`
	Modified    time.Time `json:"modified"`
	IsDirectory bool      `json:"isDirectory"`
	IsFile      bool      `json:"isFile"`
	Permissions string    `json:"permissions"`
}

var pathSchema = json.RawMessage(`
  {
    "type": "object",
    "properties": {
      "path": { "type": "string", "minLength": 1 }
    },
    "required": ["path"]
  }
`)

var readMultipleFilesSchema = json.RawMessage(`
  {
    "type": "object",
    "properties": {
      "paths": {
        "type": "array",
        "items": { "type": "string" },
        "minItems": 1
      }
    },
    "required": ["paths"]
  }
`)

var writeFileSchema = json.RawMessage(`
  {
    "type": "object",
    "properties": {
      "path": { "type": "string", "minLength": 1 },
      "content": { "type": "string" }
    },
    "required": ["path", "content"]
  }
`)

var editFileSchema = json.RawMessage(`
  {
    "type": "object",
    "properties": {
      "path": { "type": "string", "minLength": 1 },
      "edits": {
        "type": "array",
        "items": {
          "type": "object",
          "properties": {
            "oldText": { "type": "string" },
            "newText": { "type": "string" }
          },
          "required": ["oldText", "newText"]
        }
      },
      "dryRun": { "type": "boolean", "default": false }
    },
    "required": ["path", "edits"]
  }
`)

var moveFileSchema = json.RawMessage(`
  {
    "type": "object",
    "properties": {
      "source": { "type": "string", "minLength": 1 },
      "destination": { "type": "string", "minLength": 1 }
    },
    "required": ["source", "destination"]
  }
`)

var searchFilesSchema = json.RawMessage(`
  {
    "type": "object",
    "properties": {
      "path": { "type": "string", "minLength": 1 },
      "pattern": { "type": "string", "minLength": 1 },
      "excludePatterns": {
        "type": "array",
        "items": { "type": "string" }
      }
    },
    "required": ["path", "pattern"]
  }
`)

func decodeArgs(args map[string]any, v any) error {
	bs, err := json.Marshal(args)
	if err != nil {
		return err
	}
	return json.Unmarshal(bs, v)
}
