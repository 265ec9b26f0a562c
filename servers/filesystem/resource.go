package filesystem

import (
	"context"
	"encoding/base64"
	"errors"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/MegaGrindStone/go-mcp-engine"
	"github.com/MegaGrindStone/go-mcp-engine/uritemplate"
)

const (
	fileURIPrefix   = "file://"
	fileURITemplate = fileURIPrefix + "{+path}"
	maxCompletions  = 100
)

// fileTemplate exposes every file under the roots as file://{+path}, completing path against the
// entries of the directory the partial value points into.
type fileTemplate struct {
	mcp.ResourceTemplateHandler
	server *Server
}

func (s *Server) fileResourceTemplate() mcp.ResourceTemplateHandler {
	handler := mcp.NewResourceTemplate(mcp.ResourceTemplate{
		URITemplate: fileURITemplate,
		Name:        "File",
		Description: "A file inside one of the allowed directories",
	}, s.readResource)
	return fileTemplate{ResourceTemplateHandler: handler, server: s}
}

func (s *Server) readResource(_ context.Context, uri string, vars uritemplate.Values) ([]mcp.ResourceContents, error) {
	raw, _ := vars["path"].(string)
	notFound := mcp.NewError(mcp.CodeResourceNotFound, "Resource not found").
		WithData(map[string]any{"uri": uri})

	path, err := s.resolve(raw)
	if err != nil {
		return nil, notFound
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return nil, notFound
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	contents := mcp.ResourceContents{URI: uri, MimeType: mime.TypeByExtension(filepath.Ext(path))}
	if utf8.Valid(content) {
		contents.Text = string(content)
		if contents.MimeType == "" {
			contents.MimeType = "text/plain"
		}
	} else {
		contents.Blob = base64.StdEncoding.EncodeToString(content)
		if contents.MimeType == "" {
			contents.MimeType = "application/octet-stream"
		}
	}
	return []mcp.ResourceContents{contents}, nil
}

func (t fileTemplate) Complete(_ context.Context, arg mcp.CompletionArgument) ([]string, error) {
	if arg.Name != "path" {
		return nil, nil
	}

	value := filepath.FromSlash(arg.Value)
	dir, prefix := filepath.Split(value)
	if dir == "" {
		dir = t.server.roots[0]
	}
	resolved, err := t.server.resolve(dir)
	if err != nil {
		return []string{}, nil
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, err
	}

	values := []string{}
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		candidate := filepath.Join(resolved, entry.Name())
		if entry.IsDir() {
			candidate += string(filepath.Separator)
		}
		values = append(values, filepath.ToSlash(candidate))
		if len(values) == maxCompletions {
			break
		}
	}
	slices.Sort(values)
	return values, nil
}
