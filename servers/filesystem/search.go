package filesystem

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gobwas/glob"
)

type treeEntry struct {
	Name     string      `json:"name"`
	Type     string      `json:"type"`
	Children []treeEntry `json:"children,omitempty"`
}

type excluder struct {
	names []string
	globs []glob.Glob
}

func newExcluder(patterns []string) (excluder, error) {
	var ex excluder
	for _, p := range patterns {
		if !hasGlobMeta(p) {
			ex.names = append(ex.names, p)
			continue
		}
		g, err := glob.Compile(p, '/')
		if err != nil {
			return excluder{}, fmt.Errorf("invalid exclude pattern %q: %w", p, err)
		}
		ex.globs = append(ex.globs, g)
	}
	return ex, nil
}

// excluded reports whether rel, a slash separated path relative to the search root, matches.
// Plain names match any path segment, globs match the relative path or the base name.
func (e excluder) excluded(rel string) bool {
	segments := strings.Split(rel, "/")
	for _, name := range e.names {
		if slices.Contains(segments, name) {
			return true
		}
	}
	base := segments[len(segments)-1]
	for _, g := range e.globs {
		if g.Match(rel) || g.Match(base) {
			return true
		}
	}
	return false
}

func hasGlobMeta(p string) bool {
	return strings.ContainsAny(p, "*?[{")
}

// search walks root and returns every entry whose name matches pattern, case-insensitively. A
// pattern with glob metacharacters is a glob on the name, any other pattern a substring.
func (s *Server) search(ctx context.Context, root, pattern string, exclude []string) ([]string, error) {
	ex, err := newExcluder(exclude)
	if err != nil {
		return nil, err
	}

	pattern = strings.ToLower(pattern)
	match := func(name string) bool { return strings.Contains(name, pattern) }
	if hasGlobMeta(pattern) {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
		match = g.Match
	}

	results := []string{}
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil || p == root {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return nil
		}
		skip := ex.excluded(filepath.ToSlash(rel))
		if !skip {
			_, err := s.resolve(p)
			skip = err != nil
		}
		if skip {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		if match(strings.ToLower(d.Name())) {
			results = append(results, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Server) tree(ctx context.Context, dir string) ([]treeEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	result := make([]treeEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.Name() == ".git" {
			continue
		}
		te := treeEntry{Name: entry.Name(), Type: "file"}
		if entry.IsDir() {
			sub, err := s.resolve(filepath.Join(dir, entry.Name()))
			if err != nil {
				continue
			}
			children, err := s.tree(ctx, sub)
			if err != nil {
				return nil, err
			}
			te.Type = "directory"
			te.Children = children
		}
		result = append(result, te)
	}
	return result, nil
}
