package filesystem

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
)

// resolve turns a requested path into an absolute path inside the roots. Existing paths are
// resolved through their symlinks, a path that does not exist yet must have an allowed parent.
func (s *Server) resolve(requested string) (string, error) {
	if requested == "" {
		return "", errors.New("path is required")
	}

	p := filepath.FromSlash(requested)
	if !filepath.IsAbs(p) {
		p = filepath.Join(s.roots[0], p)
	}
	p = filepath.Clean(p)
	if !s.allowed(p) {
		return "", s.denied(requested)
	}

	real, err := filepath.EvalSymlinks(p)
	if err == nil {
		if !s.allowed(real) {
			return "", s.denied(requested)
		}
		return real, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}

	parent, err := filepath.EvalSymlinks(filepath.Dir(p))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("parent directory of %s does not exist", requested)
		}
		return "", err
	}
	if !s.allowed(parent) {
		return "", s.denied(requested)
	}
	return filepath.Join(parent, filepath.Base(p)), nil
}

func (s *Server) allowed(p string) bool {
	for _, root := range s.roots {
		if within(p, root) {
			return true
		}
	}
	return false
}

func (s *Server) denied(requested string) error {
	return fmt.Errorf("access denied - path %s outside allowed directories %s",
		requested, strings.Join(s.roots, ", "))
}

func within(p, root string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
