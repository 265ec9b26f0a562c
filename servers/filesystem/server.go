// Package filesystem is a catalog giving clients access to local directory trees. Every path a
// tool or resource touches is resolved against the allowed roots and rejected if it, or the target
// of a symlink, falls outside of them.
package filesystem

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/MegaGrindStone/go-mcp-engine"
)

// Server holds the filesystem catalog for a fixed set of root directories.
type Server struct {
	roots  []string
	logger *slog.Logger
}

// Option represents the options for the Server.
type Option func(*Server)

// Info is the implementation info the filesystem server announces during initialize.
var Info = mcp.Info{
	Name:    "filesystem",
	Title:   "Filesystem server",
	Version: "1.0.0",
}

// NewServer creates a filesystem catalog restricted to roots. Each root must be an existing
// directory, relative paths given to the tools resolve against the first one.
func NewServer(roots []string, options ...Option) (*Server, error) {
	if len(roots) == 0 {
		return nil, fmt.Errorf("at least one root directory is required")
	}

	s := &Server{logger: slog.Default()}
	for _, opt := range options {
		opt(s)
	}

	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve root directory %s: %w", root, err)
		}
		real, err := filepath.EvalSymlinks(abs)
		if err != nil {
			return nil, fmt.Errorf("failed to stat root directory: %w", err)
		}
		info, err := os.Stat(real)
		if err != nil {
			return nil, fmt.Errorf("failed to stat root directory: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("root directory is not a directory: %s", root)
		}
		s.roots = append(s.roots, filepath.Clean(real))
	}

	return s, nil
}

// WithLogger sets the logger of the server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger.With(
			slog.String("package", "go-mcp-engine"),
			slog.String("component", "filesystem"),
		)
	}
}

// Roots returns the resolved root directories.
func (s *Server) Roots() []string {
	return append([]string(nil), s.roots...)
}

// Registry returns a registry holding the tools and the file resource template.
func (s *Server) Registry() (*mcp.Registry, error) {
	r := mcp.NewRegistry()
	for _, t := range s.tools() {
		if err := r.AddTool(t); err != nil {
			return nil, err
		}
	}
	if err := r.AddResourceTemplate(s.fileResourceTemplate()); err != nil {
		return nil, err
	}
	return r, nil
}

// EngineOptions returns the engine options serving the catalog.
func (s *Server) EngineOptions() ([]mcp.EngineOption, error) {
	r, err := s.Registry()
	if err != nil {
		return nil, err
	}
	return []mcp.EngineOption{mcp.WithRegistry(r)}, nil
}
