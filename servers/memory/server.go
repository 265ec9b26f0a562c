// Package memory is a catalog keeping a knowledge graph of entities, relations and observations.
// The graph is stored through a mcp.SessionStore, so it lives as long as the chosen backend keeps
// it and engines sharing a sqlite or redis store see the same graph.
package memory

import (
	"log/slog"

	"github.com/MegaGrindStone/go-mcp-engine"
)

// DefaultNamespace is the session id the graph is stored under.
const DefaultNamespace = "memory"

// GraphURI is the resource serving the whole graph as JSON.
const GraphURI = "memory://graph"

// Server holds the knowledge graph catalog.
type Server struct {
	graph  *graphStore
	logger *slog.Logger
}

// Option represents the options for the Server.
type Option func(*Server)

// Info is the implementation info the memory server announces during initialize.
var Info = mcp.Info{
	Name:    "memory",
	Title:   "Knowledge graph memory server",
	Version: "1.0.0",
}

// NewServer creates a knowledge graph catalog persisting into store.
func NewServer(store mcp.SessionStore, options ...Option) *Server {
	s := &Server{
		graph:  &graphStore{store: store, namespace: DefaultNamespace},
		logger: slog.Default(),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// WithNamespace stores the graph under namespace instead of DefaultNamespace, keeping several
// graphs apart in one store.
func WithNamespace(namespace string) Option {
	return func(s *Server) {
		s.graph.namespace = namespace
	}
}

// WithLogger sets the logger of the server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger.With(
			slog.String("package", "go-mcp-engine"),
			slog.String("component", "memory"),
		)
	}
}

// Registry returns a registry holding the graph tools and the graph resource.
func (s *Server) Registry() (*mcp.Registry, error) {
	r := mcp.NewRegistry()
	for _, t := range s.tools() {
		if err := r.AddTool(t); err != nil {
			return nil, err
		}
	}
	if err := r.AddResource(s.graphResource()); err != nil {
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
