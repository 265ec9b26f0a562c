// Package everything is a demo catalog exercising every feature the engine serves: plain and
// streamed tools, progress and log notifications, structured output, prompts with completions, a
// paginated resource list and a resource template.
package everything

import (
	"log/slog"
	"os"
	"time"

	"github.com/MegaGrindStone/go-mcp-engine"
)

// Server holds the demo catalog. It keeps no per-session state, log levels and initialization
// are tracked by the engine.
type Server struct {
	logger  *slog.Logger
	environ func() []string
	second  time.Duration
}

// Option represents the options for the Server.
type Option func(*Server)

// Info is the implementation info the demo server announces during initialize.
var Info = mcp.Info{
	Name:    "everything",
	Title:   "Everything demo server",
	Version: "1.0.0",
}

// Instructions is the usage hint returned in the initialize result.
const Instructions = "This server exercises every MCP feature. " +
	"Call longRunningOperation with a progress token to watch progress notifications."

// NewServer creates the demo catalog.
func NewServer(options ...Option) *Server {
	s := &Server{
		logger:  slog.Default(),
		environ: os.Environ,
		second:  time.Second,
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// WithLogger sets the logger of the server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger.With(
			slog.String("package", "go-mcp-engine"),
			slog.String("component", "everything"),
		)
	}
}

// WithEnviron replaces the environment source of the printEnv tool.
func WithEnviron(environ func() []string) Option {
	return func(s *Server) {
		s.environ = environ
	}
}

// WithTimeScale sets the real duration of one second of longRunningOperation.
func WithTimeScale(second time.Duration) Option {
	return func(s *Server) {
		if second > 0 {
			s.second = second
		}
	}
}

// Registry returns a registry holding the whole catalog.
func (s *Server) Registry() (*mcp.Registry, error) {
	r := mcp.NewRegistry()
	for _, t := range s.tools() {
		if err := r.AddTool(t); err != nil {
			return nil, err
		}
	}
	for _, p := range s.prompts() {
		if err := r.AddPrompt(p); err != nil {
			return nil, err
		}
	}
	for _, res := range s.resources() {
		if err := r.AddResource(res); err != nil {
			return nil, err
		}
	}
	if err := r.AddResourceTemplate(s.resourceTemplate()); err != nil {
		return nil, err
	}
	return r, nil
}

// EngineOptions returns the engine options serving the catalog with its info and instructions.
func (s *Server) EngineOptions() ([]mcp.EngineOption, error) {
	r, err := s.Registry()
	if err != nil {
		return nil, err
	}
	return []mcp.EngineOption{
		mcp.WithRegistry(r),
		mcp.WithInstructions(Instructions),
	}, nil
}
