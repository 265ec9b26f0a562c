// Command everything serves the demo catalog over the transport and session backend chosen in a
// configuration file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"golang.org/x/sync/errgroup"

	"github.com/MegaGrindStone/go-mcp-engine"
	"github.com/MegaGrindStone/go-mcp-engine/internal/config"
	"github.com/MegaGrindStone/go-mcp-engine/servers/everything"
	"github.com/MegaGrindStone/go-mcp-engine/store/redisstore"
	"github.com/MegaGrindStone/go-mcp-engine/store/sqlitestore"
)

var version = "dev"

const banner = `
                          _   _     _
  _____   _____ _ __ _   _| |_| |__ (_)_ __   __ _
 / _ \ \ / / _ \ '__| | | | __| '_ \| | '_ \ / _' |
|  __/\ V /  __/ |  | |_| | |_| | | | | | | | (_| |
 \___| \_/ \___|_|   \__, |\__|_| |_|_|_| |_|\__, |
                     |___/                   |___/
`

// backend is the session store and queue the engine runs on, with the hooks the run loop needs.
type backend struct {
	store mcp.SessionStore
	queue mcp.Queue
	purge func(ctx context.Context) (int64, error)
	close func() error
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, os.Args[2:])
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: everything <command>")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  serve [-config FILE]   Serve the demo catalog")
	fmt.Fprintln(os.Stderr, "  version                Print the version")
}

func runServe(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := flags.String("config", os.Getenv("MCP_CONFIG"), "path to a .yaml or .toml config file")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
	}

	// Stdout carries the protocol on stdio, everything else goes to stderr.
	logger := setupLogger(os.Stderr, cfg.Logging)
	printBanner(os.Stderr, cfg, *configPath)

	be, err := openBackend(ctx, cfg.Session, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := be.close(); err != nil {
			logger.Error("failed to close session backend", slog.String("err", err.Error()))
		}
	}()

	defaultLevel, err := mcp.ParseLogLevel(cfg.Server.DefaultLogLevel)
	if err != nil {
		return err
	}

	catalog, err := everything.NewServer(everything.WithLogger(logger)).EngineOptions()
	if err != nil {
		return fmt.Errorf("building catalog: %w", err)
	}
	options := append(catalog,
		mcp.WithSessionStore(be.store),
		mcp.WithSessionTTL(cfg.Session.TTL),
		mcp.WithPageSize(cfg.Server.PageSize),
		mcp.WithDefaultLogLevel(defaultLevel),
		mcp.WithLogger(logger),
	)
	if cfg.Server.Instructions != "" {
		options = append(options, mcp.WithInstructions(cfg.Server.Instructions))
	}

	engine, err := mcp.NewEngine(mcp.Info{
		Name:    cfg.Server.Name,
		Title:   everything.Info.Title,
		Version: cfg.Server.Version,
	}, options...)
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}
	defer engine.Close()

	transport := newTransport(cfg.Transport, be.queue, logger)

	logger.Info("starting everything server",
		slog.String("transport", cfg.Transport.Kind),
		slog.String("backend", cfg.Session.Backend),
		slog.String("addr", cfg.Transport.HTTPAddr),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := engine.Serve(ctx, transport)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	if be.purge != nil {
		g.Go(func() error {
			return runJanitor(ctx, be.purge, cfg.Session.PurgeInterval, logger)
		})
	}
	return g.Wait()
}

func openBackend(ctx context.Context, cfg config.SessionConfig, logger *slog.Logger) (backend, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		store, err := sqlitestore.New(cfg.Path, sqlitestore.WithLogger(logger))
		if err != nil {
			return backend{}, fmt.Errorf("opening sqlite backend: %w", err)
		}
		return backend{store: store, queue: store.Queue(), purge: store.Purge, close: store.Close}, nil
	case config.BackendRedis:
		client, err := redisstore.Dial(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return backend{}, err
		}
		options := []redisstore.Option{redisstore.WithPrefix(cfg.KeyPrefix), redisstore.WithLogger(logger)}
		return backend{
			store: redisstore.New(client, options...),
			queue: redisstore.NewQueue(client, options...),
			close: client.Close,
		}, nil
	default:
		store := mcp.NewMemoryStore()
		return backend{store: store, queue: mcp.NewMemoryQueue(), close: store.Close}, nil
	}
}

func newTransport(cfg config.TransportConfig, queue mcp.Queue, logger *slog.Logger) mcp.Transport {
	httpOptions := []mcp.HTTPOption{
		mcp.WithHTTPAddr(cfg.HTTPAddr),
		mcp.WithHTTPLogger(logger),
		mcp.WithMaxBodySize(cfg.MaxBodySize),
		mcp.WithPollTimeout(cfg.PollTimeout),
	}

	switch cfg.Kind {
	case config.TransportHTTP:
		return mcp.NewHTTP(httpOptions...)
	case config.TransportSSE:
		return mcp.NewSSE(httpOptions...)
	case config.TransportQueue:
		return mcp.NewQueueTransport(queue, httpOptions...)
	default:
		return mcp.NewStdIO(os.Stdin, os.Stdout, mcp.WithStdIOLogger(logger))
	}
}

// runJanitor periodically removes expired session state until ctx is done.
func runJanitor(
	ctx context.Context,
	purge func(context.Context) (int64, error),
	interval time.Duration,
	logger *slog.Logger,
) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		n, err := purge(ctx)
		if err != nil {
			logger.Warn("failed to purge expired sessions", slog.String("err", err.Error()))
			continue
		}
		if n > 0 {
			logger.Info("purged expired session state", slog.Int64("rows", n))
		}
	}
}

func printBanner(w io.Writer, cfg *config.Config, configPath string) {
	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	green := color.New(color.FgGreen)

	cyan.Fprint(w, banner)
	gray.Fprintf(w, "    version: %s\n\n", version)

	if configPath == "" {
		configPath = "(defaults)"
	}
	green.Fprint(w, "    ▶ ")
	fmt.Fprintf(w, "Config:    %s\n", configPath)
	green.Fprint(w, "    ▶ ")
	fmt.Fprintf(w, "Transport: %s\n", cfg.Transport.Kind)
	if cfg.Transport.Kind != config.TransportStdIO {
		green.Fprint(w, "    ▶ ")
		fmt.Fprintf(w, "Address:   %s\n", cfg.Transport.HTTPAddr)
	}
	green.Fprint(w, "    ▶ ")
	fmt.Fprintf(w, "Sessions:  %s\n\n", cfg.Session.Backend)
}

func setupLogger(w io.Writer, cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}
