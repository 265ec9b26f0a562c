// Command filesystem serves the filesystem catalog over stdio, restricted to the directories given
// as arguments.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/MegaGrindStone/go-mcp-engine"
	"github.com/MegaGrindStone/go-mcp-engine/servers/filesystem"
)

func main() {
	var roots []string
	flag.Func("path", "allowed directory, may be repeated", func(v string) error {
		roots = append(roots, v)
		return nil
	})
	level := flag.String("log-level", "info", "log level written to stderr")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: filesystem [-log-level LEVEL] [-path DIR]... [DIR]...")
		flag.PrintDefaults()
	}
	flag.Parse()
	roots = append(roots, flag.Args()...)

	if len(roots) == 0 {
		fmt.Fprintln(os.Stderr, "Error: at least one directory is required")
		flag.Usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, roots, *level); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, roots []string, level string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))

	server, err := filesystem.NewServer(roots, filesystem.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("creating filesystem server: %w", err)
	}
	options, err := server.EngineOptions()
	if err != nil {
		return fmt.Errorf("building catalog: %w", err)
	}

	engine, err := mcp.NewEngine(filesystem.Info, append(options, mcp.WithLogger(logger))...)
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}
	defer engine.Close()

	logger.Info("serving filesystem", slog.Any("roots", server.Roots()))
	err = engine.Serve(ctx, mcp.NewStdIO(os.Stdin, os.Stdout, mcp.WithStdIOLogger(logger)))
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
