// Command memory serves the knowledge graph catalog over stdio. With -db the graph and the
// session state are kept in a sqlite file, otherwise they live in memory until the process exits.
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
	"github.com/MegaGrindStone/go-mcp-engine/servers/memory"
	"github.com/MegaGrindStone/go-mcp-engine/store/sqlitestore"
)

func main() {
	dbPath := flag.String("db", os.Getenv("MEMORY_DB_PATH"), "sqlite file holding the graph")
	namespace := flag.String("namespace", memory.DefaultNamespace, "graph namespace inside the store")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *dbPath, *namespace); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, dbPath, namespace string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	var store interface {
		mcp.SessionStore
		Close() error
	}
	if dbPath != "" {
		s, err := sqlitestore.New(dbPath, sqlitestore.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("opening graph database: %w", err)
		}
		store = s
	} else {
		store = mcp.NewMemoryStore()
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close store", slog.String("err", err.Error()))
		}
	}()

	server := memory.NewServer(store, memory.WithNamespace(namespace), memory.WithLogger(logger))
	options, err := server.EngineOptions()
	if err != nil {
		return fmt.Errorf("building catalog: %w", err)
	}
	options = append(options, mcp.WithSessionStore(store), mcp.WithLogger(logger))

	engine, err := mcp.NewEngine(memory.Info, options...)
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}
	defer engine.Close()

	logger.Info("serving knowledge graph", slog.String("db", dbPath), slog.String("namespace", namespace))
	err = engine.Serve(ctx, mcp.NewStdIO(os.Stdin, os.Stdout, mcp.WithStdIOLogger(logger)))
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
