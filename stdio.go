package mcp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// StdIO implements a standard input/output transport for MCP communication using newline
// delimited JSON-RPC messages over stdin/stdout or similar io.Reader/io.Writer pairs. It serves a
// single persistent session whose id is generated once, and processes messages sequentially: the
// next line is not handed to the receiver before the previous one was fully handled.
//
// StdIO is also the Conn of its only session, so it can be passed wherever a Conn is expected.
type StdIO struct {
	reader    io.Reader
	writer    io.Writer
	logger    *slog.Logger
	sessionID string

	receive ReceiveFunc

	writeMu   sync.Mutex
	connected atomic.Bool
}

// StdIOOption represents the options for the StdIO transport.
type StdIOOption func(*StdIO)

type lineWithErr struct {
	line string
	err  error
}

// NewStdIO creates a new StdIO instance configured with the provided reader and writer.
func NewStdIO(reader io.Reader, writer io.Writer, options ...StdIOOption) *StdIO {
	s := &StdIO{
		reader:    reader,
		writer:    writer,
		logger:    slog.Default(),
		sessionID: uuid.New().String(),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// WithStdIOLogger sets the logger for the transport.
func WithStdIOLogger(logger *slog.Logger) StdIOOption {
	return func(s *StdIO) {
		s.logger = logger.With(
			slog.String("package", "go-mcp-engine"),
			slog.String("component", "stdio"),
		)
	}
}

// WithStdIOSessionID overrides the generated session id, which lets a restarted process resume the
// state it kept in a durable SessionStore.
func WithStdIOSessionID(id string) StdIOOption {
	return func(s *StdIO) {
		s.sessionID = id
	}
}

// OnReceive implements Transport.
func (s *StdIO) OnReceive(fn ReceiveFunc) {
	s.receive = fn
}

// SessionID implements Conn.
func (s *StdIO) SessionID() string {
	return s.sessionID
}

// Run implements Transport. It reads until the reader is exhausted, returning nil, or until ctx is
// done, returning the context error.
func (s *StdIO) Run(ctx context.Context) error {
	if s.receive == nil {
		return ErrNoReceiver
	}

	s.connected.Store(true)
	defer s.connected.Store(false)

	stop := make(chan struct{})
	defer close(stop)

	lines := make(chan lineWithErr)

	// The read happens in its own goroutine so a blocked read does not prevent us from noticing
	// that ctx is done.
	go func() {
		// Use bufio.Reader instead of bufio.Scanner to avoid max token size errors.
		reader := bufio.NewReader(s.reader)
		for {
			line, err := reader.ReadString('\n')
			select {
			case lines <- lineWithErr{line: line, err: err}:
			case <-stop:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		var lwe lineWithErr
		select {
		case <-ctx.Done():
			return ctx.Err()
		case lwe = <-lines:
		}

		line := strings.TrimSpace(lwe.line)
		if line != "" {
			s.receive(ctx, s, []byte(line))
		}

		if lwe.err != nil {
			if errors.Is(lwe.err, io.EOF) {
				return nil
			}
			s.logger.Error("failed to read message", slog.String("err", lwe.err.Error()))
			return fmt.Errorf("failed to read message: %w", lwe.err)
		}
	}
}

// Send implements Conn by writing msg as one line.
func (s *StdIO) Send(ctx context.Context, msg Message) error {
	if !s.connected.Load() {
		return ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msgBs, err := marshalMessage(msg)
	if err != nil {
		return err
	}
	// Append newline to maintain message framing protocol
	msgBs = append(msgBs, '\n')

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.writer.Write(msgBs); err != nil {
		s.logger.Error("failed to write message", slog.String("err", err.Error()))
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// Stream implements Conn by writing every frame as soon as it is produced.
func (s *StdIO) Stream(ctx context.Context, msgs iter.Seq[Message]) error {
	if !s.connected.Load() {
		return ErrNotConnected
	}
	for msg := range msgs {
		if err := s.Send(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}
