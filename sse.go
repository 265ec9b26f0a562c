package mcp

import (
	"context"
	"iter"
	"log/slog"
	"net/http"
	"sync"

	"github.com/tmaxmax/go-sse"
)

// SSE implements the streaming HTTP transport. Like HTTP, every POST carries one JSON-RPC message,
// but the response is an event stream: each frame is written as a "message" event and flushed as
// soon as the engine produces it, so progress and log notifications reach the client while the
// request is still running. Messages that produce no frames are answered with 202 and an empty
// body.
type SSE struct {
	httpConfig
}

// sseConn writes the frames of one exchange onto the response. The response is upgraded to an
// event stream lazily, on the first frame.
type sseConn struct {
	sessionID string
	w         http.ResponseWriter
	r         *http.Request
	logger    *slog.Logger

	mu     sync.Mutex
	sess   *sse.Session
	closed bool
}

// NewSSE creates a streaming HTTP transport.
func NewSSE(options ...HTTPOption) *SSE {
	return &SSE{httpConfig: newHTTPConfig("sse", options)}
}

// Run implements Transport.
func (s *SSE) Run(ctx context.Context) error {
	return s.run(ctx, s)
}

// ServeHTTP implements http.Handler.
func (s *SSE) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.receive == nil {
		http.Error(w, ErrNoReceiver.Error(), http.StatusServiceUnavailable)
		return
	}
	sessionID, body, ok := s.readExchange(w, r)
	if !ok {
		return
	}

	conn := &sseConn{
		sessionID: sessionID,
		w:         w,
		r:         r,
		logger:    s.logger,
	}
	s.receive(s.requestContext(r), conn, body)

	if !conn.close() {
		w.WriteHeader(http.StatusAccepted)
	}
}

func (c *sseConn) SessionID() string {
	return c.sessionID
}

func (c *sseConn) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	bs, err := marshalMessage(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrNotConnected
	}
	if c.sess == nil {
		sess, err := sse.Upgrade(c.w, c.r)
		if err != nil {
			c.logger.Error("failed to upgrade response", slog.String("err", err.Error()))
			return err
		}
		c.sess = sess
	}
	if err := writeEventData(c.sess, bs); err != nil {
		c.logger.Error("failed to send frame", slog.String("err", err.Error()))
		return err
	}
	return nil
}

func (c *sseConn) Stream(ctx context.Context, msgs iter.Seq[Message]) error {
	for msg := range msgs {
		if err := c.Send(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

// close ends the exchange and reports whether anything was written.
func (c *sseConn) close() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	return c.sess != nil
}
