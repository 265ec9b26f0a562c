package mcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
)

// HTTPOption represents the options shared by the HTTP based transports.
type HTTPOption func(*httpConfig)

// HTTP implements the synchronous HTTP transport: every POST carries one JSON-RPC message and the
// response body carries what the engine produced for it. The session id travels in the
// Mcp-Session-Id header, requests without one get a fresh id which is echoed back so the client can
// pin later requests to it.
//
// HTTP is an http.Handler and can be mounted on any router. With WithHTTPAddr, Run also serves it.
type HTTP struct {
	httpConfig
}

type httpConfig struct {
	addr              string
	logger            *slog.Logger
	maxBodySize       int64
	readHeaderTimeout time.Duration
	shutdownTimeout   time.Duration
	pollTimeout       time.Duration
	principal         PrincipalFunc
	listener          net.Listener

	receive ReceiveFunc
}

// httpConn buffers the frames of one synchronous exchange until the handler returns.
type httpConn struct {
	sessionID string

	mu       sync.Mutex
	closed   bool
	frames   []Message
	streamed bool
}

const (
	// SessionIDHeader carries the session id of HTTP exchanges.
	SessionIDHeader = "Mcp-Session-Id"

	// DefaultMaxBodySize bounds the size of one inbound message.
	DefaultMaxBodySize = 1 << 20

	defaultReadHeaderTimeout = 15 * time.Second
	defaultShutdownTimeout   = 5 * time.Second
	defaultPollTimeout       = 5 * time.Second

	contentTypeJSON        = "application/json"
	contentTypeEventStream = "text/event-stream"
)

func newHTTPConfig(component string, options []HTTPOption) httpConfig {
	cfg := httpConfig{
		logger:            slog.Default(),
		maxBodySize:       DefaultMaxBodySize,
		readHeaderTimeout: defaultReadHeaderTimeout,
		shutdownTimeout:   defaultShutdownTimeout,
		pollTimeout:       defaultPollTimeout,
	}
	for _, opt := range options {
		opt(&cfg)
	}
	cfg.logger = cfg.logger.With(slog.String("transport", component))
	return cfg
}

// NewHTTP creates a synchronous HTTP transport.
func NewHTTP(options ...HTTPOption) *HTTP {
	return &HTTP{httpConfig: newHTTPConfig("http", options)}
}

// WithHTTPAddr makes Run listen on addr.
func WithHTTPAddr(addr string) HTTPOption {
	return func(c *httpConfig) {
		c.addr = addr
	}
}

// WithHTTPListener makes Run serve on an existing listener, which takes precedence over the address.
func WithHTTPListener(l net.Listener) HTTPOption {
	return func(c *httpConfig) {
		c.listener = l
	}
}

// WithHTTPLogger sets the logger for the transport.
func WithHTTPLogger(logger *slog.Logger) HTTPOption {
	return func(c *httpConfig) {
		c.logger = logger.With(slog.String("package", "go-mcp-engine"))
	}
}

// WithMaxBodySize bounds the size of inbound messages. Larger bodies are rejected with 413.
func WithMaxBodySize(size int64) HTTPOption {
	return func(c *httpConfig) {
		if size > 0 {
			c.maxBodySize = size
		}
	}
}

// WithPollTimeout bounds how long one queue pop blocks in the queued transport before the
// consumer loop checks the connection again.
func WithPollTimeout(timeout time.Duration) HTTPOption {
	return func(c *httpConfig) {
		if timeout > 0 {
			c.pollTimeout = timeout
		}
	}
}

// WithShutdownTimeout bounds the graceful shutdown when Run stops.
func WithShutdownTimeout(timeout time.Duration) HTTPOption {
	return func(c *httpConfig) {
		if timeout > 0 {
			c.shutdownTimeout = timeout
		}
	}
}

// WithPrincipalFunc installs the lookup of the authenticated principal of a request. The principal
// is available to authorizers and handlers through PrincipalFromContext.
func WithPrincipalFunc(fn PrincipalFunc) HTTPOption {
	return func(c *httpConfig) {
		c.principal = fn
	}
}

// OnReceive implements Transport.
func (c *httpConfig) OnReceive(fn ReceiveFunc) {
	c.receive = fn
}

// run serves handler until ctx is done. Without an address or listener it only waits, the handler
// is then expected to be mounted on the host's own server.
func (c *httpConfig) run(ctx context.Context, handler http.Handler) error {
	if c.receive == nil {
		return ErrNoReceiver
	}
	if c.addr == "" && c.listener == nil {
		<-ctx.Done()
		return nil
	}

	srv := &http.Server{
		Addr:              c.addr,
		Handler:           handler,
		ReadHeaderTimeout: c.readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errs := make(chan error, 1)
	go func() {
		var err error
		if c.listener != nil {
			err = srv.Serve(c.listener)
		} else {
			err = srv.ListenAndServe()
		}
		errs <- err
	}()

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), c.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown http server: %w", err)
	}
	return nil
}

// readExchange validates an inbound POST and returns its session id and body. It writes the error
// response itself and reports false when the request cannot be handled.
func (c *httpConfig) readExchange(w http.ResponseWriter, r *http.Request) (string, []byte, bool) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return "", nil, false
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, c.maxBodySize))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return "", nil, false
		}
		nErr := fmt.Errorf("failed to read body: %w", err)
		c.logger.Warn("failed to read body", slog.String("err", nErr.Error()))
		http.Error(w, nErr.Error(), http.StatusBadRequest)
		return "", nil, false
	}

	sessionID := r.Header.Get(SessionIDHeader)
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	w.Header().Set(SessionIDHeader, sessionID)

	return sessionID, body, true
}

func (c *httpConfig) requestContext(r *http.Request) context.Context {
	ctx := r.Context()
	if c.principal != nil {
		ctx = ContextWithPrincipal(ctx, c.principal(r))
	}
	return ctx
}

// Run implements Transport.
func (h *HTTP) Run(ctx context.Context) error {
	return h.run(ctx, h)
}

// ServeHTTP implements http.Handler.
func (h *HTTP) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.receive == nil {
		http.Error(w, ErrNoReceiver.Error(), http.StatusServiceUnavailable)
		return
	}
	sessionID, body, ok := h.readExchange(w, r)
	if !ok {
		return
	}

	conn := &httpConn{sessionID: sessionID}
	h.receive(h.requestContext(r), conn, body)
	frames, streamed := conn.close()

	if len(frames) == 0 {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if streamed && acceptsEventStream(r) {
		sess, err := sse.Upgrade(w, r)
		if err != nil {
			h.logger.Error("failed to upgrade response", slog.String("err", err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if err := writeEvents(sess, slices.Values(frames)); err != nil {
			h.logger.Error("failed to write events", slog.String("err", err.Error()))
		}
		return
	}

	// Without an event stream only the terminal frame can be delivered.
	bs, err := marshalMessage(frames[len(frames)-1])
	if err != nil {
		h.logger.Error("failed to marshal response", slog.String("err", err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(bs); err != nil {
		h.logger.Error("failed to write response", slog.String("err", err.Error()))
	}
}

func (c *httpConn) SessionID() string {
	return c.sessionID
}

func (c *httpConn) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrNotConnected
	}
	c.frames = append(c.frames, msg)
	return nil
}

func (c *httpConn) Stream(ctx context.Context, msgs iter.Seq[Message]) error {
	c.mu.Lock()
	closed := c.closed
	c.streamed = true
	c.mu.Unlock()
	if closed {
		return ErrNotConnected
	}

	for msg := range msgs {
		if err := c.Send(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (c *httpConn) close() ([]Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	return c.frames, c.streamed
}

func acceptsEventStream(r *http.Request) bool {
	for _, accept := range r.Header.Values("Accept") {
		for _, part := range strings.Split(accept, ",") {
			mediaType, _, _ := strings.Cut(strings.TrimSpace(part), ";")
			if strings.EqualFold(strings.TrimSpace(mediaType), contentTypeEventStream) {
				return true
			}
		}
	}
	return false
}

// writeEvents sends every frame as one "message" event, flushing after each one.
func writeEvents(sess *sse.Session, msgs iter.Seq[Message]) error {
	for msg := range msgs {
		if err := writeEvent(sess, msg); err != nil {
			return err
		}
	}
	return nil
}

func writeEvent(sess *sse.Session, msg Message) error {
	bs, err := marshalMessage(msg)
	if err != nil {
		return err
	}
	return writeEventData(sess, bs)
}

func writeEventData(sess *sse.Session, data []byte) error {
	e := &sse.Message{Type: sse.Type("message")}
	e.AppendData(string(data))
	if err := sess.Send(e); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	if err := sess.Flush(); err != nil {
		return fmt.Errorf("failed to flush event: %w", err)
	}
	return nil
}
