package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"
)

// EngineOption represents the options for the engine.
type EngineOption func(*Engine)

// Engine implements the server side of the Model Context Protocol. It receives raw messages from a
// Transport, validates and dispatches them to the method table, and hands the produced frames back
// to the connection the message arrived on.
//
// The engine keeps no per session state in memory, everything a session needs between messages
// lives in the SessionStore, so engines in different processes sharing one store serve the same
// sessions.
type Engine struct {
	info         Info
	instructions string
	capabilities ServerCapabilities

	registry     *Registry
	pendingTools []ToolHandler
	pendingPrmpt []PromptHandler
	pendingRes   []ResourceHandler
	pendingTmpl  []ResourceTemplateHandler

	store        SessionStore
	ownedStore   *MemoryStore
	sessionTTL   time.Duration
	pageSize     int
	defaultLevel LogLevel
	authorizer   Authorizer

	logger *slog.Logger

	methods map[string]methodEntry
}

// Method handles one request method. The session handle is scoped to the session the request
// belongs to.
type Method interface {
	Handle(ctx context.Context, sess *Session, req Request) (Reply, error)
}

// MethodFunc adapts a function to Method.
type MethodFunc func(ctx context.Context, sess *Session, req Request) (Reply, error)

// Reply is what a method produced: a single terminal frame, or a lazy sequence of frames that ends
// with exactly one terminal frame. Frames before the terminal one are notifications and are
// delivered in order ahead of it.
type Reply struct {
	single Message
	stream iter.Seq[Message]
}

type methodEntry struct {
	method Method
	// gated methods require an initialized session.
	gated bool
}

const defaultPageSize = 50

// Single returns a reply made of one terminal frame.
func Single(msg Message) Reply {
	return Reply{single: msg}
}

// Stream returns a reply whose frames are produced by seq.
func Stream(seq iter.Seq[Message]) Reply {
	return Reply{stream: seq}
}

// IsStream reports whether the reply is a sequence.
func (r Reply) IsStream() bool {
	return r.stream != nil
}

// Frames iterates over the frames of the reply.
func (r Reply) Frames() iter.Seq[Message] {
	if r.stream != nil {
		return r.stream
	}
	return func(yield func(Message) bool) {
		if r.single != nil {
			yield(r.single)
		}
	}
}

// Handle implements Method.
func (f MethodFunc) Handle(ctx context.Context, sess *Session, req Request) (Reply, error) {
	return f(ctx, sess, req)
}

// NewEngine creates an engine serving the catalog given through options. It fails when the catalog
// is invalid, for example on duplicate tool names or malformed schemas.
func NewEngine(info Info, options ...EngineOption) (*Engine, error) {
	e := &Engine{
		info:         info,
		pageSize:     defaultPageSize,
		sessionTTL:   DefaultSessionTTL,
		defaultLevel: LogLevelDebug,
		logger:       slog.Default(),
	}
	for _, opt := range options {
		opt(e)
	}

	if e.registry == nil {
		e.registry = NewRegistry()
	}
	var errs []error
	for _, t := range e.pendingTools {
		errs = append(errs, e.registry.AddTool(t))
	}
	for _, p := range e.pendingPrmpt {
		errs = append(errs, e.registry.AddPrompt(p))
	}
	for _, r := range e.pendingRes {
		errs = append(errs, e.registry.AddResource(r))
	}
	for _, t := range e.pendingTmpl {
		errs = append(errs, e.registry.AddResourceTemplate(t))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("failed to register catalog: %w", err)
	}

	if e.store == nil {
		e.ownedStore = NewMemoryStore()
		e.store = e.ownedStore
	}

	e.capabilities = ServerCapabilities{
		Logging:     &LoggingCapability{},
		Completions: &CompletionsCapability{},
	}
	if len(e.registry.tools) > 0 {
		e.capabilities.Tools = &ToolsCapability{}
	}
	if len(e.registry.prompts) > 0 {
		e.capabilities.Prompts = &PromptsCapability{}
	}
	if len(e.registry.resources) > 0 || len(e.registry.templates) > 0 {
		e.capabilities.Resources = &ResourcesCapability{}
	}

	e.methods = map[string]methodEntry{
		MethodInitialize:             {method: MethodFunc(e.initialize)},
		MethodPing:                   {method: MethodFunc(e.ping)},
		MethodToolsList:              {method: MethodFunc(e.listTools), gated: true},
		MethodToolsCall:              {method: MethodFunc(e.callTool), gated: true},
		MethodPromptsList:            {method: MethodFunc(e.listPrompts), gated: true},
		MethodPromptsGet:             {method: MethodFunc(e.getPrompt), gated: true},
		MethodResourcesList:          {method: MethodFunc(e.listResources), gated: true},
		MethodResourcesRead:          {method: MethodFunc(e.readResource), gated: true},
		MethodResourcesTemplatesList: {method: MethodFunc(e.listResourceTemplates), gated: true},
		MethodLoggingSetLevel:        {method: MethodFunc(e.setLogLevel), gated: true},
		MethodCompletionComplete:     {method: MethodFunc(e.complete), gated: true},
	}

	return e, nil
}

// WithTool returns an EngineOption that registers a tool.
func WithTool(tool ToolHandler) EngineOption {
	return func(e *Engine) {
		e.pendingTools = append(e.pendingTools, tool)
	}
}

// WithPrompt returns an EngineOption that registers a prompt.
func WithPrompt(prompt PromptHandler) EngineOption {
	return func(e *Engine) {
		e.pendingPrmpt = append(e.pendingPrmpt, prompt)
	}
}

// WithResource returns an EngineOption that registers a concrete resource.
func WithResource(resource ResourceHandler) EngineOption {
	return func(e *Engine) {
		e.pendingRes = append(e.pendingRes, resource)
	}
}

// WithResourceTemplate returns an EngineOption that registers a resource template.
func WithResourceTemplate(template ResourceTemplateHandler) EngineOption {
	return func(e *Engine) {
		e.pendingTmpl = append(e.pendingTmpl, template)
	}
}

// WithRegistry returns an EngineOption that serves an already populated registry. Items given
// with WithTool and friends are added to it.
func WithRegistry(registry *Registry) EngineOption {
	return func(e *Engine) {
		e.registry = registry
	}
}

// WithSessionStore returns an EngineOption that keeps session state in store. Without it the engine
// uses a MemoryStore that Close releases.
func WithSessionStore(store SessionStore) EngineOption {
	return func(e *Engine) {
		e.store = store
	}
}

// WithSessionTTL returns an EngineOption that configures how long session state is kept.
func WithSessionTTL(ttl time.Duration) EngineOption {
	return func(e *Engine) {
		if ttl > 0 {
			e.sessionTTL = ttl
		}
	}
}

// WithPageSize returns an EngineOption that configures the page size of list methods. Zero
// disables pagination.
func WithPageSize(size int) EngineOption {
	return func(e *Engine) {
		e.pageSize = size
	}
}

// WithDefaultLogLevel returns an EngineOption that configures the log level of sessions that never
// called logging/setLevel.
func WithDefaultLogLevel(level LogLevel) EngineOption {
	return func(e *Engine) {
		e.defaultLevel = level
	}
}

// WithAuthorizer returns an EngineOption that checks every call against authorizer.
func WithAuthorizer(authorizer Authorizer) EngineOption {
	return func(e *Engine) {
		e.authorizer = authorizer
	}
}

// WithInstructions returns an EngineOption that configures the server instructions.
func WithInstructions(instructions string) EngineOption {
	return func(e *Engine) {
		e.instructions = instructions
	}
}

// WithLogger sets the logger for the engine.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger.With(
			slog.String("package", "go-mcp-engine"),
			slog.String("component", "engine"),
		)
	}
}

// Connect registers the engine as the receiver of t.
func (e *Engine) Connect(t Transport) {
	t.OnReceive(e.Receive)
}

// Serve connects the engine to t and runs t until it stops.
func (e *Engine) Serve(ctx context.Context, t Transport) error {
	e.Connect(t)
	return t.Run(ctx)
}

// Close releases the session store the engine created itself.
func (e *Engine) Close() error {
	if e.ownedStore != nil {
		return e.ownedStore.Close()
	}
	return nil
}

// Session returns the handle of the session with the given id.
func (e *Engine) Session(id string) *Session {
	sess := NewSession(id, e.store, e.sessionTTL)
	sess.defaultLevel = e.defaultLevel
	return sess
}

// Receive handles one raw inbound message and sends whatever it produces through conn. It is the
// ReceiveFunc the engine installs on transports.
func (e *Engine) Receive(ctx context.Context, conn Conn, raw []byte) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		_, perr := ParseRequest(raw)
		if perr == nil {
			perr = NewError(CodeInvalidRequest, "request must be a JSON object")
		}
		e.logger.Info("failed to parse message", slog.String("err", perr.Error()))
		e.sendError(ctx, conn, nil, perr)
		return
	}

	rawID, hasID := fields["id"]
	if !hasID {
		e.handleNotification(ctx, conn, fields)
		return
	}

	if _, hasMethod := fields["method"]; !hasMethod {
		_, hasResult := fields["result"]
		_, hasError := fields["error"]
		if hasResult || hasError {
			e.logger.Debug("ignoring client response", slog.String("id", string(rawID)))
			return
		}
	}

	req, err := parseRequestFields(fields)
	if err != nil {
		var id *ID
		var parsed ID
		if parsed.UnmarshalJSON(rawID) == nil {
			id = &parsed
		}
		e.logger.Info("invalid request", slog.String("err", err.Error()))
		e.sendError(ctx, conn, id, err)
		return
	}
	req.SessionID = conn.SessionID()

	e.dispatch(ctx, conn, req)
}

func (e *Engine) dispatch(ctx context.Context, conn Conn, req Request) {
	entry, ok := e.methods[req.Method]
	if !ok {
		e.sendError(ctx, conn, &req.ID, NewError(CodeMethodNotFound, errMsgMethodNotFound).
			WithData(map[string]any{"method": req.Method}))
		return
	}

	sess := e.Session(req.SessionID)
	if entry.gated {
		initialized, err := sess.Initialized(ctx)
		if err != nil {
			e.sendError(ctx, conn, &req.ID, fmt.Errorf("failed to read session state: %w", err))
			return
		}
		if !initialized {
			e.sendError(ctx, conn, &req.ID, NewError(CodeInvalidRequest, errMsgNotInitialized))
			return
		}
	}

	ctx = contextWithSession(ctx, sess)
	reply, err := e.invoke(ctx, entry.method, sess, req)
	if err != nil {
		e.sendError(ctx, conn, &req.ID, err)
		return
	}

	if !reply.IsStream() && reply.single != nil && isTerminal(reply.single) {
		if err := conn.Send(ctx, withRequestID(reply.single, req.ID)); err != nil {
			e.logger.Error("failed to send result",
				slog.String("method", req.Method),
				slog.String("err", err.Error()))
		}
		return
	}

	if err := conn.Stream(ctx, e.frames(req, reply.Frames())); err != nil {
		e.logger.Error("failed to stream result",
			slog.String("method", req.Method),
			slog.String("err", err.Error()))
	}
}

func (e *Engine) invoke(ctx context.Context, m Method, sess *Session, req Request) (reply Reply, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("method %s panicked: %v", req.Method, r)
		}
	}()
	return m.Handle(ctx, sess, req)
}

// frames enforces the shape of a streamed reply: notifications pass through in order, the first
// terminal frame is pinned to the request id and ends the stream, and a stream that ends or panics
// without a terminal frame gets an internal error instead.
func (e *Engine) frames(req Request, seq iter.Seq[Message]) iter.Seq[Message] {
	return func(yield func(Message) bool) {
		terminated := false
		inYield := false
		defer func() {
			if inYield {
				// The panic came from the consumer, let it through.
				return
			}
			if r := recover(); r != nil {
				e.logger.Error("method stream panicked",
					slog.String("method", req.Method),
					slog.String("err", fmt.Sprint(r)))
				if !terminated {
					yield(internalErrorResponse(req.ID))
				}
			}
		}()

		for msg := range seq {
			if msg == nil {
				continue
			}
			if isTerminal(msg) {
				terminated = true
				inYield = true
				yield(withRequestID(msg, req.ID))
				inYield = false
				return
			}
			inYield = true
			ok := yield(msg)
			inYield = false
			if !ok {
				terminated = true
				return
			}
		}

		if !terminated {
			e.logger.Error("method stream ended without a result", slog.String("method", req.Method))
			terminated = true
			yield(internalErrorResponse(req.ID))
		}
	}
}

func (e *Engine) sendError(ctx context.Context, conn Conn, id *ID, err error) {
	var rpcErr *Error
	if !errors.As(err, &rpcErr) {
		e.logger.Error("failed to handle request", slog.String("err", err.Error()))
		rpcErr = NewError(CodeInternalError, errMsgInternalError)
	}
	if sendErr := conn.Send(ctx, ErrorResponse{ID: id, Error: rpcErr}); sendErr != nil {
		e.logger.Error("failed to send error", slog.String("err", sendErr.Error()))
	}
}

func (e *Engine) handleNotification(ctx context.Context, conn Conn, fields map[string]json.RawMessage) {
	var method string
	if err := json.Unmarshal(fields["method"], &method); err != nil {
		e.logger.Debug("dropping malformed notification")
		return
	}

	logger := e.logger.With(slog.String("session", conn.SessionID()))
	switch method {
	case methodNotificationsInitialized:
		if err := e.Session(conn.SessionID()).Set(ctx, sessionKeyClientReady, []byte("1")); err != nil {
			logger.Error("failed to store session state", slog.String("err", err.Error()))
			return
		}
		logger.Info("client initialized")
	case methodNotificationsCancelled:
		var params notificationsCancelledParams
		if err := json.Unmarshal(fields["params"], &params); err != nil {
			logger.Debug("dropping malformed cancellation", slog.String("err", err.Error()))
			return
		}
		requestID := ""
		if params.RequestID != nil {
			requestID = params.RequestID.String()
		}
		logger.Info("client cancelled request",
			slog.String("requestId", requestID),
			slog.String("reason", params.Reason))
	case methodNotificationsRootsListChanged:
		logger.Info("client roots list changed")
	default:
		logger.Debug("dropping notification", slog.String("method", method))
	}
}

func internalErrorResponse(id ID) ErrorResponse {
	return ErrorResponse{ID: &id, Error: NewError(CodeInternalError, errMsgInternalError)}
}
