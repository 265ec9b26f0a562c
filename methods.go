package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
)

func (e *Engine) initialize(ctx context.Context, sess *Session, req Request) (Reply, error) {
	var params initializeParams
	if err := decodeParams(req, &params); err != nil {
		return Reply{}, err
	}

	version := negotiateProtocolVersion(params.ProtocolVersion)
	if err := sess.markInitialized(ctx, params, version); err != nil {
		return Reply{}, fmt.Errorf("failed to store session state: %w", err)
	}

	e.logger.Info("session initialized",
		slog.String("session", sess.ID()),
		slog.String("client", params.ClientInfo.Name),
		slog.String("clientVersion", params.ClientInfo.Version),
		slog.String("protocolVersion", version))

	return Single(Response{ID: req.ID, Result: initializeResult{
		ProtocolVersion: version,
		Capabilities:    e.capabilities,
		ServerInfo:      e.info,
		Instructions:    e.instructions,
	}}), nil
}

func (e *Engine) ping(_ context.Context, _ *Session, req Request) (Reply, error) {
	return Single(Response{ID: req.ID}), nil
}

func (e *Engine) listTools(ctx context.Context, _ *Session, req Request) (Reply, error) {
	var params ListToolsParams
	if err := decodeParams(req, &params); err != nil {
		return Reply{}, err
	}

	tools := slices.DeleteFunc(e.registry.Tools(), func(t Tool) bool {
		return !e.permitted(ctx, MethodToolsCall, t.Name)
	})
	page := Paginate(tools, e.pageSize, params.Cursor)

	return Single(Response{ID: req.ID, Result: ListToolsResult{
		Tools:      page.Items,
		NextCursor: page.NextCursor,
	}}), nil
}

func (e *Engine) callTool(ctx context.Context, sess *Session, req Request) (Reply, error) {
	var params CallToolParams
	if err := decodeParams(req, &params); err != nil {
		return Reply{}, err
	}
	if params.Name == "" {
		return Reply{}, invalidParams("missing tool name")
	}

	tool, ok := e.registry.tool(params.Name)
	if !ok {
		return Reply{}, NewError(CodeInvalidParams, "Tool not found").
			WithData(map[string]any{"name": params.Name})
	}
	if !e.permitted(ctx, MethodToolsCall, params.Name) {
		return Reply{}, NewError(CodeInvalidRequest, errMsgNotPermitted)
	}

	args, err := decodeArguments(params.Arguments)
	if err != nil {
		return Reply{}, err
	}
	if err := tool.validate(ctx, args); err != nil {
		e.logger.Info("tool arguments rejected",
			slog.String("tool", params.Name),
			slog.String("err", err.Error()))
		return Single(Response{ID: req.ID, Result: errorResult(err)}), nil
	}

	out, err := tool.handler.Call(ctx, args)
	if err != nil {
		return e.toolFailure(req, params.Name, err)
	}

	if !out.IsStream() && !slices.ContainsFunc(out.items, isNotificationItem) {
		result := CallToolResult{Content: []Content{}}
		for _, item := range out.items {
			if err := appendResult(&result, item); err != nil {
				return Reply{}, err
			}
		}
		return Single(Response{ID: req.ID, Result: result}), nil
	}

	return Stream(e.toolFrames(ctx, sess, req, params.Meta.ProgressToken, out)), nil
}

func (e *Engine) toolFailure(req Request, name string, err error) (Reply, error) {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return Reply{}, rpcErr
	}
	e.logger.Info("tool call failed", slog.String("tool", name), slog.String("err", err.Error()))
	return Single(Response{ID: req.ID, Result: errorResult(err)}), nil
}

// toolFrames relays the notification items of out as they are produced and ends with the tool
// result built from the remaining items.
func (e *Engine) toolFrames(
	ctx context.Context,
	sess *Session,
	req Request,
	progressToken *ID,
	out ToolOutput,
) iter.Seq[Message] {
	return func(yield func(Message) bool) {
		result := CallToolResult{Content: []Content{}}
		for item, err := range out.All() {
			if err != nil {
				var rpcErr *Error
				if errors.As(err, &rpcErr) {
					yield(ErrorResponse{ID: &req.ID, Error: rpcErr})
					return
				}
				e.logger.Info("tool stream failed", slog.String("err", err.Error()))
				yield(Response{ID: req.ID, Result: errorResult(err)})
				return
			}

			if isNotificationItem(item) {
				msg, ok := e.notificationFrame(ctx, sess, progressToken, item)
				if !ok {
					continue
				}
				if !yield(msg) {
					return
				}
				continue
			}

			if err := appendResult(&result, item); err != nil {
				e.logger.Error("failed to build tool result", slog.String("err", err.Error()))
				yield(internalErrorResponse(req.ID))
				return
			}
		}
		yield(Response{ID: req.ID, Result: result})
	}
}

// notificationFrame turns a notification item into a frame, or reports false when the session
// should not receive it.
func (e *Engine) notificationFrame(ctx context.Context, sess *Session, progressToken *ID, item ContentItem) (Message, bool) {
	switch it := item.(type) {
	case ProgressNotification:
		if progressToken == nil {
			return nil, false
		}
		return Notification{Method: MethodNotificationsProgress, Params: ProgressParams{
			ProgressToken: *progressToken,
			Progress:      it.Progress,
			Total:         it.Total,
			Message:       it.Message,
		}}, true
	case LogNotification:
		emit, err := sess.Logging().ShouldEmit(ctx, it.Level)
		if err != nil {
			e.logger.Warn("failed to read session log level", slog.String("err", err.Error()))
			return nil, false
		}
		if !emit {
			return nil, false
		}
		return Notification{Method: MethodNotificationsMessage, Params: LogParams{
			Level:  it.Level,
			Logger: it.Logger,
			Data:   it.Data,
		}}, true
	default:
		return nil, false
	}
}

func (e *Engine) listPrompts(ctx context.Context, _ *Session, req Request) (Reply, error) {
	var params ListPromptsParams
	if err := decodeParams(req, &params); err != nil {
		return Reply{}, err
	}

	prompts := slices.DeleteFunc(e.registry.Prompts(), func(p Prompt) bool {
		return !e.permitted(ctx, MethodPromptsGet, p.Name)
	})
	page := Paginate(prompts, e.pageSize, params.Cursor)

	return Single(Response{ID: req.ID, Result: ListPromptResult{
		Prompts:    page.Items,
		NextCursor: page.NextCursor,
	}}), nil
}

func (e *Engine) getPrompt(ctx context.Context, _ *Session, req Request) (Reply, error) {
	var params GetPromptParams
	if err := decodeParams(req, &params); err != nil {
		return Reply{}, err
	}

	prompt, ok := e.registry.prompt(params.Name)
	if !ok {
		return Reply{}, NewError(CodeInvalidParams, "Prompt not found").
			WithData(map[string]any{"name": params.Name})
	}
	if !e.permitted(ctx, MethodPromptsGet, params.Name) {
		return Reply{}, NewError(CodeInvalidRequest, errMsgNotPermitted)
	}

	args := params.Arguments
	if args == nil {
		args = map[string]string{}
	}
	for _, arg := range prompt.Prompt().Arguments {
		if _, ok := args[arg.Name]; arg.Required && !ok {
			return Reply{}, NewError(CodeInvalidParams, "missing required argument").
				WithData(map[string]any{"argument": arg.Name})
		}
	}

	result, err := prompt.Get(ctx, args)
	if err != nil {
		return Reply{}, fmt.Errorf("failed to get prompt %q: %w", params.Name, err)
	}
	if result.Messages == nil {
		result.Messages = []PromptMessage{}
	}
	return Single(Response{ID: req.ID, Result: result}), nil
}

func (e *Engine) listResources(ctx context.Context, _ *Session, req Request) (Reply, error) {
	var params ListResourcesParams
	if err := decodeParams(req, &params); err != nil {
		return Reply{}, err
	}

	resources := slices.DeleteFunc(e.registry.Resources(), func(r Resource) bool {
		return !e.permitted(ctx, MethodResourcesRead, r.URI)
	})
	page := Paginate(resources, e.pageSize, params.Cursor)

	return Single(Response{ID: req.ID, Result: ListResourcesResult{
		Resources:  page.Items,
		NextCursor: page.NextCursor,
	}}), nil
}

func (e *Engine) listResourceTemplates(ctx context.Context, _ *Session, req Request) (Reply, error) {
	var params ListResourceTemplatesParams
	if err := decodeParams(req, &params); err != nil {
		return Reply{}, err
	}

	templates := slices.DeleteFunc(e.registry.ResourceTemplates(), func(t ResourceTemplate) bool {
		return !e.permitted(ctx, MethodResourcesRead, t.URITemplate)
	})
	page := Paginate(templates, e.pageSize, params.Cursor)

	return Single(Response{ID: req.ID, Result: ListResourceTemplatesResult{
		Templates:  page.Items,
		NextCursor: page.NextCursor,
	}}), nil
}

func (e *Engine) readResource(ctx context.Context, _ *Session, req Request) (Reply, error) {
	var params ReadResourceParams
	if err := decodeParams(req, &params); err != nil {
		return Reply{}, err
	}
	if params.URI == "" {
		return Reply{}, invalidParams("missing resource uri")
	}

	var (
		contents []ResourceContents
		err      error
	)
	if res, ok := e.registry.resource(params.URI); ok {
		if !e.permitted(ctx, MethodResourcesRead, params.URI) {
			return Reply{}, NewError(CodeInvalidRequest, errMsgNotPermitted)
		}
		contents, err = res.Read(ctx)
	} else if tmpl, vars, ok := e.registry.matchTemplate(params.URI); ok {
		if !e.permitted(ctx, MethodResourcesRead, params.URI) {
			return Reply{}, NewError(CodeInvalidRequest, errMsgNotPermitted)
		}
		contents, err = tmpl.handler.Read(ctx, params.URI, vars)
	} else {
		return Reply{}, NewError(CodeResourceNotFound, errMsgResourceNotFound).
			WithData(map[string]any{"uri": params.URI})
	}
	if err != nil {
		return Reply{}, fmt.Errorf("failed to read resource %q: %w", params.URI, err)
	}

	if contents == nil {
		contents = []ResourceContents{}
	}
	for i := range contents {
		if contents[i].URI == "" {
			contents[i].URI = params.URI
		}
	}
	return Single(Response{ID: req.ID, Result: ReadResourceResult{Contents: contents}}), nil
}

func (e *Engine) setLogLevel(ctx context.Context, sess *Session, req Request) (Reply, error) {
	var params SetLogLevelParams
	if err := decodeParams(req, &params); err != nil {
		return Reply{}, err
	}
	if params.Level == nil {
		return Reply{}, invalidParams("level is required")
	}
	if err := sess.Logging().SetLevel(ctx, *params.Level); err != nil {
		return Reply{}, fmt.Errorf("failed to store log level: %w", err)
	}
	return Single(Response{ID: req.ID}), nil
}

func (e *Engine) complete(ctx context.Context, _ *Session, req Request) (Reply, error) {
	var params CompleteParams
	if err := decodeParams(req, &params); err != nil {
		return Reply{}, err
	}

	var completer Completer
	switch params.Ref.Type {
	case CompletionRefPrompt:
		prompt, ok := e.registry.prompt(params.Ref.Name)
		if !ok {
			return Reply{}, NewError(CodeInvalidParams, "Prompt not found").
				WithData(map[string]any{"name": params.Ref.Name})
		}
		if !e.permitted(ctx, MethodPromptsGet, params.Ref.Name) {
			return Reply{}, NewError(CodeInvalidRequest, errMsgNotPermitted)
		}
		completer, _ = prompt.(Completer)
	case CompletionRefResource:
		tmpl, ok := e.registry.template(params.Ref.URI)
		if !ok {
			return Reply{}, NewError(CodeInvalidParams, "Resource template not found").
				WithData(map[string]any{"uri": params.Ref.URI})
		}
		if !e.permitted(ctx, MethodResourcesRead, params.Ref.URI) {
			return Reply{}, NewError(CodeInvalidRequest, errMsgNotPermitted)
		}
		completer, _ = tmpl.handler.(Completer)
	default:
		return Reply{}, invalidParams(fmt.Sprintf("unknown reference type %q", params.Ref.Type))
	}

	values := []string{}
	if completer != nil {
		v, err := completer.Complete(ctx, params.Argument)
		if err != nil {
			return Reply{}, fmt.Errorf("failed to complete %q: %w", params.Argument.Name, err)
		}
		if v != nil {
			values = v
		}
	}

	result := CompletionResult{Completion: Completion{Values: values, Total: len(values)}}
	if len(values) > maxCompletionValues {
		result.Completion.Values = values[:maxCompletionValues]
		result.Completion.HasMore = true
	}
	return Single(Response{ID: req.ID, Result: result}), nil
}

func negotiateProtocolVersion(requested string) string {
	if slices.Contains(SupportedProtocolVersions, requested) {
		return requested
	}
	return LatestProtocolVersion
}

func decodeParams(req Request, v any) error {
	if len(req.Params) == 0 {
		return nil
	}
	if err := json.Unmarshal(req.Params, v); err != nil {
		return invalidParams(err.Error())
	}
	return nil
}

func decodeArguments(raw json.RawMessage) (map[string]any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal(trimmed, &args); err != nil {
		return nil, invalidParams("arguments must be an object")
	}
	return args, nil
}

func invalidParams(detail string) *Error {
	return NewError(CodeInvalidParams, fmt.Sprintf("%s: %s", errMsgInvalidParamsPrefix, detail))
}
