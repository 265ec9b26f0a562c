package mcp_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"
	"testing"

	"github.com/MegaGrindStone/go-mcp-engine"
	"github.com/MegaGrindStone/go-mcp-engine/uritemplate"
)

type completingPrompt struct {
	mcp.PromptHandler
	values []string
}

func (c completingPrompt) Complete(_ context.Context, arg mcp.CompletionArgument) ([]string, error) {
	var out []string
	for _, v := range c.values {
		if strings.HasPrefix(v, arg.Value) {
			out = append(out, v)
		}
	}
	return out, nil
}

func echoTool() mcp.ToolHandler {
	return mcp.NewTool(mcp.Tool{
		Name:        "echo",
		Description: "Echoes back the input",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {"message": {"type": "string"}},
			"required": ["message"]
		}`),
	}, func(_ context.Context, args map[string]any) (mcp.ToolOutput, error) {
		return mcp.ToolResult(mcp.Textf("Echo: %s", args["message"])), nil
	})
}

func progressTool() mcp.ToolHandler {
	return mcp.NewTool(mcp.Tool{Name: "progress"}, func(_ context.Context, _ map[string]any) (mcp.ToolOutput, error) {
		return mcp.ToolStream(func(yield func(mcp.ContentItem, error) bool) {
			if !yield(mcp.ProgressNotification{Progress: 1, Total: 2}, nil) {
				return
			}
			if !yield(mcp.ProgressNotification{Progress: 2, Total: 2}, nil) {
				return
			}
			yield(mcp.Text("done"), nil)
		}), nil
	})
}

func loggingTool() mcp.ToolHandler {
	return mcp.NewTool(mcp.Tool{Name: "log"}, func(_ context.Context, _ map[string]any) (mcp.ToolOutput, error) {
		return mcp.ToolResult(
			mcp.LogNotification{Level: mcp.LogLevelDebug, Data: "debug"},
			mcp.LogNotification{Level: mcp.LogLevelInfo, Data: "info"},
			mcp.LogNotification{Level: mcp.LogLevelError, Data: "error"},
			mcp.Text("logged"),
		), nil
	})
}

func failingTool(err error) mcp.ToolHandler {
	return mcp.NewTool(mcp.Tool{Name: "fail"}, func(_ context.Context, _ map[string]any) (mcp.ToolOutput, error) {
		return mcp.ToolOutput{}, err
	})
}

func testCatalog() []mcp.EngineOption {
	greeting := mcp.NewPrompt(mcp.Prompt{
		Name:      "greeting",
		Arguments: []mcp.PromptArgument{{Name: "name", Required: true}, {Name: "style"}},
	}, func(_ context.Context, args map[string]string) (mcp.GetPromptResult, error) {
		return mcp.GetPromptResult{Messages: []mcp.PromptMessage{{
			Role:    mcp.RoleUser,
			Content: mcp.Content{Type: mcp.ContentTypeText, Text: "Hello " + args["name"]},
		}}}, nil
	})

	return []mcp.EngineOption{
		mcp.WithTool(echoTool()),
		mcp.WithTool(progressTool()),
		mcp.WithTool(loggingTool()),
		mcp.WithPrompt(completingPrompt{PromptHandler: greeting, values: []string{"alice", "albert", "bob"}}),
		mcp.WithResource(mcp.NewResource(mcp.Resource{URI: "test://static/readme", Name: "readme"},
			func(context.Context) ([]mcp.ResourceContents, error) {
				return []mcp.ResourceContents{{MimeType: "text/plain", Text: "read me"}}, nil
			})),
		mcp.WithResourceTemplate(mcp.NewResourceTemplate(
			mcp.ResourceTemplate{URITemplate: "test://users/{id}/profile", Name: "profile"},
			func(_ context.Context, uri string, vars uritemplate.Values) ([]mcp.ResourceContents, error) {
				return []mcp.ResourceContents{{URI: uri, Text: fmt.Sprintf("profile of %v", vars["id"])}}, nil
			})),
	}
}

func TestEngineNotificationsProduceNoFrames(t *testing.T) {
	client := newTestClient(t, newTestEngine(t), "s1")

	inputs := []string{
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","method":"notifications/cancelled","params":{"requestId":1,"reason":"user"}}`,
		`{"jsonrpc":"2.0","method":"notifications/roots/list_changed"}`,
		`{"jsonrpc":"2.0","method":"notifications/unknown"}`,
		`{"jsonrpc":"1.0","method":7}`,
		`{"jsonrpc":"2.0","id":9,"result":{}}`,
		`{"jsonrpc":"2.0","id":9,"error":{"code":-1,"message":"x"}}`,
	}
	for _, input := range inputs {
		if frames := client.send(input); len(frames) != 0 {
			t.Errorf("%s produced frames: %+v", input, frames)
		}
	}
}

func TestEngineMethodNotFound(t *testing.T) {
	client := newTestClient(t, newTestEngine(t), "s1")

	frames := client.send(`{"jsonrpc":"2.0","id":"abc","method":"does/not/exist"}`)
	if len(frames) != 1 {
		t.Fatalf("expected one frame, got %d", len(frames))
	}
	f := frames[0]
	if f.ID == nil || f.ID.String() != "abc" || f.ID.IsInt() {
		t.Errorf("id = %v, want string abc", f.ID)
	}
	if f.Error == nil || f.Error.Code != mcp.CodeMethodNotFound {
		t.Fatalf("error = %+v, want %d", f.Error, mcp.CodeMethodNotFound)
	}
	if f.Error.Data["method"] != "does/not/exist" {
		t.Errorf("error data = %v", f.Error.Data)
	}
}

func TestEngineMalformedInput(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantCode int
		wantID   string
	}{
		{name: "malformed json", input: `{"jsonrpc":`, wantCode: mcp.CodeParseError},
		{name: "json null", input: `null`, wantCode: mcp.CodeInvalidRequest},
		{name: "batch array", input: `[{"jsonrpc":"2.0","id":1,"method":"ping"}]`, wantCode: mcp.CodeInvalidRequest},
		{name: "wrong version keeps id", input: `{"jsonrpc":"1.0","id":5,"method":"ping"}`,
			wantCode: mcp.CodeInvalidRequest, wantID: "5"},
		{name: "null id", input: `{"jsonrpc":"2.0","id":null,"method":"ping"}`, wantCode: mcp.CodeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, newTestEngine(t), "s1")
			frames := client.send(tt.input)
			if len(frames) != 1 {
				t.Fatalf("expected one frame, got %d", len(frames))
			}
			f := frames[0]
			if f.Error == nil || f.Error.Code != tt.wantCode {
				t.Fatalf("error = %+v, want code %d", f.Error, tt.wantCode)
			}
			switch {
			case tt.wantID == "" && f.ID != nil:
				t.Errorf("id = %v, want null", f.ID)
			case tt.wantID != "" && (f.ID == nil || f.ID.String() != tt.wantID):
				t.Errorf("id = %v, want %s", f.ID, tt.wantID)
			}
		})
	}
}

func TestEngineParseErrorSendsNullID(t *testing.T) {
	engine := newTestEngine(t)
	conn := &rawConn{sessionID: "s1"}
	engine.Receive(context.Background(), conn, []byte(`not json`))

	want := `{"jsonrpc":"2.0","id":null,"error":{"code":-32700,"message":"Invalid json"}}`
	if len(conn.raw) != 1 || conn.raw[0] != want {
		t.Errorf("frames = %v, want %s", conn.raw, want)
	}
}

func TestEngineRequiresInitialize(t *testing.T) {
	client := newTestClient(t, newTestEngine(t, testCatalog()...), "s1")

	rpcErr := client.fail(mcp.MethodToolsList, nil)
	if rpcErr.Code != mcp.CodeInvalidRequest {
		t.Errorf("error code = %d, want %d", rpcErr.Code, mcp.CodeInvalidRequest)
	}

	// ping is available before initialize.
	client.result(mcp.MethodPing, nil, nil)

	client.initialize()
	var tools mcp.ListToolsResult
	client.result(mcp.MethodToolsList, nil, &tools)
	if len(tools.Tools) != 3 {
		t.Errorf("tools = %d, want 3", len(tools.Tools))
	}

	// Another session on the same engine is still uninitialized.
	other := newTestClient(t, client.engine, "s2")
	if rpcErr := other.fail(mcp.MethodToolsList, nil); rpcErr.Code != mcp.CodeInvalidRequest {
		t.Errorf("error code = %d, want %d", rpcErr.Code, mcp.CodeInvalidRequest)
	}
}

func TestEngineInitialize(t *testing.T) {
	tests := []struct {
		name      string
		requested string
		want      string
	}{
		{name: "latest", requested: mcp.LatestProtocolVersion, want: mcp.LatestProtocolVersion},
		{name: "older supported", requested: "2024-11-05", want: "2024-11-05"},
		{name: "unknown", requested: "1999-01-01", want: mcp.LatestProtocolVersion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newTestEngine(t, append(testCatalog(), mcp.WithInstructions("be nice"))...)
			client := newTestClient(t, engine, "s1")

			var result struct {
				ProtocolVersion string                 `json:"protocolVersion"`
				Capabilities    mcp.ServerCapabilities `json:"capabilities"`
				ServerInfo      mcp.Info               `json:"serverInfo"`
				Instructions    string                 `json:"instructions"`
			}
			client.result(mcp.MethodInitialize, map[string]any{
				"protocolVersion": tt.requested,
				"capabilities":    map[string]any{"roots": map[string]any{"listChanged": true}},
				"clientInfo":      map[string]any{"name": "client", "version": "0.1"},
			}, &result)

			if result.ProtocolVersion != tt.want {
				t.Errorf("protocolVersion = %s, want %s", result.ProtocolVersion, tt.want)
			}
			if result.ServerInfo.Name != "test-server" {
				t.Errorf("serverInfo = %+v", result.ServerInfo)
			}
			if result.Instructions != "be nice" {
				t.Errorf("instructions = %q", result.Instructions)
			}
			caps := result.Capabilities
			if caps.Tools == nil || caps.Prompts == nil || caps.Resources == nil || caps.Logging == nil {
				t.Errorf("capabilities = %+v", caps)
			}

			sess := engine.Session("s1")
			version, err := sess.ProtocolVersion(context.Background())
			if err != nil || version != tt.want {
				t.Errorf("stored protocol version = %q, %v", version, err)
			}
			info, err := sess.ClientInfo(context.Background())
			if err != nil || info.Name != "client" {
				t.Errorf("stored client info = %+v, %v", info, err)
			}
		})
	}
}

func TestEngineCapabilitiesFollowCatalog(t *testing.T) {
	client := newTestClient(t, newTestEngine(t), "s1")

	var result struct {
		Capabilities map[string]json.RawMessage `json:"capabilities"`
	}
	client.result(mcp.MethodInitialize, map[string]any{"protocolVersion": mcp.LatestProtocolVersion}, &result)

	for _, absent := range []string{"tools", "prompts", "resources"} {
		if _, ok := result.Capabilities[absent]; ok {
			t.Errorf("capability %s advertised without catalog", absent)
		}
	}
	for _, present := range []string{"logging", "completions"} {
		if _, ok := result.Capabilities[present]; !ok {
			t.Errorf("capability %s missing", present)
		}
	}
}

func TestEngineToolsCall(t *testing.T) {
	client := newTestClient(t, newTestEngine(t, testCatalog()...), "s1")
	client.initialize()

	var result mcp.CallToolResult
	client.result(mcp.MethodToolsCall, map[string]any{
		"name":      "echo",
		"arguments": map[string]any{"message": "hi"},
	}, &result)
	if result.IsError || len(result.Content) != 1 || result.Content[0].Text != "Echo: hi" {
		t.Errorf("result = %+v", result)
	}
	if client.conn.Streamed() != 0 {
		t.Errorf("eager output was streamed")
	}
}

func TestEngineToolsCallSchemaViolation(t *testing.T) {
	client := newTestClient(t, newTestEngine(t, testCatalog()...), "s1")
	client.initialize()

	tests := []struct {
		name string
		args any
	}{
		{name: "missing required", args: map[string]any{}},
		{name: "wrong type", args: map[string]any{"message": 42}},
		{name: "no arguments", args: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var result mcp.CallToolResult
			client.result(mcp.MethodToolsCall, map[string]any{"name": "echo", "arguments": tt.args}, &result)
			if !result.IsError {
				t.Fatalf("expected isError result, got %+v", result)
			}
			if len(result.Content) != 1 || !strings.Contains(result.Content[0].Text, "validation failed") {
				t.Errorf("content = %+v", result.Content)
			}
		})
	}
}

func TestEngineToolsCallErrors(t *testing.T) {
	t.Run("unknown tool", func(t *testing.T) {
		client := newTestClient(t, newTestEngine(t, testCatalog()...), "s1")
		client.initialize()

		rpcErr := client.fail(mcp.MethodToolsCall, map[string]any{"name": "nope"})
		if rpcErr.Code != mcp.CodeInvalidParams {
			t.Errorf("error code = %d, want %d", rpcErr.Code, mcp.CodeInvalidParams)
		}
	})

	t.Run("tool error becomes isError", func(t *testing.T) {
		engine := newTestEngine(t, mcp.WithTool(failingTool(errors.New("disk on fire"))))
		client := newTestClient(t, engine, "s1")
		client.initialize()

		var result mcp.CallToolResult
		client.result(mcp.MethodToolsCall, map[string]any{"name": "fail"}, &result)
		if !result.IsError || result.Content[0].Text != "disk on fire" {
			t.Errorf("result = %+v", result)
		}
	})

	t.Run("protocol error from tool", func(t *testing.T) {
		engine := newTestEngine(t, mcp.WithTool(failingTool(mcp.NewError(-32001, "quota exceeded"))))
		client := newTestClient(t, engine, "s1")
		client.initialize()

		rpcErr := client.fail(mcp.MethodToolsCall, map[string]any{"name": "fail"})
		if rpcErr.Code != -32001 || rpcErr.Message != "quota exceeded" {
			t.Errorf("error = %+v", rpcErr)
		}
	})
}

func TestEngineStreamOrdering(t *testing.T) {
	client := newTestClient(t, newTestEngine(t, testCatalog()...), "s1")
	client.initialize()

	frames := client.request(mcp.MethodToolsCall, map[string]any{
		"name":  "progress",
		"_meta": map[string]any{"progressToken": "tok-1"},
	})
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d: %+v", len(frames), frames)
	}

	for i, f := range frames[:2] {
		if f.Method != mcp.MethodNotificationsProgress || f.ID != nil {
			t.Fatalf("frame %d = %+v, want progress notification", i, f)
		}
		var params mcp.ProgressParams
		if err := json.Unmarshal(f.Params, &params); err != nil {
			t.Fatalf("failed to decode progress: %v", err)
		}
		if params.ProgressToken.String() != "tok-1" || params.Progress != float64(i+1) {
			t.Errorf("frame %d params = %+v", i, params)
		}
	}

	var result mcp.CallToolResult
	if err := json.Unmarshal(frames[2].Result, &result); err != nil {
		t.Fatalf("failed to decode result: %v", err)
	}
	if result.Content[0].Text != "done" {
		t.Errorf("result = %+v", result)
	}
}

func TestEngineProgressRequiresToken(t *testing.T) {
	client := newTestClient(t, newTestEngine(t, testCatalog()...), "s1")
	client.initialize()

	frames := client.request(mcp.MethodToolsCall, map[string]any{"name": "progress"})
	if len(frames) != 1 {
		t.Fatalf("expected only the result, got %+v", frames)
	}
}

func TestEngineLogFiltering(t *testing.T) {
	client := newTestClient(t, newTestEngine(t, testCatalog()...), "s1")
	client.initialize()

	logLevels := func(frames []mcp.JSONRPCMessage) []string {
		var levels []string
		for _, f := range frames {
			if f.Method != mcp.MethodNotificationsMessage {
				continue
			}
			var params mcp.LogParams
			if err := json.Unmarshal(f.Params, &params); err != nil {
				t.Fatalf("failed to decode log params: %v", err)
			}
			levels = append(levels, params.Level.String())
		}
		return levels
	}

	frames := client.request(mcp.MethodToolsCall, map[string]any{"name": "log"})
	if got := logLevels(frames); strings.Join(got, ",") != "debug,info,error" {
		t.Errorf("levels before setLevel = %v", got)
	}

	client.result(mcp.MethodLoggingSetLevel, map[string]any{"level": "error"}, nil)

	frames = client.request(mcp.MethodToolsCall, map[string]any{"name": "log"})
	if got := logLevels(frames); strings.Join(got, ",") != "error" {
		t.Errorf("levels after setLevel = %v", got)
	}

	invalid := []struct {
		name   string
		params any
		want   string
	}{
		{name: "unknown level", params: map[string]any{"level": "loud"}, want: `unknown log level "loud"`},
		{name: "number", params: map[string]any{"level": 3}, want: "log level must be a string"},
		{name: "missing level", params: map[string]any{}, want: "level is required"},
	}
	for _, tt := range invalid {
		rpcErr := client.fail(mcp.MethodLoggingSetLevel, tt.params)
		if rpcErr.Code != mcp.CodeInvalidParams {
			t.Errorf("%s: error code = %d, want %d", tt.name, rpcErr.Code, mcp.CodeInvalidParams)
		}
		if !strings.Contains(rpcErr.Message, tt.want) {
			t.Errorf("%s: error message = %q, want it to contain %q", tt.name, rpcErr.Message, tt.want)
		}
	}

	// A rejected level leaves the stored one in place.
	frames = client.request(mcp.MethodToolsCall, map[string]any{"name": "log"})
	if got := logLevels(frames); strings.Join(got, ",") != "error" {
		t.Errorf("levels after rejected setLevel = %v", got)
	}
}

func TestEngineDefaultLogLevel(t *testing.T) {
	engine := newTestEngine(t, append(testCatalog(), mcp.WithDefaultLogLevel(mcp.LogLevelError))...)
	client := newTestClient(t, engine, "s1")
	client.initialize()

	frames := client.request(mcp.MethodToolsCall, map[string]any{"name": "log"})
	if len(frames) != 2 {
		t.Errorf("expected one log notification and the result, got %+v", frames)
	}
}

func TestEngineStreamWithoutTerminal(t *testing.T) {
	engine := newTestEngine(t, mcp.WithTool(mcp.NewTool(mcp.Tool{Name: "endless"},
		func(context.Context, map[string]any) (mcp.ToolOutput, error) {
			return mcp.ToolStream(func(yield func(mcp.ContentItem, error) bool) {
				yield(mcp.LogNotification{Level: mcp.LogLevelInfo, Data: "working"}, nil)
				panic("boom")
			}), nil
		})))
	client := newTestClient(t, engine, "s1")
	client.initialize()

	frames := client.request(mcp.MethodToolsCall, map[string]any{"name": "endless"})
	if len(frames) != 2 {
		t.Fatalf("expected notification then error, got %+v", frames)
	}
	if frames[0].Method != mcp.MethodNotificationsMessage {
		t.Errorf("first frame = %+v", frames[0])
	}
	if frames[1].Error == nil || frames[1].Error.Code != mcp.CodeInternalError {
		t.Errorf("terminal frame = %+v", frames[1])
	}
}

func TestEngineToolPanic(t *testing.T) {
	engine := newTestEngine(t, mcp.WithTool(mcp.NewTool(mcp.Tool{Name: "panics"},
		func(context.Context, map[string]any) (mcp.ToolOutput, error) {
			panic("unexpected")
		})))
	client := newTestClient(t, engine, "s1")
	client.initialize()

	rpcErr := client.fail(mcp.MethodToolsCall, map[string]any{"name": "panics"})
	if rpcErr.Code != mcp.CodeInternalError || rpcErr.Message != "Internal error" {
		t.Errorf("error = %+v", rpcErr)
	}
	if rpcErr.Data != nil {
		t.Errorf("internal details leaked: %v", rpcErr.Data)
	}
}

func TestEngineStreamedToolError(t *testing.T) {
	engine := newTestEngine(t, mcp.WithTool(mcp.NewTool(mcp.Tool{Name: "partial"},
		func(context.Context, map[string]any) (mcp.ToolOutput, error) {
			return mcp.ToolStream(func(yield func(mcp.ContentItem, error) bool) {
				if !yield(mcp.Text("part"), nil) {
					return
				}
				yield(nil, errors.New("lost connection"))
			}), nil
		})))
	client := newTestClient(t, engine, "s1")
	client.initialize()

	var result mcp.CallToolResult
	client.result(mcp.MethodToolsCall, map[string]any{"name": "partial"}, &result)
	if !result.IsError || result.Content[0].Text != "lost connection" {
		t.Errorf("result = %+v", result)
	}
}

func TestEngineResourcesRead(t *testing.T) {
	client := newTestClient(t, newTestEngine(t, testCatalog()...), "s1")
	client.initialize()

	t.Run("exact resource", func(t *testing.T) {
		var result mcp.ReadResourceResult
		client.result(mcp.MethodResourcesRead, map[string]any{"uri": "test://static/readme"}, &result)
		if len(result.Contents) != 1 || result.Contents[0].Text != "read me" {
			t.Fatalf("contents = %+v", result.Contents)
		}
		if result.Contents[0].URI != "test://static/readme" {
			t.Errorf("uri not filled in: %+v", result.Contents[0])
		}
	})

	t.Run("template", func(t *testing.T) {
		var result mcp.ReadResourceResult
		client.result(mcp.MethodResourcesRead, map[string]any{"uri": "test://users/42/profile"}, &result)
		if len(result.Contents) != 1 || result.Contents[0].Text != "profile of 42" {
			t.Errorf("contents = %+v", result.Contents)
		}
	})

	t.Run("not found", func(t *testing.T) {
		rpcErr := client.fail(mcp.MethodResourcesRead, map[string]any{"uri": "test://nothing"})
		if rpcErr.Code != mcp.CodeResourceNotFound {
			t.Errorf("error code = %d, want %d", rpcErr.Code, mcp.CodeResourceNotFound)
		}
		if rpcErr.Data["uri"] != "test://nothing" {
			t.Errorf("error data = %v", rpcErr.Data)
		}
	})

	t.Run("list templates", func(t *testing.T) {
		var result mcp.ListResourceTemplatesResult
		client.result(mcp.MethodResourcesTemplatesList, nil, &result)
		if len(result.Templates) != 1 || result.Templates[0].URITemplate != "test://users/{id}/profile" {
			t.Errorf("templates = %+v", result.Templates)
		}
	})
}

func TestEngineResourceReadFailure(t *testing.T) {
	engine := newTestEngine(t, mcp.WithResource(mcp.NewResource(mcp.Resource{URI: "test://broken", Name: "broken"},
		func(context.Context) ([]mcp.ResourceContents, error) {
			return nil, errors.New("secret connection string")
		})))
	client := newTestClient(t, engine, "s1")
	client.initialize()

	rpcErr := client.fail(mcp.MethodResourcesRead, map[string]any{"uri": "test://broken"})
	if rpcErr.Code != mcp.CodeInternalError || strings.Contains(rpcErr.Message, "secret") {
		t.Errorf("error = %+v", rpcErr)
	}
}

func TestEnginePromptsGet(t *testing.T) {
	client := newTestClient(t, newTestEngine(t, testCatalog()...), "s1")
	client.initialize()

	var result mcp.GetPromptResult
	client.result(mcp.MethodPromptsGet, map[string]any{
		"name":      "greeting",
		"arguments": map[string]any{"name": "Ada"},
	}, &result)
	if len(result.Messages) != 1 || result.Messages[0].Content.Text != "Hello Ada" {
		t.Errorf("messages = %+v", result.Messages)
	}

	rpcErr := client.fail(mcp.MethodPromptsGet, map[string]any{"name": "greeting"})
	if rpcErr.Code != mcp.CodeInvalidParams || rpcErr.Data["argument"] != "name" {
		t.Errorf("error = %+v", rpcErr)
	}

	rpcErr = client.fail(mcp.MethodPromptsGet, map[string]any{"name": "unknown"})
	if rpcErr.Code != mcp.CodeInvalidParams {
		t.Errorf("error = %+v", rpcErr)
	}
}

func TestEngineCompletion(t *testing.T) {
	client := newTestClient(t, newTestEngine(t, testCatalog()...), "s1")
	client.initialize()

	var result mcp.CompletionResult
	client.result(mcp.MethodCompletionComplete, map[string]any{
		"ref":      map[string]any{"type": mcp.CompletionRefPrompt, "name": "greeting"},
		"argument": map[string]any{"name": "name", "value": "al"},
	}, &result)
	if strings.Join(result.Completion.Values, ",") != "alice,albert" {
		t.Errorf("values = %v", result.Completion.Values)
	}

	// Templates without a completer complete to nothing.
	client.result(mcp.MethodCompletionComplete, map[string]any{
		"ref":      map[string]any{"type": mcp.CompletionRefResource, "uri": "test://users/{id}/profile"},
		"argument": map[string]any{"name": "id", "value": "4"},
	}, &result)
	if result.Completion.Values == nil || len(result.Completion.Values) != 0 {
		t.Errorf("values = %v", result.Completion.Values)
	}

	rpcErr := client.fail(mcp.MethodCompletionComplete, map[string]any{
		"ref":      map[string]any{"type": "ref/unknown"},
		"argument": map[string]any{"name": "x"},
	})
	if rpcErr.Code != mcp.CodeInvalidParams {
		t.Errorf("error = %+v", rpcErr)
	}
}

func TestEngineAuthorizer(t *testing.T) {
	authorizer := mcp.AuthorizerFunc(func(ctx context.Context, principal any, method, target string) bool {
		if principal == "admin" {
			return true
		}
		return target != "echo" && target != "test://static/readme"
	})
	engine := newTestEngine(t, append(testCatalog(), mcp.WithAuthorizer(authorizer))...)
	client := newTestClient(t, engine, "s1")
	client.initialize()

	var tools mcp.ListToolsResult
	client.result(mcp.MethodToolsList, nil, &tools)
	for _, tool := range tools.Tools {
		if tool.Name == "echo" {
			t.Error("denied tool listed")
		}
	}
	if len(tools.Tools) != 2 {
		t.Errorf("tools = %+v", tools.Tools)
	}

	var resources mcp.ListResourcesResult
	client.result(mcp.MethodResourcesList, nil, &resources)
	if len(resources.Resources) != 0 {
		t.Errorf("denied resource listed: %+v", resources.Resources)
	}

	rpcErr := client.fail(mcp.MethodToolsCall, map[string]any{"name": "echo", "arguments": map[string]any{"message": "x"}})
	if rpcErr.Code != mcp.CodeInvalidRequest || rpcErr.Message != "not permitted" {
		t.Errorf("error = %+v", rpcErr)
	}

	// The principal travels in the context given to Receive.
	conn := newRecordingConn("s1")
	ctx := mcp.ContextWithPrincipal(context.Background(), "admin")
	engine.Receive(ctx, conn, []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	frames := conn.Frames()
	if len(frames) != 1 {
		t.Fatalf("expected one frame, got %d", len(frames))
	}
	if err := json.Unmarshal(frames[0].Result, &tools); err != nil {
		t.Fatalf("failed to decode tools: %v", err)
	}
	if len(tools.Tools) != 3 {
		t.Errorf("admin tools = %+v", tools.Tools)
	}
}

func TestEnginePagination(t *testing.T) {
	var options []mcp.EngineOption
	for i := range 5 {
		options = append(options, mcp.WithTool(mcp.NewTool(mcp.Tool{Name: fmt.Sprintf("tool-%d", i)},
			func(context.Context, map[string]any) (mcp.ToolOutput, error) {
				return mcp.ToolResult(), nil
			})))
	}
	options = append(options, mcp.WithPageSize(2))

	client := newTestClient(t, newTestEngine(t, options...), "s1")
	client.initialize()

	var names []string
	cursor := ""
	pages := 0
	for {
		var page mcp.ListToolsResult
		client.result(mcp.MethodToolsList, map[string]any{"cursor": cursor}, &page)
		pages++
		for _, tool := range page.Tools {
			names = append(names, tool.Name)
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
		if pages > 5 {
			t.Fatal("pagination does not terminate")
		}
	}

	if pages != 3 {
		t.Errorf("pages = %d, want 3", pages)
	}
	if strings.Join(names, ",") != "tool-0,tool-1,tool-2,tool-3,tool-4" {
		t.Errorf("names = %v", names)
	}
}

func TestNewEngineRejectsInvalidCatalog(t *testing.T) {
	_, err := mcp.NewEngine(mcp.Info{Name: "s"}, mcp.WithTool(echoTool()), mcp.WithTool(echoTool()))
	if err == nil {
		t.Error("expected duplicate tool error")
	}

	_, err = mcp.NewEngine(mcp.Info{Name: "s"}, mcp.WithResourceTemplate(mcp.NewResourceTemplate(
		mcp.ResourceTemplate{URITemplate: "test://{unclosed", Name: "bad"},
		func(context.Context, string, uritemplate.Values) ([]mcp.ResourceContents, error) { return nil, nil })))
	if err == nil {
		t.Error("expected invalid template error")
	}
}

// rawConn keeps the exact bytes of every frame.
type rawConn struct {
	sessionID string
	raw       []string
}

func (c *rawConn) SessionID() string { return c.sessionID }

func (c *rawConn) Send(_ context.Context, msg mcp.Message) error {
	bs, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.raw = append(c.raw, string(bs))
	return nil
}

func (c *rawConn) Stream(ctx context.Context, msgs iter.Seq[mcp.Message]) error {
	for msg := range msgs {
		if err := c.Send(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}
