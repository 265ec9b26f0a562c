package filesystem_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MegaGrindStone/go-mcp-engine"
	"github.com/MegaGrindStone/go-mcp-engine/servers/filesystem"
)

type frameConn struct {
	frames []mcp.JSONRPCMessage
}

func (c *frameConn) SessionID() string { return "filesystem-test" }

func (c *frameConn) Send(_ context.Context, msg mcp.Message) error {
	bs, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	var decoded mcp.JSONRPCMessage
	if err := json.Unmarshal(bs, &decoded); err != nil {
		return err
	}
	c.frames = append(c.frames, decoded)
	return nil
}

func (c *frameConn) Stream(ctx context.Context, msgs iter.Seq[mcp.Message]) error {
	for msg := range msgs {
		if err := c.Send(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

type session struct {
	t      *testing.T
	engine *mcp.Engine
	root   string
	nextID int
}

func newSession(t *testing.T) *session {
	t.Helper()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "hello.txt"), "hello world\n")
	writeFile(t, filepath.Join(root, "docs", "guide.md"), "# Guide\n")
	writeFile(t, filepath.Join(root, ".git", "HEAD"), "ref\n")
	if err := os.WriteFile(filepath.Join(root, "data.bin"), []byte{0xff, 0xfe, 0x00}, 0o644); err != nil {
		t.Fatal(err)
	}

	srv, err := filesystem.NewServer([]string{root})
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	opts, err := srv.EngineOptions()
	if err != nil {
		t.Fatalf("failed to build catalog: %v", err)
	}
	engine, err := mcp.NewEngine(filesystem.Info, opts...)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	t.Cleanup(func() { _ = engine.Close() })

	s := &session{t: t, engine: engine, root: srv.Roots()[0]}
	s.call(mcp.MethodInitialize, map[string]any{
		"protocolVersion": mcp.LatestProtocolVersion,
		"clientInfo":      map[string]any{"name": "test", "version": "1"},
		"capabilities":    map[string]any{},
	})
	s.raw(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	return s
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func (s *session) raw(msg string) []mcp.JSONRPCMessage {
	conn := &frameConn{}
	s.engine.Receive(context.Background(), conn, []byte(msg))
	return conn.frames
}

func (s *session) request(method string, params any) mcp.JSONRPCMessage {
	s.t.Helper()

	s.nextID++
	bs, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      s.nextID,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		s.t.Fatalf("failed to marshal request: %v", err)
	}
	frames := s.raw(string(bs))
	if len(frames) == 0 {
		s.t.Fatalf("%s produced no frames", method)
	}
	return frames[len(frames)-1]
}

func (s *session) call(method string, params any) mcp.JSONRPCMessage {
	s.t.Helper()
	msg := s.request(method, params)
	if msg.Error != nil {
		s.t.Fatalf("%s failed: %+v", method, msg.Error)
	}
	return msg
}

func (s *session) result(method string, params, v any) {
	s.t.Helper()
	if err := json.Unmarshal(s.call(method, params).Result, v); err != nil {
		s.t.Fatalf("failed to decode %s result: %v", method, err)
	}
}

func (s *session) callTool(name string, args map[string]any) mcp.CallToolResult {
	s.t.Helper()
	var result mcp.CallToolResult
	s.result(mcp.MethodToolsCall, map[string]any{"name": name, "arguments": args}, &result)
	return result
}

func (s *session) text(name string, args map[string]any) string {
	s.t.Helper()
	result := s.callTool(name, args)
	if result.IsError {
		s.t.Fatalf("%s returned an error: %+v", name, result.Content)
	}
	return result.Content[0].Text
}

func TestListTools(t *testing.T) {
	s := newSession(t)

	var result mcp.ListToolsResult
	s.result(mcp.MethodToolsList, map[string]any{}, &result)

	want := []string{
		"read_file", "read_multiple_files", "write_file", "edit_file", "create_directory", "list_directory",
		"directory_tree", "move_file", "search_files", "get_file_info", "list_allowed_directories",
	}
	if len(result.Tools) != len(want) {
		t.Fatalf("tools = %d, want %d", len(result.Tools), len(want))
	}
	for i, name := range want {
		if result.Tools[i].Name != name {
			t.Errorf("tool %d = %q, want %q", i, result.Tools[i].Name, name)
		}
	}
}

func TestReadTools(t *testing.T) {
	s := newSession(t)

	if got := s.text("read_file", map[string]any{"path": "hello.txt"}); got != "hello world\n" {
		t.Errorf("read_file = %q", got)
	}

	multi := s.text("read_multiple_files", map[string]any{"paths": []string{"hello.txt", "missing.txt"}})
	if !strings.Contains(multi, "hello.txt:\nhello world") || !strings.Contains(multi, "missing.txt: Error") {
		t.Errorf("read_multiple_files = %q", multi)
	}

	listing := s.text("list_directory", map[string]any{"path": "."})
	for _, want := range []string{"[DIR] docs", "[FILE] hello.txt"} {
		if !strings.Contains(listing, want) {
			t.Errorf("list_directory missing %q:\n%s", want, listing)
		}
	}

	var tree []map[string]any
	if err := json.Unmarshal([]byte(s.text("directory_tree", map[string]any{"path": "."})), &tree); err != nil {
		t.Fatalf("directory_tree is not JSON: %v", err)
	}
	names := make([]string, 0, len(tree))
	for _, entry := range tree {
		names = append(names, entry["name"].(string))
	}
	if strings.Join(names, ",") != "data.bin,docs,hello.txt" {
		t.Errorf("tree entries = %v", names)
	}

	allowed := s.text("list_allowed_directories", map[string]any{})
	if !strings.Contains(allowed, s.root) {
		t.Errorf("list_allowed_directories = %q", allowed)
	}

	search := s.text("search_files", map[string]any{"path": ".", "pattern": "GUIDE"})
	if search != filepath.Join(s.root, "docs", "guide.md") {
		t.Errorf("search_files = %q", search)
	}
	if got := s.text("search_files", map[string]any{"path": ".", "pattern": "zzz"}); got != "No matches found" {
		t.Errorf("search_files without match = %q", got)
	}

	info := s.callTool("get_file_info", map[string]any{"path": "hello.txt"})
	fields, ok := info.StructuredContent.(map[string]any)
	if !ok {
		t.Fatalf("structured content = %T", info.StructuredContent)
	}
	if fields["isFile"] != true || fields["size"] != float64(len("hello world\n")) {
		t.Errorf("get_file_info = %v", fields)
	}

	// File content is returned verbatim, format verbs included.
	writeFile(t, filepath.Join(s.root, "percent.txt"), "100%s done %d%%\n")
	if got := s.text("read_file", map[string]any{"path": "percent.txt"}); got != "100%s done %d%%\n" {
		t.Errorf("read_file with format verbs = %q", got)
	}
}

func TestWriteTools(t *testing.T) {
	s := newSession(t)

	s.text("write_file", map[string]any{"path": "out.txt", "content": "first\nsecond\n"})
	if got, _ := os.ReadFile(filepath.Join(s.root, "out.txt")); string(got) != "first\nsecond\n" {
		t.Errorf("written content = %q", got)
	}

	edits := []map[string]any{{"oldText": "second", "newText": "third"}}
	diff := s.text("edit_file", map[string]any{"path": "out.txt", "edits": edits, "dryRun": true})
	if !strings.Contains(diff, "--- out.txt (original)") || !strings.Contains(diff, "-second\n+third\n") {
		t.Errorf("dry run diff = %q", diff)
	}
	if got, _ := os.ReadFile(filepath.Join(s.root, "out.txt")); string(got) != "first\nsecond\n" {
		t.Errorf("dry run wrote the file: %q", got)
	}

	s.text("edit_file", map[string]any{"path": "out.txt", "edits": edits})
	if got, _ := os.ReadFile(filepath.Join(s.root, "out.txt")); string(got) != "first\nthird\n" {
		t.Errorf("edited content = %q", got)
	}

	s.text("create_directory", map[string]any{"path": "a/b/c"})
	if info, err := os.Stat(filepath.Join(s.root, "a", "b", "c")); err != nil || !info.IsDir() {
		t.Errorf("directory not created: %v", err)
	}

	s.text("move_file", map[string]any{"source": "out.txt", "destination": "a/moved.txt"})
	if _, err := os.Stat(filepath.Join(s.root, "a", "moved.txt")); err != nil {
		t.Errorf("file not moved: %v", err)
	}

	clash := s.callTool("move_file", map[string]any{"source": "hello.txt", "destination": "a/moved.txt"})
	if !clash.IsError || !strings.Contains(clash.Content[0].Text, "already exists") {
		t.Errorf("move onto existing file = %+v", clash)
	}
}

func TestAccessDenied(t *testing.T) {
	s := newSession(t)
	outside := t.TempDir()
	writeFile(t, filepath.Join(outside, "secret.txt"), "secret")

	tests := []struct {
		name string
		tool string
		args map[string]any
	}{
		{name: "read outside", tool: "read_file", args: map[string]any{"path": filepath.Join(outside, "secret.txt")}},
		{name: "read traversal", tool: "read_file", args: map[string]any{"path": "../secret.txt"}},
		{name: "write outside", tool: "write_file", args: map[string]any{"path": filepath.Join(outside, "x.txt"), "content": "x"}},
		{name: "create outside", tool: "create_directory", args: map[string]any{"path": filepath.Join(outside, "a", "b")}},
		{
			name: "move outside",
			tool: "move_file",
			args: map[string]any{"source": "hello.txt", "destination": filepath.Join(outside, "hello.txt")},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := s.callTool(tc.tool, tc.args)
			if !result.IsError || !strings.Contains(result.Content[0].Text, "access denied") {
				t.Errorf("result = %+v, want access denied", result)
			}
		})
	}

	if _, err := os.Stat(filepath.Join(outside, "a")); err == nil {
		t.Error("directory created outside the roots")
	}
}

func TestReadResource(t *testing.T) {
	s := newSession(t)

	var text mcp.ReadResourceResult
	uri := "file://" + filepath.ToSlash(filepath.Join(s.root, "hello.txt"))
	s.result(mcp.MethodResourcesRead, map[string]any{"uri": uri}, &text)
	if len(text.Contents) != 1 || text.Contents[0].Text != "hello world\n" || text.Contents[0].URI != uri {
		t.Errorf("text contents = %+v", text.Contents)
	}
	if !strings.HasPrefix(text.Contents[0].MimeType, "text/plain") {
		t.Errorf("mime type = %q", text.Contents[0].MimeType)
	}

	var blob mcp.ReadResourceResult
	s.result(mcp.MethodResourcesRead, map[string]any{"uri": "file://" + filepath.ToSlash(filepath.Join(s.root, "data.bin"))}, &blob)
	raw, err := base64.StdEncoding.DecodeString(blob.Contents[0].Blob)
	if err != nil || string(raw) != "\xff\xfe\x00" {
		t.Errorf("blob = %q (%v)", blob.Contents[0].Blob, err)
	}

	for _, p := range []string{filepath.Join(s.root, "missing.txt"), filepath.Join(s.root, "docs"), "/etc/passwd"} {
		msg := s.request(mcp.MethodResourcesRead, map[string]any{"uri": "file://" + filepath.ToSlash(p)})
		if msg.Error == nil || msg.Error.Code != mcp.CodeResourceNotFound {
			t.Errorf("read %s error = %+v, want %d", p, msg.Error, mcp.CodeResourceNotFound)
		}
	}
}

func TestCompletePath(t *testing.T) {
	s := newSession(t)

	var result mcp.CompletionResult
	s.result(mcp.MethodCompletionComplete, map[string]any{
		"ref":      map[string]any{"type": mcp.CompletionRefResource, "uri": "file://{+path}"},
		"argument": map[string]any{"name": "path", "value": filepath.ToSlash(s.root) + "/d"},
	}, &result)

	want := []string{filepath.ToSlash(s.root) + "/data.bin", filepath.ToSlash(s.root) + "/docs/"}
	if strings.Join(result.Completion.Values, ",") != strings.Join(want, ",") {
		t.Errorf("values = %v, want %v", result.Completion.Values, want)
	}
}
