package mcp_test

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"sync"
	"testing"

	"github.com/MegaGrindStone/go-mcp-engine"
)

// recordingConn is a Conn that keeps every frame it was given and counts the calls to Stream.
type recordingConn struct {
	sessionID string

	mu       sync.Mutex
	frames   []mcp.JSONRPCMessage
	streamed int
}

func newRecordingConn(sessionID string) *recordingConn {
	return &recordingConn{sessionID: sessionID}
}

func (c *recordingConn) SessionID() string {
	return c.sessionID
}

func (c *recordingConn) Send(_ context.Context, msg mcp.Message) error {
	bs, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	var decoded mcp.JSONRPCMessage
	if err := json.Unmarshal(bs, &decoded); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, decoded)
	return nil
}

func (c *recordingConn) Stream(ctx context.Context, msgs iter.Seq[mcp.Message]) error {
	c.mu.Lock()
	c.streamed++
	c.mu.Unlock()

	for msg := range msgs {
		if err := c.Send(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (c *recordingConn) Frames() []mcp.JSONRPCMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]mcp.JSONRPCMessage(nil), c.frames...)
}

func (c *recordingConn) Streamed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streamed
}

func (c *recordingConn) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
	c.streamed = 0
}

// testClient drives an engine the way a transport would, one raw message at a time.
type testClient struct {
	t      *testing.T
	engine *mcp.Engine
	conn   *recordingConn
	nextID int
}

func newTestClient(t *testing.T, engine *mcp.Engine, sessionID string) *testClient {
	t.Helper()
	return &testClient{t: t, engine: engine, conn: newRecordingConn(sessionID)}
}

// send delivers raw and returns the frames it produced.
func (c *testClient) send(raw string) []mcp.JSONRPCMessage {
	c.t.Helper()
	c.conn.Reset()
	c.engine.Receive(context.Background(), c.conn, []byte(raw))
	return c.conn.Frames()
}

// request sends a request with a fresh integer id and returns every frame it produced. It fails the
// test when the last frame is not the terminal frame of the request.
func (c *testClient) request(method string, params any) []mcp.JSONRPCMessage {
	c.t.Helper()
	c.nextID++
	raw := fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"method":%q}`, c.nextID, method)
	if params != nil {
		bs, err := json.Marshal(params)
		if err != nil {
			c.t.Fatalf("failed to marshal params: %v", err)
		}
		raw = fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"method":%q,"params":%s}`, c.nextID, method, bs)
	}

	frames := c.send(raw)
	if len(frames) == 0 {
		c.t.Fatalf("%s produced no frames", method)
	}
	last := frames[len(frames)-1]
	if last.ID == nil || last.ID.String() != fmt.Sprint(c.nextID) || !last.ID.IsInt() {
		c.t.Fatalf("%s: expected terminal frame with id %d, got %+v", method, c.nextID, last)
	}
	return frames
}

// result sends a request and decodes its successful result into v.
func (c *testClient) result(method string, params any, v any) {
	c.t.Helper()
	frames := c.request(method, params)
	last := frames[len(frames)-1]
	if last.Error != nil {
		c.t.Fatalf("%s: unexpected error %+v", method, last.Error)
	}
	if v == nil {
		return
	}
	if err := json.Unmarshal(last.Result, v); err != nil {
		c.t.Fatalf("%s: failed to decode result %s: %v", method, last.Result, err)
	}
}

// fail sends a request and returns its protocol error.
func (c *testClient) fail(method string, params any) *mcp.Error {
	c.t.Helper()
	frames := c.request(method, params)
	last := frames[len(frames)-1]
	if last.Error == nil {
		c.t.Fatalf("%s: expected error, got result %s", method, last.Result)
	}
	return last.Error
}

func (c *testClient) initialize() {
	c.t.Helper()
	c.result(mcp.MethodInitialize, map[string]any{
		"protocolVersion": mcp.LatestProtocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "test-client", "version": "1.0"},
	}, nil)
	c.send(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)
}

func newTestEngine(t *testing.T, options ...mcp.EngineOption) *mcp.Engine {
	t.Helper()
	engine, err := mcp.NewEngine(mcp.Info{Name: "test-server", Version: "1.0"}, options...)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	t.Cleanup(func() {
		_ = engine.Close()
	})
	return engine
}
