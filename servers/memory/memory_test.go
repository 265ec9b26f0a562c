package memory_test

import (
	"context"
	"encoding/json"
	"iter"
	"strings"
	"testing"

	"github.com/MegaGrindStone/go-mcp-engine"
	"github.com/MegaGrindStone/go-mcp-engine/servers/memory"
)

type frameConn struct {
	frames []mcp.JSONRPCMessage
}

func (c *frameConn) SessionID() string { return "memory-test" }

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

func TestEngineRoundTrip(t *testing.T) {
	store := mcp.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })

	opts, err := memory.NewServer(store).EngineOptions()
	if err != nil {
		t.Fatalf("failed to build catalog: %v", err)
	}
	engine, err := mcp.NewEngine(memory.Info, append(opts, mcp.WithSessionStore(store))...)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	t.Cleanup(func() { _ = engine.Close() })

	send := func(msg string) mcp.JSONRPCMessage {
		t.Helper()
		conn := &frameConn{}
		engine.Receive(context.Background(), conn, []byte(msg))
		if len(conn.frames) == 0 {
			t.Fatalf("no response to %s", msg)
		}
		last := conn.frames[len(conn.frames)-1]
		if last.Error != nil {
			t.Fatalf("request failed: %+v", last.Error)
		}
		return last
	}

	send(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"` + mcp.LatestProtocolVersion +
		`","clientInfo":{"name":"test","version":"1"},"capabilities":{}}}`)
	engine.Receive(context.Background(), &frameConn{}, []byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))

	var created mcp.CallToolResult
	msg := send(`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"create_entities",` +
		`"arguments":{"entities":[{"name":"Alice","entityType":"person","observations":["likes tea"]}]}}}`)
	if err := json.Unmarshal(msg.Result, &created); err != nil {
		t.Fatalf("failed to decode result: %v", err)
	}
	if created.IsError {
		t.Fatalf("create_entities failed: %+v", created.Content)
	}

	var invalid mcp.CallToolResult
	msg = send(`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"create_entities","arguments":{}}}`)
	if err := json.Unmarshal(msg.Result, &invalid); err != nil {
		t.Fatalf("failed to decode result: %v", err)
	}
	if !invalid.IsError || !strings.Contains(invalid.Content[0].Text, "entities") {
		t.Errorf("invalid arguments = %+v", invalid)
	}

	var read mcp.ReadResourceResult
	msg = send(`{"jsonrpc":"2.0","id":4,"method":"resources/read","params":{"uri":"` + memory.GraphURI + `"}}`)
	if err := json.Unmarshal(msg.Result, &read); err != nil {
		t.Fatalf("failed to decode result: %v", err)
	}
	var graph memory.Graph
	if err := json.Unmarshal([]byte(read.Contents[0].Text), &graph); err != nil {
		t.Fatalf("graph resource is not JSON: %v", err)
	}
	if len(graph.Entities) != 1 || graph.Entities[0].Observations[0] != "likes tea" {
		t.Errorf("graph = %+v", graph)
	}
}
