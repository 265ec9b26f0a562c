// Package mcp implements the server side of the Model Context Protocol (MCP), following the
// specification at https://modelcontextprotocol.io/specification/.
//
// An Engine answers the fixed MCP method set (initialize, tools, prompts, resources, logging and
// completion) for the catalog it was built with. It is transport agnostic: a Transport hands it
// raw JSON-RPC messages together with the Conn of the exchange, and the engine replies through
// that Conn, either with a single frame or with a stream of notifications ending in one terminal
// response. The package ships StdIO, HTTP, SSE and queued transports.
//
// Session state, such as the negotiated protocol version and the log level a client asked for,
// lives in a SessionStore keyed by the session id the transport provides, so several engine
// processes can serve one session when they share a durable store (see the store packages).
//
//	engine, err := mcp.NewEngine(mcp.Info{Name: "demo", Version: "1.0.0"},
//		mcp.WithTool(mcp.NewTool(mcp.Tool{Name: "echo"}, echo)),
//	)
//	if err != nil {
//		return err
//	}
//	return engine.Serve(ctx, mcp.NewStdIO(os.Stdin, os.Stdout))
package mcp
