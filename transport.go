package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
)

// Transport carries raw JSON-RPC bytes between the engine and a client. It knows framing, not
// protocol semantics.
//
// OnReceive registers the callback invoked once per inbound message, and must be called before
// Run. Run drives the transport until the input ends or ctx is done.
type Transport interface {
	OnReceive(fn ReceiveFunc)
	Run(ctx context.Context) error
}

// ReceiveFunc handles one inbound message. Conn is the outbound half of the exchange the message
// arrived on, replies to the message go through it.
type ReceiveFunc func(ctx context.Context, conn Conn, raw []byte)

// Conn delivers outbound frames for one exchange.
//
// Send delivers one frame. Stream delivers a sequence of frames under one logical exchange, in
// order, consuming the sequence as it goes. Both return ErrNotConnected when the exchange is not
// open, for example before the transport runs or after an HTTP request completed.
type Conn interface {
	SessionID() string
	Send(ctx context.Context, msg Message) error
	Stream(ctx context.Context, msgs iter.Seq[Message]) error
}

var (
	// ErrNotConnected is returned when sending on an exchange that is not open.
	ErrNotConnected = errors.New("transport not connected")
	// ErrNoReceiver is returned by Run when OnReceive was never called.
	ErrNoReceiver = errors.New("transport has no receiver")
)

func marshalMessage(msg Message) ([]byte, error) {
	bs, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	return bs, nil
}
