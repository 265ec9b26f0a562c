package mcp

import (
	"context"
	"iter"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
)

// Queue is a FIFO of serialized frames per channel, shared by the producers and consumers of the
// queued transport. Implementations backed by an external broker let the request that produces
// frames and the connection that relays them live in different processes.
//
// Pop blocks until a payload is available, timeout elapses or ctx is done. It reports false when it
// returned without a payload.
type Queue interface {
	Push(ctx context.Context, channel string, payload []byte) error
	Pop(ctx context.Context, channel string, timeout time.Duration) ([]byte, bool, error)
}

// MemoryQueue is an in-process Queue.
type MemoryQueue struct {
	mu       sync.Mutex
	channels map[string]*memoryChannel
}

type memoryChannel struct {
	items [][]byte
	// ready holds at most one token, it is filled whenever items is non-empty.
	ready chan struct{}
	// waiters counts the Pop calls parked on ready. A channel with no items and no waiters is
	// removed from the queue.
	waiters int
}

// QueueTransport implements the queued pub/sub transport. POST requests are producers: the message
// is handled inline and every outbound frame is pushed onto the session's queue, the POST itself is
// answered with 202. GET requests are consumers: they open an event stream and relay every frame
// popped from the session's queue until the client disconnects.
//
// The session id doubles as the channel id. It is read from the Mcp-Session-Id header or the
// sessionId query parameter.
type QueueTransport struct {
	httpConfig
	queue Queue
}

// queueConn pushes the frames of one exchange onto the channel's queue.
type queueConn struct {
	channel string
	queue   Queue

	mu     sync.Mutex
	closed bool
}

const sessionIDQueryParam = "sessionId"

// NewMemoryQueue creates an empty in-process queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{channels: make(map[string]*memoryChannel)}
}

// Push implements Queue.
func (q *MemoryQueue) Push(ctx context.Context, channel string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	ch := q.channel(channel)
	ch.items = append(ch.items, append([]byte(nil), payload...))
	select {
	case ch.ready <- struct{}{}:
	default:
	}
	return nil
}

// Pop implements Queue.
func (q *MemoryQueue) Pop(ctx context.Context, channel string, timeout time.Duration) ([]byte, bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	q.mu.Lock()
	ch := q.channel(channel)
	ch.waiters++
	q.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			q.leave(channel, ch)
			return nil, false, ctx.Err()
		case <-timer.C:
			q.leave(channel, ch)
			return nil, false, nil
		case <-ch.ready:
		}

		q.mu.Lock()
		if len(ch.items) == 0 {
			q.mu.Unlock()
			continue
		}
		payload := ch.items[0]
		ch.items[0] = nil
		ch.items = ch.items[1:]
		if len(ch.items) > 0 {
			select {
			case ch.ready <- struct{}{}:
			default:
			}
		}
		ch.waiters--
		q.release(channel, ch)
		q.mu.Unlock()
		return payload, true, nil
	}
}

// leave unregisters a Pop that returned without a payload.
func (q *MemoryQueue) leave(name string, ch *memoryChannel) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ch.waiters--
	q.release(name, ch)
}

// release must be called with mu held.
func (q *MemoryQueue) release(name string, ch *memoryChannel) {
	if len(ch.items) > 0 || ch.waiters > 0 {
		return
	}
	if q.channels[name] == ch {
		delete(q.channels, name)
	}
}

// Len returns the number of payloads waiting on channel.
func (q *MemoryQueue) Len(channel string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	ch, ok := q.channels[channel]
	if !ok {
		return 0
	}
	return len(ch.items)
}

// Channels returns the number of channels holding payloads or parked consumers.
func (q *MemoryQueue) Channels() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.channels)
}

// channel must be called with mu held.
func (q *MemoryQueue) channel(name string) *memoryChannel {
	ch, ok := q.channels[name]
	if !ok {
		ch = &memoryChannel{ready: make(chan struct{}, 1)}
		q.channels[name] = ch
	}
	return ch
}

// NewQueueTransport creates a queued transport over queue.
func NewQueueTransport(queue Queue, options ...HTTPOption) *QueueTransport {
	return &QueueTransport{
		httpConfig: newHTTPConfig("queue", options),
		queue:      queue,
	}
}

// Run implements Transport.
func (t *QueueTransport) Run(ctx context.Context) error {
	return t.run(ctx, t)
}

// ServeHTTP implements http.Handler.
func (t *QueueTransport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		t.consume(w, r)
	case http.MethodPost:
		t.produce(w, r)
	default:
		w.Header().Set("Allow", http.MethodGet+", "+http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (t *QueueTransport) produce(w http.ResponseWriter, r *http.Request) {
	if t.receive == nil {
		http.Error(w, ErrNoReceiver.Error(), http.StatusServiceUnavailable)
		return
	}
	if r.Header.Get(SessionIDHeader) == "" {
		if id := r.URL.Query().Get(sessionIDQueryParam); id != "" {
			r.Header.Set(SessionIDHeader, id)
		} else {
			r.Header.Set(SessionIDHeader, uuid.New().String())
		}
	}
	channel, body, ok := t.readExchange(w, r)
	if !ok {
		return
	}

	conn := &queueConn{channel: channel, queue: t.queue}
	t.receive(t.requestContext(r), conn, body)
	conn.close()

	w.WriteHeader(http.StatusAccepted)
}

func (t *QueueTransport) consume(w http.ResponseWriter, r *http.Request) {
	channel := channelID(r)
	if channel == "" {
		http.Error(w, "missing session id", http.StatusBadRequest)
		return
	}
	w.Header().Set(SessionIDHeader, channel)

	sess, err := sse.Upgrade(w, r)
	if err != nil {
		t.logger.Error("failed to upgrade session", slog.String("err", err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	// Flush the headers so the client knows the stream is open before the first frame.
	if err := sess.Flush(); err != nil {
		t.logger.Error("failed to flush stream", slog.String("err", err.Error()))
		return
	}

	logger := t.logger.With(slog.String("sessionID", channel))
	ctx := r.Context()
	for {
		payload, ok, err := t.queue.Pop(ctx, channel, t.pollTimeout)
		if ctx.Err() != nil {
			logger.Debug("consumer disconnected")
			return
		}
		if err != nil {
			logger.Error("failed to pop frame", slog.String("err", err.Error()))
			return
		}

		if !ok {
			keepalive := &sse.Message{}
			keepalive.AppendComment("keepalive")
			if err := sess.Send(keepalive); err != nil {
				logger.Debug("failed to send keepalive", slog.String("err", err.Error()))
				return
			}
			if err := sess.Flush(); err != nil {
				logger.Debug("failed to flush keepalive", slog.String("err", err.Error()))
				return
			}
			continue
		}

		if err := writeEventData(sess, payload); err != nil {
			// The frame is lost for this consumer, there is no way to hand it back to the queue.
			logger.Error("failed to relay frame", slog.String("err", err.Error()))
			return
		}
	}
}

func channelID(r *http.Request) string {
	if id := r.Header.Get(SessionIDHeader); id != "" {
		return id
	}
	return r.URL.Query().Get(sessionIDQueryParam)
}

func (c *queueConn) SessionID() string {
	return c.channel
}

func (c *queueConn) Send(ctx context.Context, msg Message) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed || c.channel == "" {
		return ErrNotConnected
	}

	bs, err := marshalMessage(msg)
	if err != nil {
		return err
	}
	if err := c.queue.Push(ctx, c.channel, bs); err != nil {
		return err
	}
	return nil
}

func (c *queueConn) Stream(ctx context.Context, msgs iter.Seq[Message]) error {
	for msg := range msgs {
		if err := c.Send(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (c *queueConn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
}
