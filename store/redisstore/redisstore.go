// Package redisstore provides Redis backed session state and frame queues, shared by engine
// processes on any number of hosts.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store implements mcp.SessionStore with one Redis string per value. Expiry is left to Redis.
type Store struct {
	client redis.UniversalClient
	prefix string
	logger *slog.Logger
}

// Queue implements mcp.Queue with one Redis list per channel, pushed with RPUSH and popped with
// BLPOP.
type Queue struct {
	client redis.UniversalClient
	prefix string
}

// Option represents the options for the Store and the Queue.
type Option func(*config)

type config struct {
	prefix string
	logger *slog.Logger
}

const defaultPrefix = "mcp:"

func newConfig(options []Option) config {
	cfg := config{prefix: defaultPrefix, logger: slog.Default()}
	for _, opt := range options {
		opt(&cfg)
	}
	return cfg
}

// WithPrefix namespaces every key. The default is "mcp:".
func WithPrefix(prefix string) Option {
	return func(c *config) {
		c.prefix = prefix
	}
}

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger.With(
			slog.String("package", "go-mcp-engine"),
			slog.String("component", "redisstore"),
		)
	}
}

// New returns a store on client. The client is owned by the caller.
func New(client redis.UniversalClient, options ...Option) *Store {
	cfg := newConfig(options)
	return &Store{client: client, prefix: cfg.prefix, logger: cfg.logger}
}

// NewQueue returns a queue on client. The client is owned by the caller.
func NewQueue(client redis.UniversalClient, options ...Option) *Queue {
	cfg := newConfig(options)
	return &Queue{client: client, prefix: cfg.prefix}
}

// Dial connects to the Redis server at addr and checks that it answers. db selects the logical
// database.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	return client, nil
}

func (s *Store) key(sessionID, key string) string {
	return s.prefix + "session:" + sessionID + ":" + key
}

// Get implements mcp.SessionStore.
func (s *Store) Get(ctx context.Context, sessionID, key string) ([]byte, bool, error) {
	value, err := s.client.Get(ctx, s.key(sessionID, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading session state: %w", err)
	}
	return value, true, nil
}

// Set implements mcp.SessionStore. A ttl of zero or less keeps the value until it is forgotten.
func (s *Store) Set(ctx context.Context, sessionID, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, s.key(sessionID, key), value, ttl).Err(); err != nil {
		return fmt.Errorf("storing session state: %w", err)
	}
	return nil
}

// Has implements mcp.SessionStore.
func (s *Store) Has(ctx context.Context, sessionID, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(sessionID, key)).Result()
	if err != nil {
		return false, fmt.Errorf("checking session state: %w", err)
	}
	return n > 0, nil
}

// Forget implements mcp.SessionStore.
func (s *Store) Forget(ctx context.Context, sessionID, key string) error {
	if err := s.client.Del(ctx, s.key(sessionID, key)).Err(); err != nil {
		return fmt.Errorf("deleting session state: %w", err)
	}
	return nil
}

func (q *Queue) key(channel string) string {
	return q.prefix + "queue:" + channel
}

// Push implements mcp.Queue.
func (q *Queue) Push(ctx context.Context, channel string, payload []byte) error {
	if err := q.client.RPush(ctx, q.key(channel), payload).Err(); err != nil {
		return fmt.Errorf("pushing frame: %w", err)
	}
	return nil
}

// Pop implements mcp.Queue. Redis counts blocking timeouts in whole seconds, timeout is rounded up
// accordingly.
func (q *Queue) Pop(ctx context.Context, channel string, timeout time.Duration) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	res, err := q.client.BLPop(ctx, blockTimeout(timeout), q.key(channel)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("popping frame: %w", err)
	}
	// BLPOP answers with the key and the value.
	if len(res) != 2 {
		return nil, false, fmt.Errorf("unexpected BLPOP reply of %d elements", len(res))
	}
	return []byte(res[1]), true, nil
}

// blockTimeout rounds d up to whole seconds, never below one second.
func blockTimeout(d time.Duration) time.Duration {
	d = (d + time.Second - 1).Truncate(time.Second)
	if d < time.Second {
		return time.Second
	}
	return d
}

// Len returns the number of frames waiting on channel.
func (q *Queue) Len(ctx context.Context, channel string) (int64, error) {
	n, err := q.client.LLen(ctx, q.key(channel)).Result()
	if err != nil {
		return 0, fmt.Errorf("counting frames: %w", err)
	}
	return n, nil
}
