// Package storetest holds the conformance checks shared by every SessionStore and Queue backend.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MegaGrindStone/go-mcp-engine"
)

// SessionStore runs the SessionStore contract against the store returned by newStore. Every
// subtest gets a fresh store.
func SessionStore(t *testing.T, newStore func(t *testing.T) mcp.SessionStore) {
	t.Helper()

	t.Run("get missing", func(t *testing.T) {
		store := newStore(t)
		v, ok, err := store.Get(context.Background(), "s1", "missing")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, v)
	})

	t.Run("set then get", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		require.NoError(t, store.Set(ctx, "s1", "log_level", []byte(`"error"`), time.Hour))

		v, ok, err := store.Get(ctx, "s1", "log_level")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, `"error"`, string(v))

		has, err := store.Has(ctx, "s1", "log_level")
		require.NoError(t, err)
		assert.True(t, has)
	})

	t.Run("last writer wins", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		require.NoError(t, store.Set(ctx, "s1", "k", []byte("first"), time.Hour))
		require.NoError(t, store.Set(ctx, "s1", "k", []byte("second"), time.Hour))

		v, ok, err := store.Get(ctx, "s1", "k")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "second", string(v))
	})

	t.Run("sessions are isolated", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		require.NoError(t, store.Set(ctx, "s1", "k", []byte("one"), time.Hour))
		require.NoError(t, store.Set(ctx, "s2", "k", []byte("two"), time.Hour))

		v, _, err := store.Get(ctx, "s1", "k")
		require.NoError(t, err)
		assert.Equal(t, "one", string(v))

		v, _, err = store.Get(ctx, "s2", "k")
		require.NoError(t, err)
		assert.Equal(t, "two", string(v))

		has, err := store.Has(ctx, "s3", "k")
		require.NoError(t, err)
		assert.False(t, has)
	})

	t.Run("forget", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		require.NoError(t, store.Set(ctx, "s1", "k", []byte("v"), time.Hour))
		require.NoError(t, store.Forget(ctx, "s1", "k"))

		has, err := store.Has(ctx, "s1", "k")
		require.NoError(t, err)
		assert.False(t, has)

		require.NoError(t, store.Forget(ctx, "s1", "never-set"))
	})

	t.Run("zero ttl never expires", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		require.NoError(t, store.Set(ctx, "s1", "k", []byte("v"), 0))

		has, err := store.Has(ctx, "s1", "k")
		require.NoError(t, err)
		assert.True(t, has)
	})

	t.Run("concurrent writers", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		var wg sync.WaitGroup
		for i := range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, store.Set(ctx, fmt.Sprintf("s%d", i), "k", []byte("v"), time.Hour))
			}()
		}
		wg.Wait()

		for i := range 10 {
			has, err := store.Has(ctx, fmt.Sprintf("s%d", i), "k")
			require.NoError(t, err)
			assert.True(t, has)
		}
	})
}

// SessionStoreExpiry checks that values disappear once their ttl elapsed. advance moves the clock
// of the backend past the given duration, either by sleeping or by fast forwarding a fake server.
func SessionStoreExpiry(
	t *testing.T,
	newStore func(t *testing.T) mcp.SessionStore,
	ttl time.Duration,
	advance func(t *testing.T, d time.Duration),
) {
	t.Helper()

	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.Set(ctx, "s1", "short", []byte("v"), ttl))
	require.NoError(t, store.Set(ctx, "s1", "long", []byte("v"), time.Hour))

	advance(t, 2*ttl)

	has, err := store.Has(ctx, "s1", "short")
	require.NoError(t, err)
	assert.False(t, has, "expired value must be hidden")

	_, ok, err := store.Get(ctx, "s1", "short")
	require.NoError(t, err)
	assert.False(t, ok, "expired value must be hidden")

	has, err = store.Has(ctx, "s1", "long")
	require.NoError(t, err)
	assert.True(t, has)
}

// Queue runs the Queue contract against the queue returned by newQueue. timeout is the pop timeout
// used when the queue is expected to be empty, backends with coarse timeouts pass a larger one.
func Queue(t *testing.T, newQueue func(t *testing.T) mcp.Queue, timeout time.Duration) {
	t.Helper()

	t.Run("fifo per channel", func(t *testing.T) {
		ctx := context.Background()
		queue := newQueue(t)
		for _, payload := range []string{"n1", "n2", "r"} {
			require.NoError(t, queue.Push(ctx, "c1", []byte(payload)))
		}

		for _, want := range []string{"n1", "n2", "r"} {
			got, ok, err := queue.Pop(ctx, "c1", timeout)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, want, string(got))
		}
	})

	t.Run("pop times out on empty channel", func(t *testing.T) {
		queue := newQueue(t)
		start := time.Now()
		got, ok, err := queue.Pop(context.Background(), "empty", timeout)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, got)
		assert.GreaterOrEqual(t, time.Since(start), timeout/2)
	})

	t.Run("channels are isolated", func(t *testing.T) {
		ctx := context.Background()
		queue := newQueue(t)
		require.NoError(t, queue.Push(ctx, "a", []byte("for-a")))
		require.NoError(t, queue.Push(ctx, "b", []byte("for-b")))

		got, ok, err := queue.Pop(ctx, "b", timeout)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "for-b", string(got))

		got, ok, err = queue.Pop(ctx, "a", timeout)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "for-a", string(got))
	})

	t.Run("pop wakes on push", func(t *testing.T) {
		ctx := context.Background()
		queue := newQueue(t)

		type popped struct {
			payload []byte
			ok      bool
			err     error
		}
		results := make(chan popped, 1)
		go func() {
			payload, ok, err := queue.Pop(ctx, "c1", 5*time.Second)
			results <- popped{payload, ok, err}
		}()

		time.Sleep(50 * time.Millisecond)
		require.NoError(t, queue.Push(ctx, "c1", []byte("late")))

		select {
		case res := <-results:
			require.NoError(t, res.err)
			require.True(t, res.ok)
			assert.Equal(t, "late", string(res.payload))
		case <-time.After(5 * time.Second):
			t.Fatal("pop did not return after push")
		}
	})

	t.Run("pop honors context", func(t *testing.T) {
		queue := newQueue(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, ok, err := queue.Pop(ctx, "c1", 5*time.Second)
		assert.False(t, ok)
		assert.Error(t, err)
	})
}
