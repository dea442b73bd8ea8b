package adapters

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUCache(t *testing.T) {
	ctx := context.Background()
	cache := NewLRUCache(2, 0)

	require.NoError(t, cache.Set(ctx, "a", []byte("one")))
	require.NoError(t, cache.Set(ctx, "b", []byte("two")))

	v, ok := cache.Get(ctx, "a")
	require.True(t, ok)
	assert.Equal(t, []byte("one"), v)

	// "b" is now least recently used.
	require.NoError(t, cache.Set(ctx, "c", []byte("three")))
	_, ok = cache.Get(ctx, "b")
	assert.False(t, ok)
	assert.Equal(t, 2, cache.Len())

	require.NoError(t, cache.Delete(ctx, "a"))
	_, ok = cache.Get(ctx, "a")
	assert.False(t, ok)
}

func TestLRUCache_ValuesAreCopied(t *testing.T) {
	ctx := context.Background()
	cache := NewLRUCache(4, 0)

	value := []byte("abc")
	require.NoError(t, cache.Set(ctx, "k", value))
	value[0] = 'x'

	got, _ := cache.Get(ctx, "k")
	assert.Equal(t, "abc", string(got))
	got[1] = 'y'

	again, _ := cache.Get(ctx, "k")
	assert.Equal(t, "abc", string(again))
}

func TestLRUCache_TTL(t *testing.T) {
	ctx := context.Background()
	cache := NewLRUCache(4, 20*time.Millisecond)
	require.NoError(t, cache.Set(ctx, "k", []byte("v")))

	assert.Eventually(t, func() bool {
		_, ok := cache.Get(ctx, "k")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestTokenBucket_BurstThenWait(t *testing.T) {
	tb := NewTokenBucket(2, time.Hour)
	ctx := context.Background()

	for range 2 {
		release, err := tb.Acquire(ctx, "provider:openai")
		require.NoError(t, err)
		release()
	}

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err := tb.Acquire(waitCtx, "provider:openai")
	assert.Error(t, err, "third call must not fit the burst")

	// Buckets are per key.
	_, err = tb.Acquire(ctx, "tool:ticket_get")
	assert.NoError(t, err)
}

func TestTokenBucket_ZeroIntervalIsUnlimited(t *testing.T) {
	tb := NewTokenBucket(1, 0)
	for range 100 {
		_, err := tb.Acquire(context.Background(), "k")
		require.NoError(t, err)
	}
}

func TestZerologTracer(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewZerologTracer(zerolog.New(&buf).Level(zerolog.DebugLevel))

	ctx, finish := tracer.StartSpan(context.Background(), "orchestrate", map[string]any{"conversation_id": "c1"})
	tracer.Event(ctx, "text_tool_calls", map[string]any{"count": 2})
	finish(errors.New("boom"))

	out := buf.String()
	assert.Contains(t, out, `"span":"orchestrate"`)
	assert.Contains(t, out, `"conversation_id":"c1"`)
	assert.Contains(t, out, `"event":"text_tool_calls"`)
	assert.Contains(t, out, `"level":"warn"`)
	assert.Contains(t, out, `"error":"boom"`)
}

func TestZerologTracerEventWithoutSpan(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewZerologTracer(zerolog.New(&buf).Level(zerolog.DebugLevel))

	tracer.Event(context.Background(), "cache_miss", map[string]any{"key": "q1"})

	out := buf.String()
	assert.Contains(t, out, `"component":"trace"`)
	assert.Contains(t, out, `"event":"cache_miss"`)
	assert.Contains(t, out, `"key":"q1"`)
	assert.NotContains(t, out, `"span"`)
}
