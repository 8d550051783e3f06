// ABOUTME: Tests for the Redis-backed stream broker against an in-process server
// ABOUTME: Covers replay ordering, close-during-attach, status lifecycle, and late emits

package stream

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisTestBroker(t *testing.T) *RedisBroker {
	t.Helper()

	mr := miniredis.RunT(t)
	b, err := NewRedisBroker(t.Context(), &redis.Options{Addr: mr.Addr()}, time.Minute, nil)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestRedisBroker_OpenTwiceFails(t *testing.T) {
	b := newRedisTestBroker(t)
	ctx := t.Context()

	_, err := b.Open(ctx, "stream-1")
	require.NoError(t, err)

	_, err = b.Open(ctx, "stream-1")
	assert.ErrorIs(t, err, ErrAlreadyOpen)
}

func TestRedisBroker_AttachUnknownStream(t *testing.T) {
	b := newRedisTestBroker(t)

	_, err := b.Attach(t.Context(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisBroker_ReplayThenLiveOrdering(t *testing.T) {
	b := newRedisTestBroker(t)
	ctx := t.Context()

	p, err := b.Open(ctx, "stream-1")
	require.NoError(t, err)

	require.NoError(t, p.Emit(ctx, []byte("a")))
	require.NoError(t, p.Emit(ctx, []byte("b")))

	// Attaches mid-stream: replayed chunks first, then live ones
	c, err := b.Attach(ctx, "stream-1")
	require.NoError(t, err)

	require.NoError(t, p.Emit(ctx, []byte("c")))
	require.NoError(t, p.Emit(ctx, []byte("d")))
	require.NoError(t, p.Close(ctx))

	assert.Equal(t, []string{"a", "b", "c", "d"}, collect(t, c))
}

func TestRedisBroker_CloseRacingAttachStillEnds(t *testing.T) {
	b := newRedisTestBroker(t)
	ctx := t.Context()

	p, err := b.Open(ctx, "stream-1")
	require.NoError(t, err)
	require.NoError(t, p.Emit(ctx, []byte("only")))

	// The consumer subscribes before reading state, so a producer closing
	// right after the attach must still terminate the chunk channel: the
	// done signal lands in the already-established subscription.
	c, err := b.Attach(ctx, "stream-1")
	require.NoError(t, err)
	require.NoError(t, p.Close(ctx))

	assert.Equal(t, []string{"only"}, collect(t, c))
}

func TestRedisBroker_AttachAfterCloseReplaysBuffer(t *testing.T) {
	b := newRedisTestBroker(t)
	ctx := t.Context()

	p, err := b.Open(ctx, "stream-1")
	require.NoError(t, err)
	require.NoError(t, p.Emit(ctx, []byte("hello")))
	require.NoError(t, p.Emit(ctx, []byte("world")))
	require.NoError(t, p.Close(ctx))

	c, err := b.Attach(ctx, "stream-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"hello", "world"}, collect(t, c))
}

func TestRedisBroker_EmitAfterClose(t *testing.T) {
	b := newRedisTestBroker(t)
	ctx := t.Context()

	p, err := b.Open(ctx, "stream-1")
	require.NoError(t, err)
	require.NoError(t, p.Close(ctx))

	assert.ErrorIs(t, p.Emit(ctx, []byte("late")), ErrClosed)

	// Close is idempotent
	assert.NoError(t, p.Close(ctx))
}

func TestRedisBroker_StatusLifecycle(t *testing.T) {
	b := newRedisTestBroker(t)
	ctx := t.Context()

	status, err := b.Status(ctx, "stream-1")
	require.NoError(t, err)
	assert.Equal(t, StatusNotFound, status)

	p, err := b.Open(ctx, "stream-1")
	require.NoError(t, err)

	status, err = b.Status(ctx, "stream-1")
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, status)

	require.NoError(t, p.Close(ctx))

	status, err = b.Status(ctx, "stream-1")
	require.NoError(t, err)
	assert.Equal(t, StatusDone, status)
}

func TestSplitIndexed(t *testing.T) {
	idx, chunk, err := splitIndexed("3|data: hello\n\n")
	require.NoError(t, err)
	assert.Equal(t, int64(3), idx)
	assert.Equal(t, "data: hello\n\n", string(chunk))

	_, _, err = splitIndexed("no separator")
	assert.Error(t, err)

	_, _, err = splitIndexed("x|chunk")
	assert.Error(t, err)
}
