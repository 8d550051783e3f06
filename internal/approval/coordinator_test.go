// ABOUTME: Tests for the approval coordinator
// ABOUTME: Covers single-resolution semantics, conflicts, and context cancellation

package approval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoordinator_RequestAndResolve(t *testing.T) {
	c := NewCoordinator(nil)

	ch := c.Request("appr-1", "chat-1")
	require.NoError(t, c.Resolve("appr-1", Decision{Approved: true}))

	d, err := Wait(t.Context(), ch)
	require.NoError(t, err)
	assert.True(t, d.Approved)
}

func TestCoordinator_Deny(t *testing.T) {
	c := NewCoordinator(nil)

	ch := c.Request("appr-1", "chat-1")
	require.NoError(t, c.Resolve("appr-1", Decision{Approved: false, Reason: "not allowed"}))

	d, err := Wait(t.Context(), ch)
	require.NoError(t, err)
	assert.False(t, d.Approved)
	assert.Equal(t, "not allowed", d.Reason)
}

func TestCoordinator_ResolveUnknown(t *testing.T) {
	c := NewCoordinator(nil)

	err := c.Resolve("missing", Decision{Approved: true})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCoordinator_ChatID(t *testing.T) {
	c := NewCoordinator(nil)

	c.Request("appr-1", "chat-1")

	chatID, err := c.ChatID("appr-1")
	require.NoError(t, err)
	assert.Equal(t, "chat-1", chatID)

	_, err = c.ChatID("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	c.Release("appr-1")
	_, err = c.ChatID("appr-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCoordinator_DoubleResolveConflicts(t *testing.T) {
	c := NewCoordinator(nil)

	c.Request("appr-1", "chat-1")
	require.NoError(t, c.Resolve("appr-1", Decision{Approved: true}))

	err := c.Resolve("appr-1", Decision{Approved: false})
	assert.ErrorIs(t, err, ErrAlreadyResolved)
}

func TestCoordinator_ReleaseForgetsApproval(t *testing.T) {
	c := NewCoordinator(nil)

	c.Request("appr-1", "chat-1")
	c.Release("appr-1")

	err := c.Resolve("appr-1", Decision{Approved: true})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWait_ContextCancelled(t *testing.T) {
	c := NewCoordinator(nil)
	ch := c.Request("appr-1", "chat-1")

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()

	_, err := Wait(ctx, ch)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCoordinator_ResolveDoesNotBlockWithoutWaiter(t *testing.T) {
	c := NewCoordinator(nil)

	c.Request("appr-1", "chat-1")

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Resolve("appr-1", Decision{Approved: true})
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Resolve blocked with no waiter attached")
	}
}
