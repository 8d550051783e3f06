// ABOUTME: Tests for the three-state reconnection resolver
// ABOUTME: Covers live attach, recent catch-up, window expiry, and gone

package chat

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/ember-chat/internal/provider"
	"github.com/2389/ember-chat/internal/store"
	"github.com/2389/ember-chat/internal/tools"
)

func TestResume_LiveWhileTurnSuspended(t *testing.T) {
	reg := tools.NewRegistry()
	reg.Register(echoTool(true))

	prov := provider.NewScriptProvider(
		provider.ScriptedStep{ToolCalls: []provider.ToolCall{{
			ID: "call-1", Name: "echo", Arguments: json.RawMessage(`{}`),
		}}},
		provider.ScriptedStep{Text: "done"},
	)
	env := newTestEnv(t, prov, reg, Options{})
	chatID := env.seedChat(t, "user-1")

	handle, err := env.svc.StartTurn(t.Context(), "user-1", TurnRequest{ChatID: chatID, Text: "go"})
	require.NoError(t, err)

	requested := nextEvent(t, handle.Events, EventApprovalRequested)

	// A reconnecting client resolves to the live stream and replays
	// everything from the start, including the approval request.
	res, err := env.svc.Resume(t.Context(), "user-1", chatID)
	require.NoError(t, err)
	assert.Equal(t, ResumeLive, res.State)
	assert.Equal(t, handle.StreamID, res.StreamID)
	require.NotNil(t, res.Events)

	replayed := nextEvent(t, res.Events, EventApprovalRequested)
	assert.Equal(t, requested.Data, replayed.Data)

	// Let the turn finish
	var reqPayload approvalRequestedPayload
	require.NoError(t, json.Unmarshal(requested.Data, &reqPayload))
	require.NoError(t, env.svc.ResolveApproval(t.Context(), "user-1", reqPayload.ApprovalID, true, ""))
	drain(t, handle.Events)
	drain(t, res.Events)
}

func TestResume_RecentAfterFinish(t *testing.T) {
	prov := provider.NewScriptProvider(provider.ScriptedStep{Text: "fresh answer"})
	env := newTestEnv(t, prov, nil, Options{ResumeWindow: 15 * time.Second})
	chatID := env.seedChat(t, "user-1")

	handle, err := env.svc.StartTurn(t.Context(), "user-1", TurnRequest{ChatID: chatID, Text: "hi"})
	require.NoError(t, err)
	drain(t, handle.Events)

	// The producer closed, so the stream is done and the live path cannot
	// win; wait for the final persist first.
	require.Eventually(t, func() bool {
		msgs, err := env.store.GetMessagesByChatID(t.Context(), chatID)
		return err == nil && len(msgs) == 2
	}, 2*time.Second, 10*time.Millisecond)

	res, err := env.svc.Resume(t.Context(), "user-1", chatID)
	require.NoError(t, err)
	assert.Equal(t, ResumeRecent, res.State)
	require.NotEmpty(t, res.Catchup)

	ev := parseFrame(t, res.Catchup)
	assert.Equal(t, EventAppendMessage, ev.Type)

	var msg wireMessage
	require.NoError(t, json.Unmarshal(ev.Data, &msg))
	assert.Equal(t, store.RoleAssistant, msg.Role)
	require.Len(t, msg.Parts, 1)
	assert.Equal(t, "fresh answer", msg.Parts[0].Text)
}

func TestResume_RecentMeasuredFromTurnCompletion(t *testing.T) {
	reg := tools.NewRegistry()
	reg.Register(echoTool(true))

	prov := provider.NewScriptProvider(
		provider.ScriptedStep{ToolCalls: []provider.ToolCall{{
			ID: "call-1", Name: "echo", Arguments: json.RawMessage(`{}`),
		}}},
		provider.ScriptedStep{Text: "worth the wait"},
	)
	env := newTestEnv(t, prov, reg, Options{ResumeWindow: 500 * time.Millisecond})
	chatID := env.seedChat(t, "user-1")

	handle, err := env.svc.StartTurn(t.Context(), "user-1", TurnRequest{ChatID: chatID, Text: "go"})
	require.NoError(t, err)

	// The assistant message is first persisted at the approval request.
	// Let the approval wait outlast the whole resume window before
	// deciding; freshness must still be measured from the finish.
	requested := nextEvent(t, handle.Events, EventApprovalRequested)
	time.Sleep(time.Second)

	var reqPayload approvalRequestedPayload
	require.NoError(t, json.Unmarshal(requested.Data, &reqPayload))
	require.NoError(t, env.svc.ResolveApproval(t.Context(), "user-1", reqPayload.ApprovalID, true, ""))
	drain(t, handle.Events)

	require.Eventually(t, func() bool {
		msgs, err := env.store.GetMessagesByChatID(t.Context(), chatID)
		return err == nil && len(msgs) == 2 && len(msgs[1].Parts) == 2
	}, 2*time.Second, 10*time.Millisecond)

	res, err := env.svc.Resume(t.Context(), "user-1", chatID)
	require.NoError(t, err)
	assert.Equal(t, ResumeRecent, res.State, "a turn that just finished must be recent however long it ran")
}

func TestResume_GoneOutsideWindow(t *testing.T) {
	prov := provider.NewScriptProvider(provider.ScriptedStep{Text: "stale answer"})
	env := newTestEnv(t, prov, nil, Options{ResumeWindow: time.Nanosecond})
	chatID := env.seedChat(t, "user-1")

	handle, err := env.svc.StartTurn(t.Context(), "user-1", TurnRequest{ChatID: chatID, Text: "hi"})
	require.NoError(t, err)
	drain(t, handle.Events)

	require.Eventually(t, func() bool {
		msgs, err := env.store.GetMessagesByChatID(t.Context(), chatID)
		return err == nil && len(msgs) == 2
	}, 2*time.Second, 10*time.Millisecond)

	res, err := env.svc.Resume(t.Context(), "user-1", chatID)
	require.NoError(t, err)
	assert.Equal(t, ResumeGone, res.State)
	assert.Nil(t, res.Events)
	assert.Empty(t, res.Catchup)
}

func TestResume_GoneWhenNoTurnEverRan(t *testing.T) {
	env := newTestEnv(t, provider.NewScriptProvider(), nil, Options{})
	chatID := env.seedChat(t, "user-1")

	res, err := env.svc.Resume(t.Context(), "user-1", chatID)
	require.NoError(t, err)
	assert.Equal(t, ResumeGone, res.State)
}

func TestResume_GoneWhenLatestMessageIsUser(t *testing.T) {
	env := newTestEnv(t, provider.NewScriptProvider(), nil, Options{})
	chatID := env.seedChat(t, "user-1")

	require.NoError(t, env.store.SaveMessage(t.Context(), &store.Message{
		ID:     "msg-1",
		ChatID: chatID,
		Role:   store.RoleUser,
		Parts:  []store.Part{{Type: store.PartTypeText, Text: "unanswered"}},
	}))

	res, err := env.svc.Resume(t.Context(), "user-1", chatID)
	require.NoError(t, err)
	assert.Equal(t, ResumeGone, res.State)
}

func TestResume_UnknownChat(t *testing.T) {
	env := newTestEnv(t, provider.NewScriptProvider(), nil, Options{})

	_, err := env.svc.Resume(t.Context(), "user-1", "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
