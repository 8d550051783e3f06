// ABOUTME: HTTP-level tests for the chat API over a full in-process stack
// ABOUTME: Real store and broker, scripted provider, JWT auth round-trips

package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/ember-chat/internal/approval"
	"github.com/2389/ember-chat/internal/auth"
	"github.com/2389/ember-chat/internal/chat"
	"github.com/2389/ember-chat/internal/provider"
	"github.com/2389/ember-chat/internal/store"
	"github.com/2389/ember-chat/internal/stream"
	"github.com/2389/ember-chat/internal/tools"
)

type testGateway struct {
	handler   http.Handler
	token     string
	store     store.Store
	approvals *approval.Coordinator
}

func newTestGateway(t *testing.T, prov provider.Provider) *testGateway {
	t.Helper()

	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	broker := stream.NewMemoryBroker(time.Minute, nil)
	t.Cleanup(func() { broker.Close() })

	coordinator := approval.NewCoordinator(nil)
	svc := chat.NewService(st, broker, prov, tools.NewRegistry(), coordinator, chat.Options{}, nil)

	verifier := auth.NewJWTVerifier([]byte("test-secret"))

	g := NewGateway("127.0.0.1:0", svc, verifier, nil)
	return &testGateway{
		handler:   g.Handler(),
		token:     signToken(t, "user-1"),
		store:     st,
		approvals: coordinator,
	}
}

// signToken mints an HS256 session token the way the identity provider would.
func signToken(t *testing.T, subject string) string {
	t.Helper()

	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return raw
}

func (tg *testGateway) request(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return tg.requestAs(t, tg.token, method, path, body)
}

func (tg *testGateway) requestAs(t *testing.T, token, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	tg.handler.ServeHTTP(rec, req)
	return rec
}

func TestGateway_Unauthenticated(t *testing.T) {
	tg := newTestGateway(t, provider.NewScriptProvider())

	req := httptest.NewRequest(http.MethodGet, "/api/chats", nil)
	rec := httptest.NewRecorder()
	tg.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGateway_ChatStreamsEvents(t *testing.T) {
	prov := provider.NewScriptProvider(
		provider.ScriptedStep{Text: "Hi there."},
		provider.ScriptedStep{Text: "Greeting"},
	)
	tg := newTestGateway(t, prov)

	rec := tg.request(t, http.MethodPost, "/api/chat", map[string]any{
		"message": map[string]string{"text": "hello"},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, "event: started")
	assert.Contains(t, body, "event: text-delta")
	assert.Contains(t, body, "event: finish")
	assert.Contains(t, body, `"reason":"stop"`)
}

func TestGateway_ChatEmptyMessage(t *testing.T) {
	tg := newTestGateway(t, provider.NewScriptProvider())

	rec := tg.request(t, http.MethodPost, "/api/chat", map[string]any{
		"message": map[string]string{"text": ""},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGateway_StreamGoneReturns204(t *testing.T) {
	tg := newTestGateway(t, provider.NewScriptProvider())

	chatObj := &store.Chat{ID: "chat-1", OwnerID: "user-1"}
	require.NoError(t, tg.store.CreateChat(t.Context(), chatObj))

	rec := tg.request(t, http.MethodGet, "/api/chat/chat-1/stream", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestGateway_StreamRecentDeliversCatchup(t *testing.T) {
	prov := provider.NewScriptProvider(provider.ScriptedStep{Text: "finished answer"})
	tg := newTestGateway(t, prov)

	chatObj := &store.Chat{ID: "chat-1", OwnerID: "user-1", Title: "seeded"}
	require.NoError(t, tg.store.CreateChat(t.Context(), chatObj))

	rec := tg.request(t, http.MethodPost, "/api/chat", map[string]any{
		"chat_id": "chat-1",
		"message": map[string]string{"text": "hello"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool {
		msgs, err := tg.store.GetMessagesByChatID(t.Context(), "chat-1")
		return err == nil && len(msgs) == 2
	}, 2*time.Second, 10*time.Millisecond)

	resumeRec := tg.request(t, http.MethodGet, "/api/chat/chat-1/stream", nil)
	require.Equal(t, http.StatusOK, resumeRec.Code)

	body := resumeRec.Body.String()
	assert.True(t, strings.HasPrefix(body, "event: data-appendMessage\n"), "body: %q", body)
	assert.Contains(t, body, "finished answer")
}

func TestGateway_StreamUnknownChat(t *testing.T) {
	tg := newTestGateway(t, provider.NewScriptProvider())

	rec := tg.request(t, http.MethodGet, "/api/chat/missing/stream", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGateway_ApprovalLifecycle(t *testing.T) {
	tg := newTestGateway(t, provider.NewScriptProvider())

	// Unknown approval
	rec := tg.request(t, http.MethodPost, "/api/approvals", ApprovalRequest{
		ApprovalID: "missing", Approved: true,
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Pending approval on the caller's own chat resolves once, conflicts on
	// the second attempt
	require.NoError(t, tg.store.CreateChat(t.Context(), &store.Chat{ID: "chat-1", OwnerID: "user-1"}))
	tg.approvals.Request("appr-1", "chat-1")

	rec = tg.request(t, http.MethodPost, "/api/approvals", ApprovalRequest{
		ApprovalID: "appr-1", Approved: true,
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = tg.request(t, http.MethodPost, "/api/approvals", ApprovalRequest{
		ApprovalID: "appr-1", Approved: false, Reason: "changed my mind",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Missing id is a bad request
	rec = tg.request(t, http.MethodPost, "/api/approvals", ApprovalRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGateway_ApprovalRequiresChatOwner(t *testing.T) {
	tg := newTestGateway(t, provider.NewScriptProvider())

	require.NoError(t, tg.store.CreateChat(t.Context(), &store.Chat{ID: "chat-1", OwnerID: "user-1"}))
	tg.approvals.Request("appr-1", "chat-1")

	// Someone else's decision reads as an unknown approval
	intruder := signToken(t, "user-2")
	rec := tg.requestAs(t, intruder, http.MethodPost, "/api/approvals", ApprovalRequest{
		ApprovalID: "appr-1", Approved: true,
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// The owner's decision still lands
	rec = tg.request(t, http.MethodPost, "/api/approvals", ApprovalRequest{
		ApprovalID: "appr-1", Approved: true,
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGateway_ChatForwardsModelOptions(t *testing.T) {
	prov := provider.NewScriptProvider(
		provider.ScriptedStep{Text: "ok"},
		provider.ScriptedStep{Text: "Title"},
	)
	tg := newTestGateway(t, prov)

	rec := tg.request(t, http.MethodPost, "/api/chat", map[string]any{
		"messages": []map[string]string{{"text": "old history"}, {"text": "newest"}},
		"model":    "deepseek-chat",
		"options":  map[string]any{"web_search": true},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	require.NotEmpty(t, prov.Opts)
	assert.Equal(t, provider.StepOptions{Model: "deepseek-chat", WebSearch: true}, prov.Opts[0])

	// Only the last entry of the messages array is new; it is the user turn
	require.NotEmpty(t, prov.Calls)
	firstCall := prov.Calls[0]
	require.NotEmpty(t, firstCall)
	assert.Equal(t, "newest", firstCall[len(firstCall)-1].Text)
}

func TestGateway_MessagesAndChatsAndDelete(t *testing.T) {
	prov := provider.NewScriptProvider(
		provider.ScriptedStep{Text: "answer"},
		provider.ScriptedStep{Text: "Title"},
	)
	tg := newTestGateway(t, prov)

	rec := tg.request(t, http.MethodPost, "/api/chat", map[string]any{
		"message": map[string]string{"text": "question"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	// The started event names the chat
	var started struct {
		ChatID string `json:"chat_id"`
	}
	for _, line := range strings.Split(rec.Body.String(), "\n") {
		if strings.HasPrefix(line, "data: ") && strings.Contains(line, "chat_id") {
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &started))
			break
		}
	}
	require.NotEmpty(t, started.ChatID)

	require.Eventually(t, func() bool {
		msgs, err := tg.store.GetMessagesByChatID(t.Context(), started.ChatID)
		return err == nil && len(msgs) == 2
	}, 2*time.Second, 10*time.Millisecond)

	rec = tg.request(t, http.MethodGet, "/api/chat/"+started.ChatID+"/messages", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var msgs []MessageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msgs))
	require.Len(t, msgs, 2)
	assert.Equal(t, store.RoleUser, msgs[0].Role)
	assert.Equal(t, store.RoleAssistant, msgs[1].Role)

	rec = tg.request(t, http.MethodGet, "/api/chats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var chats []ChatInfoResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &chats))
	require.Len(t, chats, 1)

	rec = tg.request(t, http.MethodDelete, "/api/chat/"+started.ChatID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = tg.request(t, http.MethodGet, "/api/chat/"+started.ChatID+"/messages", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGateway_StopUnknownChat(t *testing.T) {
	tg := newTestGateway(t, provider.NewScriptProvider())

	rec := tg.request(t, http.MethodPost, "/api/chat/missing/stop", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGateway_Health(t *testing.T) {
	tg := newTestGateway(t, provider.NewScriptProvider())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	tg.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
