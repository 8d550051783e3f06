// ABOUTME: HTTP API handlers exposing generation turns and reconnection over SSE
// ABOUTME: Handlers only pipe broker frames; turn state lives in the chat service

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/2389/ember-chat/internal/approval"
	"github.com/2389/ember-chat/internal/auth"
	"github.com/2389/ember-chat/internal/chat"
	"github.com/2389/ember-chat/internal/store"
	"github.com/2389/ember-chat/internal/stream"
)

// ChatMessage is one inbound message of a chat request.
type ChatMessage struct {
	ID   string `json:"id,omitempty"`
	Text string `json:"text"`
}

// ChatOptions are the per-request generation knobs.
type ChatOptions struct {
	WebSearch bool `json:"web_search,omitempty"`
}

// ChatRequest is the JSON request body for POST /api/chat. Clients send
// either the single new message or their full messages array, of which only
// the last entry is new; history lives server-side.
type ChatRequest struct {
	ChatID   string        `json:"chat_id,omitempty"`
	Message  ChatMessage   `json:"message"`
	Messages []ChatMessage `json:"messages,omitempty"`
	Model    string        `json:"model,omitempty"`
	Options  ChatOptions   `json:"options,omitempty"`
}

// inboundMessage picks the new user message out of the request body.
func (r *ChatRequest) inboundMessage() ChatMessage {
	if r.Message.Text == "" && len(r.Messages) > 0 {
		return r.Messages[len(r.Messages)-1]
	}
	return r.Message
}

// ApprovalRequest is the JSON request body for POST /api/approvals.
type ApprovalRequest struct {
	ApprovalID string `json:"approval_id"`
	Approved   bool   `json:"approved"`
	Reason     string `json:"reason,omitempty"`
}

// ChatInfoResponse is one entry of GET /api/chats.
type ChatInfoResponse struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// MessageResponse is one entry of GET /api/chat/{id}/messages.
type MessageResponse struct {
	ID        string       `json:"id"`
	Role      string       `json:"role"`
	Parts     []store.Part `json:"parts"`
	CreatedAt time.Time    `json:"createdAt"`
}

// handleChat starts a generation turn and streams its events. Closing the
// connection mid-stream detaches this client only; the turn keeps running
// and the client can resume via GET /api/chat/{id}/stream.
func (g *Gateway) handleChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserFromContext(r.Context())
	if !ok {
		g.sendJSONError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	msg := req.inboundMessage()
	handle, err := g.svc.StartTurn(r.Context(), userID, chat.TurnRequest{
		ChatID:    req.ChatID,
		MessageID: msg.ID,
		Text:      msg.Text,
		Model:     req.Model,
		WebSearch: req.Options.WebSearch,
	})
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrEmptyMessage):
			g.sendJSONError(w, http.StatusBadRequest, "message text is required")
		case errors.Is(err, store.ErrNotFound):
			g.sendJSONError(w, http.StatusNotFound, "chat not found")
		default:
			g.logger.Error("starting turn failed", "error", err)
			g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}
	defer handle.Events.Close()

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	g.startSSE(w)
	g.writeSSEEvent(w, "started", map[string]string{
		"chat_id":   handle.ChatID,
		"stream_id": handle.StreamID,
	})
	flusher.Flush()

	g.pipeFrames(r, w, flusher, handle.Events)
}

// handleStream resolves a reconnection attempt. Live streams are piped
// from the beginning, a just-finished turn yields one catch-up frame, and
// anything older is 204.
func (g *Gateway) handleStream(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserFromContext(r.Context())
	if !ok {
		g.sendJSONError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	res, err := g.svc.Resume(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			g.sendJSONError(w, http.StatusNotFound, "chat not found")
			return
		}
		g.logger.Error("resolving stream failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	switch res.State {
	case chat.ResumeLive:
		defer res.Events.Close()

		flusher, ok := w.(http.Flusher)
		if !ok {
			g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
			return
		}
		g.startSSE(w)
		flusher.Flush()
		g.pipeFrames(r, w, flusher, res.Events)

	case chat.ResumeRecent:
		g.startSSE(w)
		_, _ = w.Write(res.Catchup)

	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleApproval records the user's decision on a pending tool approval.
// The decision only counts when it comes from the owner of the suspended
// chat; anyone else gets the same 404 as an unknown id.
func (g *Gateway) handleApproval(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserFromContext(r.Context())
	if !ok {
		g.sendJSONError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req ApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ApprovalID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "approval_id is required")
		return
	}

	err := g.svc.ResolveApproval(r.Context(), userID, req.ApprovalID, req.Approved, req.Reason)
	switch {
	case errors.Is(err, approval.ErrNotFound):
		g.sendJSONError(w, http.StatusNotFound, "approval not found")
	case errors.Is(err, approval.ErrAlreadyResolved):
		g.sendJSONError(w, http.StatusConflict, "approval already resolved")
	case err != nil:
		g.logger.Error("resolving approval failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	default:
		g.sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// handleMessages returns the persisted history of a chat.
func (g *Gateway) handleMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserFromContext(r.Context())
	if !ok {
		g.sendJSONError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	msgs, err := g.svc.Messages(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			g.sendJSONError(w, http.StatusNotFound, "chat not found")
			return
		}
		g.logger.Error("loading messages failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	out := make([]MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, MessageResponse{
			ID:        m.ID,
			Role:      m.Role,
			Parts:     m.Parts,
			CreatedAt: m.CreatedAt,
		})
	}
	g.sendJSON(w, http.StatusOK, out)
}

// handleListChats lists the caller's chats, most recent first.
func (g *Gateway) handleListChats(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserFromContext(r.Context())
	if !ok {
		g.sendJSONError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	chats, err := g.svc.Chats(r.Context(), userID, 100)
	if err != nil {
		g.logger.Error("listing chats failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	out := make([]ChatInfoResponse, 0, len(chats))
	for _, c := range chats {
		out = append(out, ChatInfoResponse{ID: c.ID, Title: c.Title, CreatedAt: c.CreatedAt})
	}
	g.sendJSON(w, http.StatusOK, out)
}

// handleDeleteChat removes a chat with its messages and stream registry.
func (g *Gateway) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserFromContext(r.Context())
	if !ok {
		g.sendJSONError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	if err := g.svc.DeleteChat(r.Context(), userID, r.PathValue("id")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			g.sendJSONError(w, http.StatusNotFound, "chat not found")
			return
		}
		g.logger.Error("deleting chat failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleStop requests cancellation of the chat's running turn. Stopping is
// asynchronous; the turn winds down at its next suspension point.
func (g *Gateway) handleStop(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserFromContext(r.Context())
	if !ok {
		g.sendJSONError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	if err := g.svc.Stop(r.Context(), userID, r.PathValue("id")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			g.sendJSONError(w, http.StatusNotFound, "chat not found")
			return
		}
		g.logger.Error("stopping turn failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	g.sendJSON(w, http.StatusOK, map[string]string{"status": "stopping"})
}

// pipeFrames copies pre-encoded SSE frames from a broker consumer to the
// client until end-of-stream or client disconnect.
func (g *Gateway) pipeFrames(r *http.Request, w http.ResponseWriter, flusher http.Flusher, consumer stream.Consumer) {
	for {
		select {
		case <-r.Context().Done():
			// Client gone; the turn keeps running
			return
		case frame, ok := <-consumer.Chunks():
			if !ok {
				return
			}
			if _, err := w.Write(frame); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (g *Gateway) startSSE(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
}

// writeSSEEvent writes a single SSE event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data interface{}) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	_, _ = w.Write([]byte("event: " + event + "\n"))
	_, _ = w.Write([]byte("data: " + string(dataJSON) + "\n\n"))
}

func (g *Gateway) sendJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
