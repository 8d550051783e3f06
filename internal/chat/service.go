// ABOUTME: Chat service orchestrating generation turns, streams, and approvals
// ABOUTME: Turns run on background goroutines bound to the turn budget, not the client connection

package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/ember-chat/internal/approval"
	"github.com/2389/ember-chat/internal/provider"
	"github.com/2389/ember-chat/internal/store"
	"github.com/2389/ember-chat/internal/stream"
	"github.com/2389/ember-chat/internal/tools"
)

// ErrEmptyMessage is returned when a turn is started without user text
var ErrEmptyMessage = errors.New("message text is empty")

// Options tune turn execution. Zero values fall back to defaults.
type Options struct {
	MaxSteps     int
	TurnTimeout  time.Duration
	ResumeWindow time.Duration
}

const (
	defaultMaxSteps     = 5
	defaultTurnTimeout  = 5 * time.Minute
	defaultResumeWindow = 15 * time.Second

	// saveTimeout bounds detached persistence after the request context is gone
	saveTimeout = 5 * time.Second
)

// Service coordinates the store, broker, provider, tools, and approvals for
// generation turns.
type Service struct {
	store     store.Store
	broker    stream.Broker
	provider  provider.Provider
	tools     *tools.Registry
	approvals *approval.Coordinator
	opts      Options
	logger    *slog.Logger

	mu      sync.Mutex
	running map[string]*runningTurn

	wg sync.WaitGroup
}

// NewService creates the chat service. Pass nil logger for default.
func NewService(st store.Store, broker stream.Broker, prov provider.Provider, reg *tools.Registry, approvals *approval.Coordinator, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = defaultMaxSteps
	}
	if opts.TurnTimeout <= 0 {
		opts.TurnTimeout = defaultTurnTimeout
	}
	if opts.ResumeWindow <= 0 {
		opts.ResumeWindow = defaultResumeWindow
	}

	return &Service{
		store:     st,
		broker:    broker,
		provider:  prov,
		tools:     reg,
		approvals: approvals,
		opts:      opts,
		running:   make(map[string]*runningTurn),
		logger:    logger.With("component", "chat"),
	}
}

// TurnRequest starts one generation turn for a chat. Model and WebSearch
// are forwarded to the provider unchanged; empty values use its defaults.
type TurnRequest struct {
	ChatID    string
	MessageID string
	Text      string
	Model     string
	WebSearch bool
}

// TurnHandle is the caller's view of a started turn. Events yields the
// turn's event frames from the beginning; closing it detaches the caller
// without affecting the turn.
type TurnHandle struct {
	ChatID   string
	StreamID string
	Events   stream.Consumer
}

// StartTurn persists the user message, registers a stream, and launches the
// generation turn in the background. The user message is durable before any
// generation starts, so a crashed or failed turn never loses user input.
func (s *Service) StartTurn(ctx context.Context, ownerID string, req TurnRequest) (*TurnHandle, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	chatID := req.ChatID
	if chatID == "" {
		chatID = uuid.New().String()
	}

	chat, newChat, err := s.ensureChat(ctx, ownerID, chatID)
	if err != nil {
		return nil, err
	}

	msgID := req.MessageID
	if msgID == "" {
		msgID = uuid.New().String()
	}
	userMsg := &store.Message{
		ID:     msgID,
		ChatID: chat.ID,
		Role:   store.RoleUser,
		Parts:  []store.Part{{Type: store.PartTypeText, Text: text}},
	}
	if err := s.store.SaveMessage(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("saving user message: %w", err)
	}

	history, err := s.loadHistory(ctx, chat.ID)
	if err != nil {
		return nil, err
	}

	streamID := uuid.New().String()
	if err := s.store.CreateStreamID(ctx, streamID, chat.ID); err != nil {
		return nil, fmt.Errorf("registering stream: %w", err)
	}

	producer, err := s.broker.Open(ctx, streamID)
	if err != nil {
		return nil, fmt.Errorf("opening stream: %w", err)
	}

	consumer, err := s.broker.Attach(ctx, streamID)
	if err != nil {
		return nil, fmt.Errorf("attaching to stream: %w", err)
	}

	// The turn outlives the request; its context is the turn budget.
	turnCtx, cancel := context.WithTimeout(context.Background(), s.opts.TurnTimeout)
	ref := &runningTurn{cancel: cancel}
	s.mu.Lock()
	s.running[chat.ID] = ref
	s.mu.Unlock()

	t := &turn{
		svc:      s,
		chat:     chat,
		streamID: streamID,
		producer: producer,
		history:  history,
		stepOpts: provider.StepOptions{Model: req.Model, WebSearch: req.WebSearch},
		logger: s.logger.With(
			"chat_id", chat.ID,
			"stream_id", streamID,
		),
	}
	s.wg.Go(func() {
		defer cancel()
		defer s.clearRunning(chat.ID, ref)
		t.run(turnCtx)
	})

	if newChat {
		s.wg.Go(func() {
			s.generateTitle(chat.ID, text, producer)
		})
	}

	s.logger.Info("turn started",
		"chat_id", chat.ID,
		"stream_id", streamID,
		"new_chat", newChat)

	return &TurnHandle{ChatID: chat.ID, StreamID: streamID, Events: consumer}, nil
}

// ensureChat loads the chat or creates it on first contact. Access to
// another owner's chat reports ErrNotFound rather than leaking existence.
func (s *Service) ensureChat(ctx context.Context, ownerID, chatID string) (*store.Chat, bool, error) {
	chat, err := s.store.GetChat(ctx, chatID)
	if err == nil {
		if chat.OwnerID != ownerID {
			return nil, false, store.ErrNotFound
		}
		return chat, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, fmt.Errorf("loading chat: %w", err)
	}

	chat = &store.Chat{ID: chatID, OwnerID: ownerID}
	if err := s.store.CreateChat(ctx, chat); err != nil {
		return nil, false, fmt.Errorf("creating chat: %w", err)
	}
	return chat, true, nil
}

// Stop cancels the running turn of a chat, if any. The turn winds down at
// its next suspension point and persists whatever it produced. Stopping a
// chat with no running turn is a no-op.
func (s *Service) Stop(ctx context.Context, ownerID, chatID string) error {
	if _, err := s.getOwnedChat(ctx, ownerID, chatID); err != nil {
		return err
	}

	s.mu.Lock()
	ref, ok := s.running[chatID]
	s.mu.Unlock()
	if ok {
		ref.cancel()
		s.logger.Info("turn stop requested", "chat_id", chatID)
	}
	return nil
}

// ResolveApproval records a user's decision on a pending tool approval.
// Only the owner of the chat whose turn is suspended may decide; anyone
// else sees the approval as not found, the same as an unknown id.
func (s *Service) ResolveApproval(ctx context.Context, ownerID, approvalID string, approved bool, reason string) error {
	chatID, err := s.approvals.ChatID(approvalID)
	if err != nil {
		return err
	}
	if _, err := s.getOwnedChat(ctx, ownerID, chatID); err != nil {
		return approval.ErrNotFound
	}
	return s.approvals.Resolve(approvalID, approval.Decision{Approved: approved, Reason: reason})
}

// Messages returns the full message history of an owned chat.
func (s *Service) Messages(ctx context.Context, ownerID, chatID string) ([]*store.Message, error) {
	if _, err := s.getOwnedChat(ctx, ownerID, chatID); err != nil {
		return nil, err
	}
	return s.store.GetMessagesByChatID(ctx, chatID)
}

// Chats lists the owner's chats, most recent first.
func (s *Service) Chats(ctx context.Context, ownerID string, limit int) ([]*store.Chat, error) {
	return s.store.ListChatsByOwner(ctx, ownerID, limit)
}

// DeleteChat removes an owned chat with its messages and stream registrations.
func (s *Service) DeleteChat(ctx context.Context, ownerID, chatID string) error {
	if _, err := s.getOwnedChat(ctx, ownerID, chatID); err != nil {
		return err
	}
	return s.store.DeleteChat(ctx, chatID)
}

func (s *Service) getOwnedChat(ctx context.Context, ownerID, chatID string) (*store.Chat, error) {
	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if chat.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	return chat, nil
}

// runningTurn identifies one in-flight turn so a finished turn only clears
// its own registry entry.
type runningTurn struct {
	cancel context.CancelFunc
}

func (s *Service) clearRunning(chatID string, ref *runningTurn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[chatID] == ref {
		delete(s.running, chatID)
	}
}

// loadHistory converts the persisted conversation into provider messages.
// Assistant tool parts expand into a tool-call entry plus a tool-result
// entry so the model sees its earlier invocations in protocol order.
func (s *Service) loadHistory(ctx context.Context, chatID string) ([]provider.Message, error) {
	msgs, err := s.store.GetMessagesByChatID(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}

	var history []provider.Message
	for _, msg := range msgs {
		history = append(history, toProviderMessages(msg)...)
	}
	return history, nil
}

func toProviderMessages(msg *store.Message) []provider.Message {
	role := provider.RoleUser
	switch msg.Role {
	case store.RoleAssistant:
		role = provider.RoleAssistant
	case store.RoleSystem:
		role = provider.RoleSystem
	}

	var texts []string
	var calls []provider.ToolCall
	var results []provider.ToolResult
	for _, part := range msg.Parts {
		switch {
		case part.Type == store.PartTypeText:
			texts = append(texts, part.Text)
		case part.IsTool():
			calls = append(calls, provider.ToolCall{
				ID:        part.ToolCallID,
				Name:      part.ToolName(),
				Arguments: part.Input,
			})
			results = append(results, provider.ToolResult{
				ToolCallID: part.ToolCallID,
				Name:       part.ToolName(),
				Content:    toolResultContent(&part),
			})
		}
	}

	out := []provider.Message{{
		Role:      role,
		Text:      strings.Join(texts, "\n"),
		ToolCalls: calls,
	}}
	if len(results) > 0 {
		out = append(out, provider.Message{Role: provider.RoleTool, ToolResults: results})
	}
	return out
}

// toolResultContent renders the model-visible outcome of a stored tool part.
func toolResultContent(part *store.Part) string {
	switch part.State {
	case store.ToolStateOutputAvailable:
		return string(part.Output)
	case store.ToolStateOutputDenied:
		reason := "the user denied this tool call"
		if part.Approval != nil && part.Approval.Reason != "" {
			reason = part.Approval.Reason
		}
		return fmt.Sprintf(`{"denied":true,"reason":%q}`, reason)
	case store.ToolStateOutputError:
		return fmt.Sprintf(`{"error":%q}`, part.ErrorText)
	default:
		return `{"error":"tool call did not complete"}`
	}
}

// Shutdown waits for in-flight turns to finish persisting. Turns are
// cancelled first so the wait is bounded by their wind-down, not the
// full turn budget.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for _, ref := range s.running {
		ref.cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
