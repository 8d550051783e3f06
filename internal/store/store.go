// ABOUTME: Store interface and data types for ember-chat persistence
// ABOUTME: Defines Chat, Message, Part structs and the Store interface for database operations

package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateChat is returned when trying to create a chat that already exists
var ErrDuplicateChat = errors.New("chat already exists")

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Part types. Tool parts use the "tool-<name>" convention so clients can
// dispatch renderers per tool without a separate name field.
const (
	PartTypeText      = "text"
	PartTypeReasoning = "reasoning"
	PartTypeFile      = "file"
	ToolPartPrefix    = "tool-"
)

// Tool part states, in lifecycle order.
const (
	ToolStateInputAvailable    = "input-available"
	ToolStateApprovalRequested = "approval-requested"
	ToolStateApprovalResponded = "approval-responded"
	ToolStateOutputAvailable   = "output-available"
	ToolStateOutputDenied      = "output-denied"
	ToolStateOutputError       = "output-error"
)

// Chat represents a conversation session owned by a single user
type Chat struct {
	ID        string
	OwnerID   string
	Title     string
	CreatedAt time.Time
}

// Approval carries the approval decision attached to a gated tool part
type Approval struct {
	ID       string `json:"id"`
	Approved *bool  `json:"approved,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Part is one typed content segment of a message. The zero fields for a
// given type are omitted from the stored JSON.
type Part struct {
	Type string `json:"type"`

	// text / reasoning
	Text string `json:"text,omitempty"`

	// file
	URL       string `json:"url,omitempty"`
	MediaType string `json:"mediaType,omitempty"`

	// tool invocation
	ToolCallID string          `json:"toolCallId,omitempty"`
	State      string          `json:"state,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	ErrorText  string          `json:"errorText,omitempty"`
	Approval   *Approval       `json:"approval,omitempty"`
}

// IsTool reports whether the part is a tool invocation part.
func (p *Part) IsTool() bool {
	return len(p.Type) > len(ToolPartPrefix) && p.Type[:len(ToolPartPrefix)] == ToolPartPrefix
}

// ToolName returns the tool name of a tool part, or "" for other parts.
func (p *Part) ToolName() string {
	if !p.IsTool() {
		return ""
	}
	return p.Type[len(ToolPartPrefix):]
}

// Message represents a single message within a chat. The id is stable for
// its logical turn: an assistant message may be inserted in an intermediate
// tool-call state and later updated in place under the same id. CreatedAt
// is fixed at the first insert and orders the chat; UpdatedAt moves with
// every rewrite, so for an assistant message it is the completion time of
// its turn.
type Message struct {
	ID        string
	ChatID    string
	Role      string
	Parts     []Part
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StreamRegistration records one generation attempt for a chat.
// Append-only; the most recent registration is the chat's current stream.
type StreamRegistration struct {
	StreamID  string
	ChatID    string
	CreatedAt time.Time
}

// Store defines the interface for chat, message, and stream registry persistence
type Store interface {
	// Chats
	CreateChat(ctx context.Context, chat *Chat) error
	GetChat(ctx context.Context, id string) (*Chat, error)
	UpdateChatTitle(ctx context.Context, id, title string) error
	DeleteChat(ctx context.Context, id string) error
	ListChatsByOwner(ctx context.Context, ownerID string, limit int) ([]*Chat, error)

	// Messages
	SaveMessage(ctx context.Context, msg *Message) error
	UpsertMessage(ctx context.Context, msg *Message) error
	UpdateMessageParts(ctx context.Context, id string, parts []Part) error
	GetMessage(ctx context.Context, id string) (*Message, error)
	GetMessagesByChatID(ctx context.Context, chatID string) ([]*Message, error)
	GetLatestMessage(ctx context.Context, chatID string) (*Message, error)

	// Stream registry
	CreateStreamID(ctx context.Context, streamID, chatID string) error
	LatestStreamID(ctx context.Context, chatID string) (string, error)
	GetStreamIDsByChatID(ctx context.Context, chatID string) ([]string, error)

	// Close releases any resources held by the store
	Close() error
}
