// ABOUTME: Model provider contract for streaming generation steps
// ABOUTME: Neutral message and tool-call types shared by the real and scripted backends

package provider

import (
	"context"
	"encoding/json"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry in the conversation sent to the model. Assistant
// messages may carry tool calls; tool messages carry the matching results.
type Message struct {
	Role        Role
	Text        string
	ToolCalls   []ToolCall
	ToolResults []ToolResult
}

// ToolCall is the model asking for a tool invocation.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ToolResult is the outcome of a tool invocation, fed back to the model.
type ToolResult struct {
	ToolCallID string
	Name       string
	Content    string
}

// ToolDef describes a tool the model may call during a step.
type ToolDef struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// StepResult is the assembled outcome of one model step. Reasoning is only
// populated by models that expose their chain of thought.
type StepResult struct {
	Text         string
	Reasoning    string
	ToolCalls    []ToolCall
	FinishReason string
}

// StepOptions are the caller's per-turn knobs, forwarded from the request.
// The zero value uses the provider's configured defaults.
type StepOptions struct {
	// Model overrides the configured model name for this step.
	Model string

	// WebSearch asks for the web-search-augmented variant of the model.
	WebSearch bool
}

// Provider runs single generation steps against a model. One turn is a
// bounded sequence of steps driven by the caller; the provider holds no
// turn state.
type Provider interface {
	// StreamStep sends the conversation to the model and returns the
	// completed step. onDelta is invoked for each streamed text fragment
	// in order; pass nil to skip streaming. A non-nil error from onDelta
	// aborts the step.
	StreamStep(ctx context.Context, msgs []Message, tools []ToolDef, opts StepOptions, onDelta func(text string) error) (*StepResult, error)
}
