// ABOUTME: Typed generation events and their SSE wire encoding
// ABOUTME: Events are encoded once and emitted as opaque chunks so all consumers see identical bytes

package chat

import (
	"encoding/json"
	"fmt"
)

// Event types emitted during a generation turn.
const (
	EventTextDelta         = "text-delta"
	EventReasoningDelta    = "reasoning-delta"
	EventToolInput         = "tool-input-available"
	EventApprovalRequested = "tool-approval-requested"
	EventApprovalResponded = "tool-approval-responded"
	EventToolOutput        = "tool-output-available"
	EventToolDenied        = "tool-output-denied"
	EventToolError         = "tool-output-error"
	EventChatTitle         = "data-chat-title"
	EventAppendMessage     = "data-appendMessage"
	EventError             = "error"
	EventFinish            = "finish"
)

// Finish reasons carried by the terminal event of a turn.
const (
	FinishStop      = "stop"
	FinishStepLimit = "step-limit"
	FinishStopped   = "stopped"
	FinishError     = "error"
)

type textDeltaPayload struct {
	Delta string `json:"delta"`
}

type toolInputPayload struct {
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Input      json.RawMessage `json:"input"`
}

type approvalRequestedPayload struct {
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	ApprovalID string          `json:"approvalId"`
	Input      json.RawMessage `json:"input"`
}

type approvalRespondedPayload struct {
	ToolCallID string `json:"toolCallId"`
	ApprovalID string `json:"approvalId"`
	Approved   bool   `json:"approved"`
	Reason     string `json:"reason,omitempty"`
}

type toolOutputPayload struct {
	ToolCallID string          `json:"toolCallId"`
	Output     json.RawMessage `json:"output"`
}

type toolDeniedPayload struct {
	ToolCallID string `json:"toolCallId"`
	Reason     string `json:"reason,omitempty"`
}

type toolErrorPayload struct {
	ToolCallID string `json:"toolCallId"`
	ErrorText  string `json:"errorText"`
}

type chatTitlePayload struct {
	Title string `json:"title"`
}

type errorPayload struct {
	ErrorText string `json:"errorText"`
}

type finishPayload struct {
	Reason string `json:"reason"`
}

// encodeEvent renders one SSE frame. The frame bytes are what flows through
// the broker, so every consumer replays the exact same sequence.
func encodeEvent(eventType string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s event: %w", eventType, err)
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, data)), nil
}
