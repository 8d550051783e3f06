// ABOUTME: Bounded multi-step generation loop with approval-gated tool execution
// ABOUTME: Accumulated output is upserted under one message id so partials never duplicate

package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/2389/ember-chat/internal/approval"
	"github.com/2389/ember-chat/internal/provider"
	"github.com/2389/ember-chat/internal/store"
	"github.com/2389/ember-chat/internal/stream"
)

// turn is one generation attempt. It owns the stream producer and the
// assistant message being built; both outlive any client connection.
type turn struct {
	svc      *Service
	chat     *store.Chat
	streamID string
	producer stream.Producer
	history  []provider.Message
	stepOpts provider.StepOptions
	logger   *slog.Logger

	messageID string
	parts     []store.Part
}

func (t *turn) run(ctx context.Context) {
	t.messageID = uuid.New().String()
	defs := t.svc.tools.Defs()

	reason := FinishStepLimit
	for step := 1; step <= t.svc.opts.MaxSteps; step++ {
		var textBuf strings.Builder
		result, err := t.svc.provider.StreamStep(ctx, t.history, defs, t.stepOpts, func(delta string) error {
			textBuf.WriteString(delta)
			return t.emit(ctx, EventTextDelta, textDeltaPayload{Delta: delta})
		})
		if err != nil {
			reason = t.failStep(ctx, err, textBuf.String())
			break
		}

		if result.Reasoning != "" {
			t.parts = append(t.parts, store.Part{Type: store.PartTypeReasoning, Text: result.Reasoning})
			t.emit(ctx, EventReasoningDelta, textDeltaPayload{Delta: result.Reasoning})
		}
		if result.Text != "" {
			t.parts = append(t.parts, store.Part{Type: store.PartTypeText, Text: result.Text})
		}
		t.history = append(t.history, provider.Message{
			Role:      provider.RoleAssistant,
			Text:      result.Text,
			ToolCalls: result.ToolCalls,
		})

		if len(result.ToolCalls) == 0 {
			reason = FinishStop
			break
		}

		results, err := t.runToolCalls(ctx, result.ToolCalls)
		if err != nil {
			// Only cancellation escapes the tool loop
			reason = FinishStopped
			break
		}
		t.history = append(t.history, provider.Message{
			Role:        provider.RoleTool,
			ToolResults: results,
		})

		t.persist(ctx)
	}

	t.finish(reason)
}

// failStep handles a provider error mid-step. Text streamed before the
// failure is kept; cancellation is a stop, not an error.
func (t *turn) failStep(ctx context.Context, err error, partialText string) string {
	if partialText != "" {
		t.parts = append(t.parts, store.Part{Type: store.PartTypeText, Text: partialText})
	}

	if ctx.Err() != nil {
		t.logger.Info("turn cancelled", "cause", context.Cause(ctx))
		return FinishStopped
	}

	t.logger.Error("provider step failed", "error", err)
	t.emit(ctx, EventError, errorPayload{ErrorText: err.Error()})
	return FinishError
}

// runToolCalls executes the step's tool calls in order, suspending on gated
// tools until the user decides. Returns an error only on cancellation.
func (t *turn) runToolCalls(ctx context.Context, calls []provider.ToolCall) ([]provider.ToolResult, error) {
	results := make([]provider.ToolResult, 0, len(calls))
	for _, call := range calls {
		result, err := t.runToolCall(ctx, call)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, nil
}

func (t *turn) runToolCall(ctx context.Context, call provider.ToolCall) (provider.ToolResult, error) {
	partIdx := len(t.parts)
	t.parts = append(t.parts, store.Part{
		Type:       store.ToolPartPrefix + call.Name,
		ToolCallID: call.ID,
		State:      store.ToolStateInputAvailable,
		Input:      call.Arguments,
	})
	t.emit(ctx, EventToolInput, toolInputPayload{
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Input:      call.Arguments,
	})

	tool := t.svc.tools.Get(call.Name)
	if tool == nil {
		return t.toolError(ctx, partIdx, call, "unknown tool: "+call.Name), nil
	}

	if tool.NeedsApproval {
		decision, err := t.awaitApproval(ctx, partIdx, call)
		if err != nil {
			return provider.ToolResult{}, err
		}
		if !decision.Approved {
			return t.toolDenied(ctx, partIdx, call, decision.Reason), nil
		}
	}

	output, err := tool.Execute(ctx, call.Arguments)
	if err != nil {
		if ctx.Err() != nil {
			return provider.ToolResult{}, ctx.Err()
		}
		return t.toolError(ctx, partIdx, call, err.Error()), nil
	}

	t.parts[partIdx].State = store.ToolStateOutputAvailable
	t.parts[partIdx].Output = output
	t.emit(ctx, EventToolOutput, toolOutputPayload{
		ToolCallID: call.ID,
		Output:     output,
	})

	return provider.ToolResult{
		ToolCallID: call.ID,
		Name:       call.Name,
		Content:    string(output),
	}, nil
}

// awaitApproval suspends the turn until the user resolves the gated call.
// The pending state is persisted first so a reconnecting client sees the
// suspended tool part even if this instance restarts.
func (t *turn) awaitApproval(ctx context.Context, partIdx int, call provider.ToolCall) (approval.Decision, error) {
	approvalID := uuid.New().String()
	t.parts[partIdx].State = store.ToolStateApprovalRequested
	t.parts[partIdx].Approval = &store.Approval{ID: approvalID}
	t.persist(ctx)

	decisionCh := t.svc.approvals.Request(approvalID, t.chat.ID)
	defer t.svc.approvals.Release(approvalID)

	t.emit(ctx, EventApprovalRequested, approvalRequestedPayload{
		ToolCallID: call.ID,
		ToolName:   call.Name,
		ApprovalID: approvalID,
		Input:      call.Arguments,
	})
	t.logger.Info("tool awaiting approval",
		"tool", call.Name,
		"approval_id", approvalID)

	decision, err := approval.Wait(ctx, decisionCh)
	if err != nil {
		return approval.Decision{}, err
	}

	approved := decision.Approved
	t.parts[partIdx].State = store.ToolStateApprovalResponded
	t.parts[partIdx].Approval.Approved = &approved
	t.parts[partIdx].Approval.Reason = decision.Reason
	t.emit(ctx, EventApprovalResponded, approvalRespondedPayload{
		ToolCallID: call.ID,
		ApprovalID: approvalID,
		Approved:   approved,
		Reason:     decision.Reason,
	})
	return decision, nil
}

// toolDenied records a denial. The model sees a structured denial result
// and the loop continues.
func (t *turn) toolDenied(ctx context.Context, partIdx int, call provider.ToolCall, reason string) provider.ToolResult {
	t.parts[partIdx].State = store.ToolStateOutputDenied
	t.emit(ctx, EventToolDenied, toolDeniedPayload{
		ToolCallID: call.ID,
		Reason:     reason,
	})

	if reason == "" {
		reason = "the user denied this tool call"
	}
	content, _ := json.Marshal(map[string]any{"denied": true, "reason": reason})
	return provider.ToolResult{ToolCallID: call.ID, Name: call.Name, Content: string(content)}
}

// toolError records an execution failure as the tool's result. The turn
// keeps going; the model decides how to react.
func (t *turn) toolError(ctx context.Context, partIdx int, call provider.ToolCall, errText string) provider.ToolResult {
	t.logger.Warn("tool execution failed", "tool", call.Name, "error", errText)

	t.parts[partIdx].State = store.ToolStateOutputError
	t.parts[partIdx].ErrorText = errText
	t.emit(ctx, EventToolError, toolErrorPayload{
		ToolCallID: call.ID,
		ErrorText:  errText,
	})

	content, _ := json.Marshal(map[string]string{"error": errText})
	return provider.ToolResult{ToolCallID: call.ID, Name: call.Name, Content: string(content)}
}

// emit encodes and writes one event frame to the stream. Emission failures
// are logged, never fatal; persistence is the source of truth.
func (t *turn) emit(ctx context.Context, eventType string, payload any) error {
	frame, err := encodeEvent(eventType, payload)
	if err != nil {
		t.logger.Error("encoding event failed", "event", eventType, "error", err)
		return nil
	}
	if err := t.producer.Emit(ctx, frame); err != nil && !errors.Is(err, stream.ErrClosed) {
		t.logger.Warn("emitting event failed", "event", eventType, "error", err)
	}
	return nil
}

// persist upserts the assistant message with the parts accumulated so far.
// Uses a detached context when the turn context is already gone.
func (t *turn) persist(ctx context.Context) {
	if len(t.parts) == 0 {
		return
	}

	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()
	}

	msg := &store.Message{
		ID:     t.messageID,
		ChatID: t.chat.ID,
		Role:   store.RoleAssistant,
		Parts:  t.parts,
	}
	if err := t.svc.store.UpsertMessage(ctx, msg); err != nil {
		t.logger.Error("persisting assistant message failed", "error", err)
	}
}

// finish emits the terminal event, closes the producer so consumers reach
// end-of-stream, and persists the final message state. Runs on a detached
// context so a cancelled or expired turn still winds down cleanly.
func (t *turn) finish(reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	t.emit(ctx, EventFinish, finishPayload{Reason: reason})
	if err := t.producer.Close(ctx); err != nil {
		t.logger.Warn("closing stream failed", "error", err)
	}

	t.persist(ctx)

	t.logger.Info("turn finished", "reason", reason, "parts", len(t.parts))
}
