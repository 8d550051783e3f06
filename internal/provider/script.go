// ABOUTME: Scripted Provider for tests, playing back predefined steps
// ABOUTME: Streams text word by word to exercise delta accumulation in callers

package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// ScriptedStep is one predefined model step.
type ScriptedStep struct {
	Text      string
	Reasoning string
	ToolCalls []ToolCall
	Err       error
}

// ScriptProvider implements Provider by playing back a fixed sequence of
// steps. Each StreamStep call consumes the next step and records the
// conversation it was asked to run.
type ScriptProvider struct {
	mu    sync.Mutex
	steps []ScriptedStep
	next  int

	// Calls holds the conversation snapshot of each StreamStep invocation;
	// Opts holds the step options it was invoked with, index-aligned.
	Calls [][]Message
	Opts  []StepOptions
}

// NewScriptProvider builds a provider that plays back steps in order.
func NewScriptProvider(steps ...ScriptedStep) *ScriptProvider {
	return &ScriptProvider{steps: steps}
}

func (p *ScriptProvider) StreamStep(ctx context.Context, msgs []Message, _ []ToolDef, opts StepOptions, onDelta func(text string) error) (*StepResult, error) {
	p.mu.Lock()
	snapshot := make([]Message, len(msgs))
	copy(snapshot, msgs)
	p.Calls = append(p.Calls, snapshot)
	p.Opts = append(p.Opts, opts)

	if p.next >= len(p.steps) {
		p.mu.Unlock()
		return nil, fmt.Errorf("script exhausted after %d steps", len(p.steps))
	}
	step := p.steps[p.next]
	p.next++
	p.mu.Unlock()

	if step.Err != nil {
		return nil, step.Err
	}

	if onDelta != nil && step.Text != "" {
		words := strings.SplitAfter(step.Text, " ")
		for _, w := range words {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if err := onDelta(w); err != nil {
				return nil, err
			}
		}
	}

	finish := "stop"
	if len(step.ToolCalls) > 0 {
		finish = "tool_calls"
	}
	return &StepResult{
		Text:         step.Text,
		Reasoning:    step.Reasoning,
		ToolCalls:    step.ToolCalls,
		FinishReason: finish,
	}, nil
}
