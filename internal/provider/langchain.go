// ABOUTME: langchaingo-backed Provider speaking the OpenAI-compatible chat API
// ABOUTME: Converts between neutral conversation types and llms content parts

package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// LangChainProvider implements Provider on an OpenAI-compatible endpoint.
type LangChainProvider struct {
	model     llms.Model
	modelName string
	logger    *slog.Logger
}

// NewLangChainProvider builds a provider for the configured endpoint.
// BaseURL is optional; an empty value targets the OpenAI API.
func NewLangChainProvider(baseURL, apiKey, modelName string, logger *slog.Logger) (*LangChainProvider, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := []openai.Option{
		openai.WithToken(apiKey),
		openai.WithModel(modelName),
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}

	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating openai client: %w", err)
	}

	return &LangChainProvider{
		model:     model,
		modelName: modelName,
		logger:    logger.With("component", "provider", "model", modelName),
	}, nil
}

// StreamStep runs one model step, streaming text fragments through onDelta.
func (p *LangChainProvider) StreamStep(ctx context.Context, msgs []Message, tools []ToolDef, stepOpts StepOptions, onDelta func(text string) error) (*StepResult, error) {
	content := toLangChainMessages(msgs)

	opts := []llms.CallOption{}
	if model := resolveModel(p.modelName, stepOpts); model != p.modelName {
		opts = append(opts, llms.WithModel(model))
	}
	if len(tools) > 0 {
		opts = append(opts, llms.WithTools(toLangChainTools(tools)))
	}
	if onDelta != nil {
		opts = append(opts, llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			return onDelta(string(chunk))
		}))
	}

	resp, err := p.model.GenerateContent(ctx, content, opts...)
	if err != nil {
		return nil, fmt.Errorf("generating content: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("model returned no choices")
	}

	choice := resp.Choices[0]
	result := &StepResult{
		Text:         choice.Content,
		Reasoning:    choice.ReasoningContent,
		FinishReason: choice.StopReason,
	}
	for _, tc := range choice.ToolCalls {
		if tc.FunctionCall == nil {
			continue
		}
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.FunctionCall.Name,
			Arguments: json.RawMessage(tc.FunctionCall.Arguments),
		})
	}

	p.logger.Debug("step completed",
		"text_len", len(result.Text),
		"tool_calls", len(result.ToolCalls),
		"finish_reason", result.FinishReason)
	return result, nil
}

// resolveModel applies the per-step overrides to the configured model name.
// Web search uses the ":online" model variant the OpenAI-compatible routers
// expose.
func resolveModel(base string, opts StepOptions) string {
	model := base
	if opts.Model != "" {
		model = opts.Model
	}
	if opts.WebSearch {
		model += ":online"
	}
	return model
}

func toLangChainMessages(msgs []Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(msgs))
	for _, m := range msgs {
		mc := llms.MessageContent{Role: toLangChainRole(m.Role)}

		if m.Text != "" {
			mc.Parts = append(mc.Parts, llms.TextContent{Text: m.Text})
		}
		for _, tc := range m.ToolCalls {
			mc.Parts = append(mc.Parts, llms.ToolCall{
				ID:   tc.ID,
				Type: "function",
				FunctionCall: &llms.FunctionCall{
					Name:      tc.Name,
					Arguments: string(tc.Arguments),
				},
			})
		}
		for _, tr := range m.ToolResults {
			mc.Parts = append(mc.Parts, llms.ToolCallResponse{
				ToolCallID: tr.ToolCallID,
				Name:       tr.Name,
				Content:    tr.Content,
			})
		}

		out = append(out, mc)
	}
	return out
}

func toLangChainRole(r Role) llms.ChatMessageType {
	switch r {
	case RoleSystem:
		return llms.ChatMessageTypeSystem
	case RoleAssistant:
		return llms.ChatMessageTypeAI
	case RoleTool:
		return llms.ChatMessageTypeTool
	default:
		return llms.ChatMessageTypeHuman
	}
}

func toLangChainTools(tools []ToolDef) []llms.Tool {
	out := make([]llms.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}
	return out
}
