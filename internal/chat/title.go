// ABOUTME: Asynchronous chat title generation from the first user message
// ABOUTME: Updates the chat row and emits a transient title event to attached clients

package chat

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/2389/ember-chat/internal/provider"
	"github.com/2389/ember-chat/internal/stream"
)

const titlePrompt = "Summarize the user's message as a chat title. " +
	"At most six words, plain text, no quotes, no trailing punctuation, " +
	"same language as the message."

const maxTitleLen = 80

// generateTitle runs detached from the turn. A failed title never affects
// the generation; the chat just keeps an empty title until the next attempt.
func (s *Service) generateTitle(chatID, userText string, producer stream.Producer) {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout*6)
	defer cancel()

	result, err := s.provider.StreamStep(ctx, []provider.Message{
		{Role: provider.RoleSystem, Text: titlePrompt},
		{Role: provider.RoleUser, Text: userText},
	}, nil, provider.StepOptions{}, nil)
	if err != nil {
		s.logger.Warn("title generation failed", "chat_id", chatID, "error", err)
		return
	}

	title := cleanTitle(result.Text)
	if title == "" {
		return
	}

	if err := s.store.UpdateChatTitle(ctx, chatID, title); err != nil {
		s.logger.Warn("saving chat title failed", "chat_id", chatID, "error", err)
		return
	}

	// Transient event; clients not attached right now pick the title up
	// from the chat list instead.
	frame, err := encodeEvent(EventChatTitle, chatTitlePayload{Title: title})
	if err == nil {
		_ = producer.Emit(ctx, frame)
	}

	s.logger.Debug("chat title generated", "chat_id", chatID, "title", title)
}

func cleanTitle(raw string) string {
	title := strings.TrimSpace(raw)
	title = strings.Trim(title, `"'`)
	title = strings.ReplaceAll(title, "\n", " ")
	if len(title) > maxTitleLen {
		// Cut on a rune boundary; maxTitleLen is a byte limit and CJK
		// titles would otherwise split mid-rune.
		cut := maxTitleLen
		for cut > 0 && !utf8.RuneStart(title[cut]) {
			cut--
		}
		title = strings.TrimSpace(title[:cut])
	}
	return title
}
