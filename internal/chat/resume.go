// ABOUTME: Reconnection resolver deciding between live attach, recent catch-up, and gone
// ABOUTME: The three states are explicit; callers never infer them from nil-ness

package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/2389/ember-chat/internal/store"
	"github.com/2389/ember-chat/internal/stream"
)

// ResumeState is the outcome of a reconnection attempt.
type ResumeState int

const (
	// ResumeGone means there is nothing to deliver; respond with no content.
	ResumeGone ResumeState = iota
	// ResumeLive means a producer is still emitting; attach and pipe.
	ResumeLive
	// ResumeRecent means the turn just finished; deliver one catch-up frame.
	ResumeRecent
)

// String returns the state name for logging.
func (s ResumeState) String() string {
	switch s {
	case ResumeLive:
		return "live"
	case ResumeRecent:
		return "recent"
	default:
		return "gone"
	}
}

// Resume is the resolver's answer. Events is set for Live, Catchup for
// Recent; Gone carries neither.
type Resume struct {
	State    ResumeState
	StreamID string
	Events   stream.Consumer
	Catchup  []byte
}

// Resume resolves what a reconnecting client should receive for a chat,
// checking the states in order: a live stream wins over a recent finish,
// and anything older than the resume window is gone.
func (s *Service) Resume(ctx context.Context, ownerID, chatID string) (*Resume, error) {
	if _, err := s.getOwnedChat(ctx, ownerID, chatID); err != nil {
		return nil, err
	}

	streamID, err := s.store.LatestStreamID(ctx, chatID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("resolving latest stream: %w", err)
	}

	if streamID != "" {
		status, err := s.broker.Status(ctx, streamID)
		if err != nil {
			return nil, fmt.Errorf("checking stream status: %w", err)
		}
		if status == stream.StatusOpen {
			consumer, err := s.broker.Attach(ctx, streamID)
			if err != nil && !errors.Is(err, stream.ErrNotFound) {
				return nil, fmt.Errorf("attaching to live stream: %w", err)
			}
			if err == nil {
				s.logger.Debug("resume resolved", "chat_id", chatID, "state", ResumeLive)
				return &Resume{State: ResumeLive, StreamID: streamID, Events: consumer}, nil
			}
			// Lost a race with stream expiry; fall through to the recent check
		}
	}

	latest, err := s.store.GetLatestMessage(ctx, chatID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &Resume{State: ResumeGone}, nil
		}
		return nil, fmt.Errorf("loading latest message: %w", err)
	}

	// Freshness is measured from the last rewrite of the assistant message,
	// which for a finished turn is its completion time. The first insert can
	// be much older when the turn spent a long time in tool or approval
	// waits, and must not count against the window.
	if latest.Role == store.RoleAssistant && time.Since(latest.UpdatedAt) <= s.opts.ResumeWindow {
		frame, err := encodeEvent(EventAppendMessage, wireMessage{
			ID:        latest.ID,
			Role:      latest.Role,
			Parts:     latest.Parts,
			CreatedAt: latest.CreatedAt,
		})
		if err != nil {
			return nil, err
		}
		s.logger.Debug("resume resolved", "chat_id", chatID, "state", ResumeRecent)
		return &Resume{State: ResumeRecent, StreamID: streamID, Catchup: frame}, nil
	}

	s.logger.Debug("resume resolved", "chat_id", chatID, "state", ResumeGone)
	return &Resume{State: ResumeGone}, nil
}

// wireMessage is the client-facing JSON shape of a persisted message.
type wireMessage struct {
	ID        string       `json:"id"`
	Role      string       `json:"role"`
	Parts     []store.Part `json:"parts"`
	CreatedAt time.Time    `json:"createdAt"`
}
