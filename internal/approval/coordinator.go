// ABOUTME: In-process coordinator pairing gated tool calls with user decisions
// ABOUTME: One-shot state machine per approval id, conflict on double resolution

package approval

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

var (
	// ErrNotFound is returned when resolving an approval id that was never requested
	ErrNotFound = errors.New("approval not found")

	// ErrAlreadyResolved is returned when resolving an approval a second time
	ErrAlreadyResolved = errors.New("approval already resolved")
)

// Decision is the user's answer to a pending approval.
type Decision struct {
	Approved bool
	Reason   string
}

type pending struct {
	chatID   string
	decision chan Decision
	resolved bool
}

// Coordinator routes approval decisions from the HTTP surface to the
// generation turn waiting on them. Each approval id transitions exactly
// once from requested to resolved; a second resolution is rejected so two
// racing clients cannot both believe their answer won.
//
// State is in-process. A decision must land on the instance running the
// suspended turn; see the deployment notes in DESIGN.md.
type Coordinator struct {
	mu     sync.Mutex
	byID   map[string]*pending
	logger *slog.Logger
}

// NewCoordinator creates an empty coordinator. Pass nil logger for default.
func NewCoordinator(logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		byID:   make(map[string]*pending),
		logger: logger.With("component", "approval"),
	}
}

// Request registers approvalID as awaiting a decision and returns the
// channel the decision will arrive on. The caller is the suspended turn;
// it must call Release when it stops waiting, whatever the outcome.
func (c *Coordinator) Request(approvalID, chatID string) <-chan Decision {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := &pending{
		chatID:   chatID,
		decision: make(chan Decision, 1),
	}
	c.byID[approvalID] = p

	c.logger.Debug("approval requested", "approval_id", approvalID, "chat_id", chatID)
	return p.decision
}

// ChatID returns the chat whose turn is waiting on approvalID, so callers
// can check the decider against the chat owner before resolving. Returns
// ErrNotFound for unknown ids.
func (c *Coordinator) ChatID(approvalID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.byID[approvalID]
	if !ok {
		return "", ErrNotFound
	}
	return p.chatID, nil
}

// Resolve records the user's decision for approvalID. Returns ErrNotFound
// for unknown ids and ErrAlreadyResolved when a decision already landed.
func (c *Coordinator) Resolve(approvalID string, d Decision) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.byID[approvalID]
	if !ok {
		return ErrNotFound
	}
	if p.resolved {
		return ErrAlreadyResolved
	}

	p.resolved = true
	p.decision <- d

	c.logger.Info("approval resolved",
		"approval_id", approvalID,
		"chat_id", p.chatID,
		"approved", d.Approved)
	return nil
}

// Wait blocks until a decision arrives for the channel returned by Request,
// or ctx ends. Turn timeout and client-initiated stop both flow through ctx.
func Wait(ctx context.Context, decision <-chan Decision) (Decision, error) {
	select {
	case d := <-decision:
		return d, nil
	case <-ctx.Done():
		return Decision{}, ctx.Err()
	}
}

// Release drops approvalID. After release the id resolves as ErrNotFound;
// the turn that requested it is no longer listening either way.
func (c *Coordinator) Release(approvalID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byID, approvalID)
}
