// ABOUTME: Broker wrapper that degrades to an in-process fallback when the primary fails
// ABOUTME: Keeps turns running with local-only delivery instead of aborting on broker outages

package stream

import (
	"context"
	"errors"
	"log/slog"
)

// FallbackBroker serves streams from a primary broker and falls back to a
// secondary, in-process one when the primary is absent or unreachable. A
// stream that degrades is delivered local-only and is not resumable from
// other instances; the turn itself is unaffected.
type FallbackBroker struct {
	primary  Broker
	fallback Broker
	logger   *slog.Logger
}

// NewFallbackBroker wraps primary with fallback. primary may be nil, in
// which case every stream is served by the fallback.
func NewFallbackBroker(primary, fallback Broker, logger *slog.Logger) *FallbackBroker {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackBroker{
		primary:  primary,
		fallback: fallback,
		logger:   logger.With("component", "stream-broker"),
	}
}

// Open claims the stream on the primary broker, degrading to the fallback
// on infrastructure errors. ErrAlreadyOpen is a contract violation by the
// caller and is never masked by degradation.
func (b *FallbackBroker) Open(ctx context.Context, streamID string) (Producer, error) {
	if b.primary == nil {
		return b.fallback.Open(ctx, streamID)
	}

	p, err := b.primary.Open(ctx, streamID)
	if err == nil {
		return p, nil
	}
	if errors.Is(err, ErrAlreadyOpen) {
		return nil, err
	}

	b.logger.Warn("primary stream broker unavailable, degrading to local delivery",
		"stream_id", streamID,
		"error", err)
	return b.fallback.Open(ctx, streamID)
}

// Attach looks for the stream on the primary first, then the fallback.
func (b *FallbackBroker) Attach(ctx context.Context, streamID string) (Consumer, error) {
	if b.primary != nil {
		c, err := b.primary.Attach(ctx, streamID)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, ErrNotFound) {
			b.logger.Warn("primary stream broker attach failed",
				"stream_id", streamID,
				"error", err)
		}
	}
	return b.fallback.Attach(ctx, streamID)
}

// Status reports the stream state from whichever broker knows the stream.
func (b *FallbackBroker) Status(ctx context.Context, streamID string) (Status, error) {
	if b.primary != nil {
		status, err := b.primary.Status(ctx, streamID)
		if err == nil && status != StatusNotFound {
			return status, nil
		}
		if err != nil {
			b.logger.Warn("primary stream broker status failed",
				"stream_id", streamID,
				"error", err)
		}
	}
	return b.fallback.Status(ctx, streamID)
}

// Close releases both brokers.
func (b *FallbackBroker) Close() error {
	var firstErr error
	if b.primary != nil {
		firstErr = b.primary.Close()
	}
	if err := b.fallback.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
