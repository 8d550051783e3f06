// ABOUTME: Package documentation for the chat service
// ABOUTME: Describes turn lifecycle, persistence guarantees, and reconnection semantics

// Package chat runs generation turns and resolves reconnections.
//
// # Overview
//
// A turn starts when a user message arrives. The message is persisted
// before any generation work begins, a stream id is registered for the
// chat, and the turn then runs on a background goroutine whose lifetime
// is bound to the configured turn budget. Client disconnects never stop
// a turn; clients are just consumers of the turn's stream.
//
// The turn is a bounded loop of model steps. Each step streams text
// deltas and may request tool calls. Tools flagged as needing approval
// suspend the turn until the user resolves the request through the
// approval coordinator; denial feeds a structured denial result back to
// the model and the loop continues. All accumulated output is upserted
// under a single assistant message id, so partial saves update in place
// and never duplicate the message.
//
// Reconnection is an explicit three-state decision: attach to the live
// stream, deliver a one-shot catch-up of a just-finished turn, or report
// that nothing is available. The catch-up window is configurable.
package chat
