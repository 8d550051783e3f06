// Package store provides persistence for ember-chat.
//
// # Overview
//
// The store owns three durable entities:
//
//   - Chat: a conversation session, exclusively owned by one user
//   - Message: one message within a chat, with typed content parts
//   - StreamRegistration: one generation attempt, for resume lookup
//
// # Message identity
//
// A message id is stable for its logical turn. During a multi-step tool
// turn the assistant message may be written in an intermediate state and
// rewritten in place as tool calls resolve; UpsertMessage keys strictly on
// id so replays never duplicate a message, and never depend on position.
//
// # Stream registry
//
// stream_ids is append-only. LatestStreamID answers "which stream is the
// chat's current generation" for reconnecting clients; rows are removed
// only by the chat-delete cascade. The broker, not the registry, answers
// whether that stream is still live.
//
// # Implementation
//
// SQLiteStore uses modernc.org/sqlite (pure Go, no cgo) with WAL mode and
// foreign keys enabled. The schema is created on open. Timestamps are
// stored as RFC3339Nano strings in UTC so in-turn message ordering
// survives the round trip.
package store
