// ABOUTME: Package documentation for the HTTP gateway
// ABOUTME: Endpoint map and delivery semantics

// Package gateway exposes the chat service over HTTP.
//
// # Overview
//
// Endpoints (all JWT-authenticated except /healthz):
//
//	POST   /api/chat               start a turn, stream its events (SSE)
//	GET    /api/chat/{id}/stream   resume: live SSE, recent catch-up, or 204
//	GET    /api/chat/{id}/messages persisted history
//	POST   /api/chat/{id}/stop     cancel the running turn
//	DELETE /api/chat/{id}          delete chat, messages, stream registry
//	GET    /api/chats              list the caller's chats
//	POST   /api/approvals          resolve a pending tool approval
//
// Handlers never own generation state. They pipe pre-encoded frames from
// broker consumers, so a client dropping its connection has no effect on
// the turn, and any number of clients can watch the same turn.
package gateway
