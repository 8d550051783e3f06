// ABOUTME: Package documentation for the stream broker
// ABOUTME: Explains the producer/consumer contract and the two implementations

// Package stream provides the resumable delivery layer between a running
// generation and the clients watching it.
//
// # Overview
//
// A generation turn opens exactly one stream and emits its output as an
// ordered sequence of opaque chunks. Any number of consumers can attach,
// at any point during or shortly after the turn, and each one receives the
// full chunk sequence from the beginning: the already-buffered prefix is
// replayed, then live chunks follow. Closing the producer ends every
// consumer's channel; the buffer is retained for a TTL afterwards so a
// client that reconnects moments after completion can still replay it.
//
// Two implementations are provided. MemoryBroker keeps all state
// in-process and is used for single-node deployments and tests.
// RedisBroker keeps chunk buffers and stream state in Redis so a client
// can resume against any server instance.
//
// The broker holds no chat semantics. It does not know what a chunk
// contains, which chat a stream belongs to, or whether a turn succeeded;
// those live in the store and the chat service.
package stream
