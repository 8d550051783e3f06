// ABOUTME: Broker contract for resumable generation streams
// ABOUTME: One producer, N consumers, ordered fan-out, TTL-bounded retention after close

package stream

import (
	"context"
	"errors"
)

var (
	// ErrAlreadyOpen is returned when Open is called twice for the same stream id
	ErrAlreadyOpen = errors.New("stream already open")

	// ErrNotFound is returned when attaching to an unknown or expired stream
	ErrNotFound = errors.New("stream not found")

	// ErrClosed is returned when emitting to a closed producer
	ErrClosed = errors.New("stream closed")
)

// Status describes the broker-side lifecycle of a stream.
type Status int

const (
	// StatusNotFound means the stream id is unknown or its retention expired
	StatusNotFound Status = iota
	// StatusOpen means the producer is still emitting
	StatusOpen
	// StatusDone means the producer closed; buffered chunks remain until TTL expiry
	StatusDone
)

// String returns the status name for logging.
func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusDone:
		return "done"
	default:
		return "not_found"
	}
}

// Producer is the single writer of a stream. Emit buffers the chunk for
// late-attaching consumers and fans it out to everyone currently attached,
// in emission order. Close marks the stream done; the buffer is retained
// for the broker's TTL so short-lived reconnects can replay it.
type Producer interface {
	Emit(ctx context.Context, chunk []byte) error
	Close(ctx context.Context) error
}

// Consumer is one reader of a stream. Chunks yields the buffered chunks
// already emitted, then live chunks, in the exact order the producer
// emitted them; the channel is closed at end-of-stream. Close detaches
// without affecting the producer or other consumers.
type Consumer interface {
	Chunks() <-chan []byte
	Close()
}

// Broker tracks per-stream state in a store shared by all consumers (and,
// for the Redis implementation, by all server instances). It never owns
// the question "did this turn happen", only "can I resume watching it".
type Broker interface {
	// Open claims the producer side of a new stream.
	// Returns ErrAlreadyOpen if the id was opened before.
	Open(ctx context.Context, streamID string) (Producer, error)

	// Attach adds a consumer to a stream. Attaching to a done stream
	// replays the buffer and ends immediately. Returns ErrNotFound for
	// unknown or expired ids.
	Attach(ctx context.Context, streamID string) (Consumer, error)

	// Status reports whether a stream is open, done, or gone.
	Status(ctx context.Context, streamID string) (Status, error)

	// Close releases broker resources. Producers and consumers of this
	// broker are invalid afterwards.
	Close() error
}
