// ABOUTME: In-process Broker implementation for single-node deployments and tests
// ABOUTME: Buffered replay plus live fan-out under one per-stream mutex, TTL sweep for done streams

package stream

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// consumerBufferSize is the live-delivery channel buffer per consumer.
	// A consumer that falls this far behind is detached rather than letting
	// it block the producer; it can re-attach through the resume path.
	consumerBufferSize = 256
)

// MemoryBroker implements Broker with in-process state. Resuming only works
// against the instance that ran the generation; multi-node deployments use
// the Redis broker instead.
type MemoryBroker struct {
	mu      sync.Mutex
	streams map[string]*memStream
	ttl     time.Duration
	logger  *slog.Logger
	stop    chan struct{}
	stopped sync.Once
}

type memStream struct {
	mu       sync.Mutex
	chunks   [][]byte
	subs     map[string]chan []byte
	done     bool
	closedAt time.Time
}

// NewMemoryBroker creates a broker whose done streams are retained for ttl
// after the producer closes. Pass nil logger for default.
func NewMemoryBroker(ttl time.Duration, logger *slog.Logger) *MemoryBroker {
	if logger == nil {
		logger = slog.Default()
	}
	b := &MemoryBroker{
		streams: make(map[string]*memStream),
		ttl:     ttl,
		logger:  logger.With("component", "stream-broker"),
		stop:    make(chan struct{}),
	}
	go b.sweepLoop()
	return b
}

// Open claims the producer side of streamID.
func (b *MemoryBroker) Open(_ context.Context, streamID string) (Producer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.streams[streamID]; exists {
		return nil, ErrAlreadyOpen
	}

	ms := &memStream{
		subs: make(map[string]chan []byte),
	}
	b.streams[streamID] = ms

	b.logger.Debug("stream opened", "stream_id", streamID)
	return &memProducer{broker: b, stream: ms, streamID: streamID}, nil
}

// Attach adds a consumer to streamID. The buffered chunks are loaded and the
// subscription registered under the stream lock, so a consumer observes every
// chunk exactly once regardless of when it attaches relative to Emit calls.
func (b *MemoryBroker) Attach(_ context.Context, streamID string) (Consumer, error) {
	b.mu.Lock()
	ms, exists := b.streams[streamID]
	b.mu.Unlock()
	if !exists {
		return nil, ErrNotFound
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	ch := make(chan []byte, len(ms.chunks)+consumerBufferSize)
	for _, c := range ms.chunks {
		ch <- c
	}

	if ms.done {
		close(ch)
		return &memConsumer{ch: ch}, nil
	}

	subID := uuid.New().String()
	ms.subs[subID] = ch
	return &memConsumer{
		ch: ch,
		detach: func() {
			ms.mu.Lock()
			defer ms.mu.Unlock()
			if sub, ok := ms.subs[subID]; ok {
				delete(ms.subs, subID)
				close(sub)
			}
		},
	}, nil
}

// Status reports the lifecycle state of streamID.
func (b *MemoryBroker) Status(_ context.Context, streamID string) (Status, error) {
	b.mu.Lock()
	ms, exists := b.streams[streamID]
	b.mu.Unlock()
	if !exists {
		return StatusNotFound, nil
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.done {
		return StatusDone, nil
	}
	return StatusOpen, nil
}

// Close stops the TTL sweeper and drops all stream state.
func (b *MemoryBroker) Close() error {
	b.stopped.Do(func() { close(b.stop) })

	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ms := range b.streams {
		ms.mu.Lock()
		for subID, ch := range ms.subs {
			delete(ms.subs, subID)
			close(ch)
		}
		ms.done = true
		ms.mu.Unlock()
		delete(b.streams, id)
	}
	return nil
}

// sweepLoop removes done streams once their retention TTL has elapsed.
func (b *MemoryBroker) sweepLoop() {
	interval := b.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			b.sweep(time.Now())
		}
	}
}

func (b *MemoryBroker) sweep(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ms := range b.streams {
		ms.mu.Lock()
		expired := ms.done && now.Sub(ms.closedAt) > b.ttl
		ms.mu.Unlock()
		if expired {
			delete(b.streams, id)
			b.logger.Debug("stream expired", "stream_id", id)
		}
	}
}

// memProducer is the single writer of one in-memory stream.
type memProducer struct {
	broker   *MemoryBroker
	stream   *memStream
	streamID string
}

// Emit buffers the chunk and fans it out to all attached consumers.
// A consumer whose buffer is full is detached so it cannot stall the
// producer; the chunk order seen by every remaining consumer is identical.
func (p *memProducer) Emit(_ context.Context, chunk []byte) error {
	ms := p.stream

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.done {
		return ErrClosed
	}

	buf := make([]byte, len(chunk))
	copy(buf, chunk)
	ms.chunks = append(ms.chunks, buf)

	for subID, ch := range ms.subs {
		select {
		case ch <- buf:
		default:
			delete(ms.subs, subID)
			close(ch)
			p.broker.logger.Warn("detached slow stream consumer",
				"stream_id", p.streamID,
				"sub_id", subID)
		}
	}
	return nil
}

// Close marks the stream done and ends all consumers. Idempotent.
func (p *memProducer) Close(_ context.Context) error {
	ms := p.stream

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.done {
		return nil
	}
	ms.done = true
	ms.closedAt = time.Now()

	for subID, ch := range ms.subs {
		delete(ms.subs, subID)
		close(ch)
	}

	p.broker.logger.Debug("stream closed",
		"stream_id", p.streamID,
		"chunks", len(ms.chunks))
	return nil
}

// memConsumer is one reader of an in-memory stream.
type memConsumer struct {
	ch     chan []byte
	detach func()
	once   sync.Once
}

func (c *memConsumer) Chunks() <-chan []byte {
	return c.ch
}

func (c *memConsumer) Close() {
	c.once.Do(func() {
		if c.detach != nil {
			c.detach()
		}
	})
}
