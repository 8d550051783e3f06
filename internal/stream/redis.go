// ABOUTME: Redis-backed Broker implementation for multi-node deployments
// ABOUTME: Chunk list + state key with TTL per stream, pub/sub fan-out with indexed catch-up

package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// liveTTL bounds how long an open stream's keys survive without a
	// Close. Generations are turn-budget bounded well below this; it only
	// matters when a producer process dies mid-turn.
	liveTTL = 30 * time.Minute

	stateOpen = "open"
	stateDone = "done"

	// doneSignal is published on the stream channel when the producer closes
	doneSignal = "done"
)

// RedisBroker implements Broker on a shared Redis instance, making streams
// resumable from any server instance. Chunks live in a list keyed by stream
// id; live fan-out uses pub/sub with a chunk index so consumers can stitch
// the replayed list and the live feed together without gaps or duplicates.
type RedisBroker struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisBroker connects to Redis and verifies the connection. Done streams
// are retained for ttl after the producer closes. Returns an error when Redis
// is unreachable; callers treat that as "broker unavailable" and degrade to
// non-resumable delivery rather than failing the service.
func NewRedisBroker(ctx context.Context, opts *redis.Options, ttl time.Duration, logger *slog.Logger) (*RedisBroker, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return &RedisBroker{
		client: client,
		ttl:    ttl,
		logger: logger.With("component", "stream-broker"),
	}, nil
}

func chunksKey(streamID string) string { return "stream:" + streamID + ":chunks" }
func stateKey(streamID string) string  { return "stream:" + streamID + ":state" }
func channel(streamID string) string   { return "stream:" + streamID }

// Open claims the producer side of streamID via SETNX on the state key.
func (b *RedisBroker) Open(ctx context.Context, streamID string) (Producer, error) {
	ok, err := b.client.SetNX(ctx, stateKey(streamID), stateOpen, liveTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("claiming stream: %w", err)
	}
	if !ok {
		return nil, ErrAlreadyOpen
	}

	b.logger.Debug("stream opened", "stream_id", streamID)
	return &redisProducer{broker: b, streamID: streamID}, nil
}

// Status reports the lifecycle state of streamID.
func (b *RedisBroker) Status(ctx context.Context, streamID string) (Status, error) {
	state, err := b.client.Get(ctx, stateKey(streamID)).Result()
	if err == redis.Nil {
		return StatusNotFound, nil
	}
	if err != nil {
		return StatusNotFound, fmt.Errorf("reading stream state: %w", err)
	}

	if state == stateDone {
		return StatusDone, nil
	}
	return StatusOpen, nil
}

// Attach adds a consumer to streamID. The pub/sub subscription is
// established before any state is read: if the producer closes while we
// attach, either the state read below already sees done, or the done
// signal lands in the subscription. Chunks published during the list
// replay are deduplicated by their index in pump.
func (b *RedisBroker) Attach(ctx context.Context, streamID string) (Consumer, error) {
	pubsub := b.client.Subscribe(ctx, channel(streamID))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribing to stream: %w", err)
	}

	chunks, err := b.client.LRange(ctx, chunksKey(streamID), 0, -1).Result()
	if err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("reading stream buffer: %w", err)
	}

	state, err := b.client.Get(ctx, stateKey(streamID)).Result()
	if err == redis.Nil {
		pubsub.Close()
		return nil, ErrNotFound
	}
	if err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("reading stream state: %w", err)
	}

	if state == stateDone {
		pubsub.Close()
		// All emits preceded the close; pick up any chunks appended
		// between the replay read and the state read.
		tail, err := b.client.LRange(ctx, chunksKey(streamID), int64(len(chunks)), -1).Result()
		if err != nil {
			return nil, fmt.Errorf("reading stream buffer: %w", err)
		}
		ch := make(chan []byte, len(chunks)+len(tail))
		for _, c := range chunks {
			ch <- []byte(c)
		}
		for _, c := range tail {
			ch <- []byte(c)
		}
		close(ch)
		return &redisConsumer{ch: ch, cancel: func() {}}, nil
	}

	out := make(chan []byte, len(chunks)+consumerBufferSize)
	for _, c := range chunks {
		out <- []byte(c)
	}

	consumerCtx, cancel := context.WithCancel(context.Background())
	c := &redisConsumer{ch: out, cancel: cancel}
	go b.pump(consumerCtx, streamID, pubsub, out, int64(len(chunks)))
	return c, nil
}

// pump forwards live pub/sub messages to the consumer channel, skipping
// chunks already delivered from the replay and back-filling any gap from
// the list. delivered is the count of chunks the consumer has seen.
func (b *RedisBroker) pump(ctx context.Context, streamID string, pubsub *redis.PubSub, out chan<- []byte, delivered int64) {
	defer pubsub.Close()
	defer close(out)

	msgs := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			if msg.Payload == doneSignal {
				return
			}

			idx, chunk, err := splitIndexed(msg.Payload)
			if err != nil {
				b.logger.Warn("malformed stream message", "stream_id", streamID, "error", err)
				continue
			}

			if idx <= delivered {
				continue // already replayed from the list
			}

			if idx > delivered+1 {
				// Missed publishes (e.g. Redis hiccup); back-fill from the list
				missing, err := b.client.LRange(ctx, chunksKey(streamID), delivered, idx-2).Result()
				if err != nil {
					b.logger.Warn("stream back-fill failed", "stream_id", streamID, "error", err)
					return
				}
				for _, m := range missing {
					select {
					case out <- []byte(m):
						delivered++
					case <-ctx.Done():
						return
					}
				}
			}

			select {
			case out <- chunk:
				delivered++
			case <-ctx.Done():
				return
			}
		}
	}
}

// splitIndexed parses an "<index>|<chunk>" pub/sub payload.
func splitIndexed(payload string) (int64, []byte, error) {
	sep := strings.IndexByte(payload, '|')
	if sep < 0 {
		return 0, nil, fmt.Errorf("missing index separator")
	}
	idx, err := strconv.ParseInt(payload[:sep], 10, 64)
	if err != nil {
		return 0, nil, fmt.Errorf("parsing chunk index: %w", err)
	}
	return idx, []byte(payload[sep+1:]), nil
}

// Close releases the Redis client.
func (b *RedisBroker) Close() error {
	return b.client.Close()
}

// redisProducer is the single writer of one Redis-backed stream.
type redisProducer struct {
	broker   *RedisBroker
	streamID string
}

// Emit appends the chunk to the stream list, then publishes it with its
// 1-based index so attached consumers can deduplicate against their replay.
func (p *redisProducer) Emit(ctx context.Context, chunk []byte) error {
	b := p.broker

	state, err := b.client.Get(ctx, stateKey(p.streamID)).Result()
	if err == redis.Nil || (err == nil && state == stateDone) {
		return ErrClosed
	}
	if err != nil {
		return fmt.Errorf("reading stream state: %w", err)
	}

	idx, err := b.client.RPush(ctx, chunksKey(p.streamID), string(chunk)).Result()
	if err != nil {
		return fmt.Errorf("appending chunk: %w", err)
	}
	if err := b.client.Expire(ctx, chunksKey(p.streamID), liveTTL).Err(); err != nil {
		return fmt.Errorf("refreshing chunk ttl: %w", err)
	}

	payload := strconv.FormatInt(idx, 10) + "|" + string(chunk)
	if err := b.client.Publish(ctx, channel(p.streamID), payload).Err(); err != nil {
		return fmt.Errorf("publishing chunk: %w", err)
	}
	return nil
}

// Close marks the stream done, shortens retention to the broker TTL, and
// signals end-of-stream to attached consumers. Idempotent.
func (p *redisProducer) Close(ctx context.Context) error {
	b := p.broker

	if err := b.client.Set(ctx, stateKey(p.streamID), stateDone, b.ttl).Err(); err != nil {
		return fmt.Errorf("marking stream done: %w", err)
	}
	if err := b.client.Expire(ctx, chunksKey(p.streamID), b.ttl).Err(); err != nil {
		return fmt.Errorf("setting buffer ttl: %w", err)
	}
	if err := b.client.Publish(ctx, channel(p.streamID), doneSignal).Err(); err != nil {
		return fmt.Errorf("publishing done: %w", err)
	}

	b.logger.Debug("stream closed", "stream_id", p.streamID)
	return nil
}

// redisConsumer is one reader of a Redis-backed stream.
type redisConsumer struct {
	ch     chan []byte
	cancel context.CancelFunc
}

func (c *redisConsumer) Chunks() <-chan []byte {
	return c.ch
}

func (c *redisConsumer) Close() {
	c.cancel()
}
