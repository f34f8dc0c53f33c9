// Package relay implements the relay buffer: a bounded drop-oldest queue of
// encoded frames that is drained, whole, onto the relay channel on every tick.
package relay

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel/attribute"

	frerrors "github.com/drblury/framerelay/internal/runtime/errors"
	"github.com/drblury/framerelay/internal/runtime/frames"
	"github.com/drblury/framerelay/internal/runtime/ids"
	"github.com/drblury/framerelay/internal/runtime/logging"
	"github.com/drblury/framerelay/internal/runtime/metadata"
	"github.com/drblury/framerelay/internal/runtime/queue"
	"github.com/drblury/framerelay/internal/runtime/relaycodec"
	"github.com/drblury/framerelay/internal/runtime/telemetry"
)

// FlushResult describes what a single Flush did.
type FlushResult int

const (
	// FlushEmpty means there was nothing to send.
	FlushEmpty FlushResult = iota
	// FlushSkipped means another flush was still publishing.
	FlushSkipped
	// FlushPublished means the batch was handed to the relay channel.
	FlushPublished
	// FlushDropped means the relay channel refused the batch and it was lost.
	FlushDropped
)

func (r FlushResult) String() string {
	switch r {
	case FlushEmpty:
		return "empty"
	case FlushSkipped:
		return "skipped"
	case FlushPublished:
		return "published"
	case FlushDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Options configures a Buffer.
type Options struct {
	Capacity      int
	FlushInterval time.Duration
	Topic         string
	Codec         relaycodec.Codec
	Publisher     message.Publisher
	Logger        logging.ServiceLogger
	Metrics       *telemetry.PipelineMetrics
}

// Buffer accumulates encoded frames and publishes them as one batch per flush.
type Buffer struct {
	capacity int
	interval time.Duration
	topic    string
	codec    relaycodec.Codec
	pub      message.Publisher
	log      logging.ServiceLogger
	metrics  *telemetry.PipelineMetrics

	mu       sync.Mutex
	items    *queue.Ring[frames.EncodedItem]
	flushing bool
}

func NewBuffer(opts Options) (*Buffer, error) {
	if opts.Capacity <= 0 {
		return nil, fmt.Errorf("relay: %w", frerrors.ErrInvalidCapacity)
	}
	if opts.FlushInterval <= 0 {
		return nil, fmt.Errorf("relay: %w", frerrors.ErrInvalidInterval)
	}
	if opts.Publisher == nil {
		return nil, frerrors.ErrPublisherRequired
	}
	if opts.Topic == "" {
		return nil, frerrors.ErrTopicRequired
	}
	codec := opts.Codec
	if codec == nil {
		var err error
		if codec, err = relaycodec.Lookup(relaycodec.JSON); err != nil {
			return nil, err
		}
	}
	return &Buffer{
		capacity: opts.Capacity,
		interval: opts.FlushInterval,
		topic:    opts.Topic,
		codec:    codec,
		pub:      opts.Publisher,
		log:      logging.ForStage(opts.Logger, telemetry.StageRelay),
		metrics:  opts.Metrics,
		items:    queue.New[frames.EncodedItem](),
	}, nil
}

// Offer encodes frame and appends it. A full buffer first evicts its single
// oldest item, so the newest Capacity frames are always kept.
func (b *Buffer) Offer(frame frames.CapturedFrame) {
	item := frames.Encode(frame)

	b.mu.Lock()
	evicted := 0
	if over := b.items.Len() - b.capacity + 1; over > 0 {
		evicted = b.items.DropFront(over)
	}
	b.items.Push(item)
	depth := b.items.Len()
	b.mu.Unlock()

	b.metrics.ItemsEvicted(telemetry.StageRelay, telemetry.PolicyDropOldest, evicted)
	b.metrics.SetQueueDepth(telemetry.StageRelay, depth)
}

// Flush drains every buffered item as one batch and publishes it. Publish
// returns once the relay channel has taken the batch; on the in-process
// channel that is the uplink consumer's ack, never delivery to the sink.
// A refused batch is dropped, never retried. A call made
// while a previous flush is still publishing does nothing.
func (b *Buffer) Flush(ctx context.Context) FlushResult {
	b.mu.Lock()
	if b.flushing {
		b.mu.Unlock()
		return FlushSkipped
	}
	if b.items.Len() == 0 {
		b.mu.Unlock()
		return FlushEmpty
	}
	batch := frames.Batch(b.items.Drain())
	b.flushing = true
	b.mu.Unlock()

	b.metrics.SetQueueDepth(telemetry.StageRelay, 0)
	defer func() {
		b.mu.Lock()
		b.flushing = false
		b.mu.Unlock()
	}()

	ctx, span := telemetry.StartSpan(ctx, "relay.flush",
		attribute.Int("batch.items", len(batch)),
		attribute.String("relay.topic", b.topic),
	)
	err := b.publish(ctx, batch)
	telemetry.EndSpan(span, err)

	if err != nil {
		b.metrics.BatchRelayed(len(batch), false)
		b.log.Debug("relay batch dropped", logging.LogFields{"items": len(batch), "error": err.Error()})
		return FlushDropped
	}
	b.metrics.BatchRelayed(len(batch), true)
	b.log.Trace("relay batch published", logging.LogFields{"items": len(batch)})
	return FlushPublished
}

func (b *Buffer) publish(ctx context.Context, batch frames.Batch) error {
	payload, err := b.codec.Marshal(batch)
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}

	msg := message.NewMessage(ids.CreateULID(), payload)
	metadata.ForBatch(b.codec.Name(), len(batch)).
		With(metadata.KeyProducedAt, strconv.FormatInt(time.Now().UnixMilli(), 10)).
		Apply(msg)
	msg.SetContext(ctx)

	if err := b.pub.Publish(b.topic, msg); err != nil {
		return fmt.Errorf("%w: %w", frerrors.ErrChannelUnavailable, err)
	}
	return nil
}

// Run flushes on every tick until ctx is cancelled.
func (b *Buffer) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	b.log.Info("relay buffer started", logging.LogFields{
		"capacity": b.capacity,
		"interval": b.interval.String(),
		"topic":    b.topic,
		"codec":    b.codec.Name(),
	})
	for {
		select {
		case <-ctx.Done():
			b.log.Info("relay buffer stopped", logging.LogFields{"pending": b.Len()})
			return nil
		case <-ticker.C:
			b.Flush(ctx)
		}
	}
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.items.Len()
}

// Snapshot copies the buffered items, oldest first.
func (b *Buffer) Snapshot() frames.Batch {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.items.Snapshot()
}

func (b *Buffer) Capacity() int { return b.capacity }
