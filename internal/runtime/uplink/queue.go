// Package uplink implements the uplink queue: a bounded FIFO fed by relay
// batches and drained towards the sink one request at a time, with failed
// batches reinserted at the head in their original order.
package uplink

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	frerrors "github.com/drblury/framerelay/internal/runtime/errors"
	"github.com/drblury/framerelay/internal/runtime/frames"
	"github.com/drblury/framerelay/internal/runtime/logging"
	"github.com/drblury/framerelay/internal/runtime/queue"
	"github.com/drblury/framerelay/internal/runtime/telemetry"
)

// Sink delivers one batch. Any error counts as a failed delivery.
type Sink interface {
	Send(ctx context.Context, batch frames.Batch) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, batch frames.Batch) error

func (f SinkFunc) Send(ctx context.Context, batch frames.Batch) error { return f(ctx, batch) }

// SendResult describes what a single SendOnce did.
type SendResult int

const (
	// SendIdle means the queue was empty.
	SendIdle SendResult = iota
	// SendSkipped means a previous send was still in flight.
	SendSkipped
	// SendDelivered means the sink accepted the batch.
	SendDelivered
	// SendFailed means the batch went back to the head of the queue.
	SendFailed
)

func (r SendResult) String() string {
	switch r {
	case SendIdle:
		return "idle"
	case SendSkipped:
		return "skipped"
	case SendDelivered:
		return "delivered"
	case SendFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Options configures a Queue.
type Options struct {
	Capacity     int
	BatchSize    int
	SendInterval time.Duration
	Sink         Sink
	Logger       logging.ServiceLogger
	Metrics      *telemetry.PipelineMetrics
}

// Queue is the uplink queue and its sender.
type Queue struct {
	capacity  int
	batchSize int
	interval  time.Duration
	sink      Sink
	log       logging.ServiceLogger
	metrics   *telemetry.PipelineMetrics

	mu      sync.Mutex
	items   *queue.Ring[frames.EncodedItem]
	sending bool

	sends sync.WaitGroup
}

func NewQueue(opts Options) (*Queue, error) {
	if opts.Capacity <= 0 {
		return nil, fmt.Errorf("uplink: %w", frerrors.ErrInvalidCapacity)
	}
	if opts.BatchSize <= 0 {
		return nil, fmt.Errorf("uplink: %w", frerrors.ErrInvalidBatchSize)
	}
	if opts.SendInterval <= 0 {
		return nil, fmt.Errorf("uplink: %w", frerrors.ErrInvalidInterval)
	}
	if opts.Sink == nil {
		return nil, frerrors.ErrSinkRequired
	}
	return &Queue{
		capacity:  opts.Capacity,
		batchSize: opts.BatchSize,
		interval:  opts.SendInterval,
		sink:      opts.Sink,
		log:       logging.ForStage(opts.Logger, telemetry.StageUplink),
		metrics:   opts.Metrics,
		items:     queue.New[frames.EncodedItem](),
	}, nil
}

// Enqueue appends batch in order. When the result would exceed capacity the
// oldest queued items are evicted first; a batch larger than capacity keeps
// only its newest Capacity items. It returns the number of items evicted.
func (q *Queue) Enqueue(batch frames.Batch) int {
	if len(batch) == 0 {
		return 0
	}
	trimmed := 0
	if len(batch) > q.capacity {
		trimmed = len(batch) - q.capacity
		batch = batch[trimmed:]
	}

	q.mu.Lock()
	evicted := trimmed
	if over := q.items.Len() + len(batch) - q.capacity; over > 0 {
		evicted += q.items.DropFront(over)
	}
	q.items.Push(batch...)
	depth := q.items.Len()
	q.mu.Unlock()

	q.metrics.ItemsEvicted(telemetry.StageUplink, telemetry.PolicyTruncateHead, evicted)
	q.metrics.SetQueueDepth(telemetry.StageUplink, depth)
	return evicted
}

// SendOnce delivers up to BatchSize of the oldest items. It does nothing when
// the queue is empty or another send is in flight. On failure the batch is put
// back at the head in its original order, then anything past capacity is cut
// from the tail.
func (q *Queue) SendOnce(ctx context.Context) SendResult {
	q.mu.Lock()
	if q.sending {
		q.mu.Unlock()
		return SendSkipped
	}
	if q.items.Len() == 0 {
		q.mu.Unlock()
		return SendIdle
	}
	batch := frames.Batch(q.items.PopN(q.batchSize))
	q.sending = true
	q.mu.Unlock()
	q.metrics.SetInFlight(true)

	ctx, span := telemetry.StartSpan(ctx, "uplink.send", attribute.Int("batch.items", len(batch)))
	start := time.Now()
	err := q.sink.Send(ctx, batch)
	took := time.Since(start)
	telemetry.EndSpan(span, err)

	q.mu.Lock()
	truncated := 0
	if err != nil {
		q.items.PushFront(batch)
		truncated = q.items.TruncateBack(q.capacity)
	}
	depth := q.items.Len()
	q.sending = false
	q.mu.Unlock()

	q.metrics.SetInFlight(false)
	q.metrics.SetQueueDepth(telemetry.StageUplink, depth)
	q.metrics.SendFinished(len(batch), err == nil, took)

	if err != nil {
		q.metrics.ItemsEvicted(telemetry.StageUplink, telemetry.PolicyTruncateTail, truncated)
		q.log.Error("uplink send failed; batch requeued", err, logging.LogFields{
			"items":     len(batch),
			"pending":   depth,
			"truncated": truncated,
		})
		return SendFailed
	}
	q.log.Debug("uplink batch delivered", logging.LogFields{"items": len(batch), "pending": depth})
	return SendDelivered
}

// Run starts a send on every tick without waiting for it, so a slow sink never
// delays the timer; ticks that land while a send is in flight are skipped.
// After ctx is cancelled Run waits for the outstanding send before returning.
func (q *Queue) Run(ctx context.Context) error {
	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()

	q.log.Info("uplink sender started", logging.LogFields{
		"capacity":   q.capacity,
		"batch_size": q.batchSize,
		"interval":   q.interval.String(),
	})
	for {
		select {
		case <-ctx.Done():
			q.sends.Wait()
			q.log.Info("uplink sender stopped", logging.LogFields{"pending": q.Len()})
			return nil
		case <-ticker.C:
			if q.InFlight() {
				continue
			}
			q.sends.Add(1)
			go func() {
				defer q.sends.Done()
				q.SendOnce(ctx)
			}()
		}
	}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Snapshot copies the queued items, oldest first.
func (q *Queue) Snapshot() frames.Batch {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Snapshot()
}

// InFlight reports whether a send is outstanding.
func (q *Queue) InFlight() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.sending
}

func (q *Queue) Capacity() int { return q.capacity }
