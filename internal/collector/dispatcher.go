// Package collector is the receiving end of the uplink: an HTTP endpoint that
// accepts frame batches and dispatches every frame to the handlers registered
// for its kind.
package collector

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	frerrors "github.com/drblury/framerelay/internal/runtime/errors"
	"github.com/drblury/framerelay/internal/runtime/frames"
	"github.com/drblury/framerelay/internal/runtime/logging"
)

// Wildcard registers a handler for every kind.
const Wildcard = "*"

// DefaultWorkers bounds concurrent handler calls across all requests.
const DefaultWorkers = 4

// Handler processes one received frame.
type Handler interface {
	Handle(ctx context.Context, frame frames.CapturedFrame) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, frame frames.CapturedFrame) error

func (f HandlerFunc) Handle(ctx context.Context, frame frames.CapturedFrame) error {
	return f(ctx, frame)
}

// Dispatcher fans frames out to handlers on a bounded worker pool.
type Dispatcher struct {
	workers *semaphore.Weighted
	log     logging.ServiceLogger
	metrics *Metrics

	mu       sync.RWMutex
	handlers map[string][]Handler
}

// NewDispatcher builds a dispatcher running at most workers handler calls at
// once. workers <= 0 selects DefaultWorkers.
func NewDispatcher(workers int, log logging.ServiceLogger, metrics *Metrics) *Dispatcher {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Dispatcher{
		workers:  semaphore.NewWeighted(int64(workers)),
		log:      logging.ForStage(log, "collector"),
		metrics:  metrics,
		handlers: make(map[string][]Handler),
	}
}

// Register adds h for kind. Use Wildcard to receive every kind.
func (d *Dispatcher) Register(kind string, h Handler) error {
	if kind == "" {
		return frerrors.ErrKindRequired
	}
	if h == nil {
		return fmt.Errorf("collector: nil handler for %q", kind)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[kind] = append(d.handlers[kind], h)
	return nil
}

func (d *Dispatcher) handlersFor(kind string) []Handler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Handler, 0, len(d.handlers[kind])+len(d.handlers[Wildcard]))
	out = append(out, d.handlers[kind]...)
	if kind != Wildcard {
		out = append(out, d.handlers[Wildcard]...)
	}
	return out
}

// Dispatch runs every matching handler for every frame and waits for them.
// A failing handler is logged and counted; it never stops the others.
// Dispatch only returns an error when ctx ends before all work was started.
func (d *Dispatcher) Dispatch(ctx context.Context, batch []frames.CapturedFrame) error {
	var g errgroup.Group

	for _, frame := range batch {
		d.metrics.FrameReceived(frame.Kind)
		handlers := d.handlersFor(frame.Kind)
		if len(handlers) == 0 {
			d.log.Debug("No handler for frame kind", logging.LogFields{"kind": frame.Kind})
			continue
		}

		for _, h := range handlers {
			if err := d.workers.Acquire(ctx, 1); err != nil {
				_ = g.Wait()
				return err
			}
			g.Go(func() error {
				defer d.workers.Release(1)
				if err := h.Handle(ctx, frame); err != nil {
					d.metrics.HandlerFailed(frame.Kind)
					d.log.Error("Frame handler failed", err, logging.LogFields{"kind": frame.Kind})
				}
				return nil
			})
		}
	}

	return g.Wait()
}
