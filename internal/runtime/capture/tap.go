// Package capture is the instrumentation boundary of the pipeline: sources
// report raw frames to a Tap, which filters them against an allow-list, copies
// the payload and fans the frame out to subscribers.
package capture

import (
	"sort"
	"sync"
	"time"

	"github.com/drblury/framerelay/internal/runtime/frames"
	"github.com/drblury/framerelay/internal/runtime/telemetry"
)

// Subscriber receives every frame the Tap emits. It must not block.
type Subscriber func(frames.CapturedFrame)

// Tap filters and fans out captured frames.
type Tap struct {
	allowed map[string]struct{}
	now     func() time.Time
	metrics *telemetry.PipelineMetrics

	mu     sync.RWMutex
	subs   map[uint64]Subscriber
	nextID uint64
}

// TapOption customises a Tap.
type TapOption func(*Tap)

// WithClock overrides the capture clock.
func WithClock(now func() time.Time) TapOption {
	return func(t *Tap) {
		if now != nil {
			t.now = now
		}
	}
}

// WithMetrics counts accepted and rejected frames.
func WithMetrics(m *telemetry.PipelineMetrics) TapOption {
	return func(t *Tap) { t.metrics = m }
}

// NewTap builds a Tap accepting only the given kinds.
func NewTap(allowedKinds []string, opts ...TapOption) *Tap {
	t := &Tap{
		allowed: make(map[string]struct{}, len(allowedKinds)),
		now:     time.Now,
		subs:    make(map[uint64]Subscriber),
	}
	for _, kind := range allowedKinds {
		t.allowed[kind] = struct{}{}
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Allows reports whether kind is on the allow-list.
func (t *Tap) Allows(kind string) bool {
	_, ok := t.allowed[kind]
	return ok
}

// AllowedKinds returns the allow-list, sorted.
func (t *Tap) AllowedKinds() []string {
	kinds := make([]string, 0, len(t.allowed))
	for kind := range t.allowed {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// Subscribe registers fn and returns a function that removes it again.
func (t *Tap) Subscribe(fn Subscriber) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.subs[id] = fn
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subs, id)
			t.mu.Unlock()
		})
	}
}

// Observe reports a frame seen now. See ObserveAt.
func (t *Tap) Observe(kind string, payload []byte) bool {
	return t.ObserveAt(kind, payload, t.now())
}

// ObserveAt drops kinds outside the allow-list, copies payload so the caller
// may reuse its buffer, and hands the frame to every subscriber. It reports
// whether a frame was emitted.
func (t *Tap) ObserveAt(kind string, payload []byte, at time.Time) bool {
	if !t.Allows(kind) {
		t.metrics.FrameObserved(false)
		return false
	}
	t.metrics.FrameObserved(true)

	frame := frames.CapturedFrame{
		Kind:       kind,
		Payload:    append([]byte(nil), payload...),
		CapturedAt: at,
	}

	t.mu.RLock()
	subs := make([]Subscriber, 0, len(t.subs))
	ids := make([]uint64, 0, len(t.subs))
	for id := range t.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		subs = append(subs, t.subs[id])
	}
	t.mu.RUnlock()

	for _, fn := range subs {
		fn(frame)
	}
	return true
}
