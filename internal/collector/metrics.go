package collector

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts what the collector received. Methods on a nil *Metrics are no-ops.
type Metrics struct {
	mu       sync.RWMutex
	received map[string]uint64

	framesReceived *prometheus.CounterVec
	handlerErrors  *prometheus.CounterVec
	requests       *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on registerer when it
// is not nil.
func NewMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		received: make(map[string]uint64),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "framerelay",
			Subsystem: "collector",
			Name:      "frames_received_total",
			Help:      "Frames received per kind",
		}, []string{"kind"}),
		handlerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "framerelay",
			Subsystem: "collector",
			Name:      "handler_errors_total",
			Help:      "Handler failures per kind",
		}, []string{"kind"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "framerelay",
			Subsystem: "collector",
			Name:      "requests_total",
			Help:      "Batch requests by response code",
		}, []string{"code"}),
	}
	if registerer == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.framesReceived, m.handlerErrors, m.requests} {
		if err := registerer.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) FrameReceived(kind string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.received[kind]++
	m.mu.Unlock()
	m.framesReceived.WithLabelValues(kind).Inc()
}

func (m *Metrics) HandlerFailed(kind string) {
	if m == nil {
		return
	}
	m.handlerErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) Request(code string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(code).Inc()
}

// Received returns a copy of the per-kind frame counts.
func (m *Metrics) Received() map[string]uint64 {
	out := map[string]uint64{}
	if m == nil {
		return out
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for k, v := range m.received {
		out[k] = v
	}
	return out
}
