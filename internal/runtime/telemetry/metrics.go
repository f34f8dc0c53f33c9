// Package telemetry carries the pipeline's Prometheus collectors and tracing
// helpers. Every method on a nil *PipelineMetrics is a no-op so stages can run
// uninstrumented.
package telemetry

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Stage labels.
const (
	StageCapture = "capture"
	StageRelay   = "relay"
	StageUplink  = "uplink"
)

// Eviction policy labels.
const (
	PolicyDropOldest   = "drop_oldest"
	PolicyTruncateHead = "truncate_head"
	PolicyTruncateTail = "truncate_tail"
)

// PipelineMetrics tracks frames as they move through capture, relay and uplink.
type PipelineMetrics struct {
	mu sync.RWMutex

	counters Snapshot

	framesObserved   *prometheus.CounterVec
	itemsEvicted     *prometheus.CounterVec
	relayBatches     *prometheus.CounterVec
	sendAttempts     *prometheus.CounterVec
	itemsDelivered   prometheus.Counter
	queueDepth       *prometheus.GaugeVec
	sendInFlight     prometheus.Gauge
	sendDurationHist *prometheus.HistogramVec
	batchSizeHist    *prometheus.HistogramVec

	registerer prometheus.Registerer
	registered bool
}

// Snapshot is a point-in-time copy of the in-process counters.
type Snapshot struct {
	FramesAccepted  uint64            `json:"frames_accepted"`
	FramesRejected  uint64            `json:"frames_rejected"`
	Evicted         map[string]uint64 `json:"evicted"`
	BatchesRelayed  uint64            `json:"batches_relayed"`
	BatchesDropped  uint64            `json:"batches_dropped"`
	SendSuccesses   uint64            `json:"send_successes"`
	SendFailures    uint64            `json:"send_failures"`
	ItemsDelivered  uint64            `json:"items_delivered"`
	QueueDepth      map[string]int    `json:"queue_depth"`
	LastSendAt      time.Time         `json:"last_send_at,omitempty"`
	LastSendSuccess bool              `json:"last_send_success"`
	CollectedAt     time.Time         `json:"collected_at"`
}

func newCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "framerelay",
			Subsystem: "pipeline",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newGaugeVec(name, help string, labels []string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "framerelay",
			Subsystem: "pipeline",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newHistogramVec(name, help string, buckets []float64, labels []string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "framerelay",
			Subsystem: "pipeline",
			Name:      name,
			Help:      help,
			Buckets:   buckets,
		},
		labels,
	)
}

// NewPipelineMetrics creates the collectors. A nil registerer selects the
// Prometheus default registerer.
func NewPipelineMetrics(registerer prometheus.Registerer) *PipelineMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &PipelineMetrics{
		counters:       emptySnapshot(),
		registerer:     registerer,
		framesObserved: newCounterVec("frames_observed_total", "Frames seen at the capture point", []string{"result"}),
		itemsEvicted:   newCounterVec("items_evicted_total", "Items discarded to keep a queue within capacity", []string{"stage", "policy"}),
		relayBatches:   newCounterVec("relay_batches_total", "Batches handed to the relay channel", []string{"result"}),
		sendAttempts:   newCounterVec("send_attempts_total", "Uplink delivery attempts", []string{"result"}),
		itemsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "framerelay",
			Subsystem: "pipeline",
			Name:      "items_delivered_total",
			Help:      "Items accepted by the sink",
		}),
		queueDepth: newGaugeVec("queue_depth", "Items currently buffered per stage", []string{"stage"}),
		sendInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "framerelay",
			Subsystem: "pipeline",
			Name:      "send_in_flight",
			Help:      "1 while an uplink request is outstanding",
		}),
		sendDurationHist: newHistogramVec("send_duration_seconds", "Uplink request latency", prometheus.DefBuckets, []string{"result"}),
		batchSizeHist:    newHistogramVec("batch_size_items", "Items per drained batch", []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 3000}, []string{"stage"}),
	}
}

func emptySnapshot() Snapshot {
	return Snapshot{Evicted: map[string]uint64{}, QueueDepth: map[string]int{}}
}

// Register registers the collectors. Safe to call multiple times.
func (m *PipelineMetrics) Register() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.framesObserved,
		m.itemsEvicted,
		m.relayBatches,
		m.sendAttempts,
		m.itemsDelivered,
		m.queueDepth,
		m.sendInFlight,
		m.sendDurationHist,
		m.batchSizeHist,
	}

	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

// FrameObserved records a capture decision.
func (m *PipelineMetrics) FrameObserved(accepted bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	result := "accepted"
	if accepted {
		m.counters.FramesAccepted++
	} else {
		m.counters.FramesRejected++
		result = "rejected"
	}
	m.framesObserved.WithLabelValues(result).Inc()
}

// ItemsEvicted records n items discarded by stage under policy.
func (m *PipelineMetrics) ItemsEvicted(stage, policy string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.counters.Evicted[stage+"/"+policy] += uint64(n)
	m.itemsEvicted.WithLabelValues(stage, policy).Add(float64(n))
}

// BatchRelayed records the outcome of a relay flush of items items.
func (m *PipelineMetrics) BatchRelayed(items int, published bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	result := "published"
	if published {
		m.counters.BatchesRelayed++
	} else {
		m.counters.BatchesDropped++
		result = "dropped"
	}
	m.relayBatches.WithLabelValues(result).Inc()
	m.batchSizeHist.WithLabelValues(StageRelay).Observe(float64(items))
}

// SendFinished records one uplink delivery attempt.
func (m *PipelineMetrics) SendFinished(items int, ok bool, took time.Duration) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	result := "success"
	if ok {
		m.counters.SendSuccesses++
		m.counters.ItemsDelivered += uint64(items)
		m.itemsDelivered.Add(float64(items))
	} else {
		m.counters.SendFailures++
		result = "failure"
	}
	m.counters.LastSendAt = time.Now()
	m.counters.LastSendSuccess = ok

	m.sendAttempts.WithLabelValues(result).Inc()
	m.sendDurationHist.WithLabelValues(result).Observe(took.Seconds())
	m.batchSizeHist.WithLabelValues(StageUplink).Observe(float64(items))
}

// SetQueueDepth publishes the current length of a stage queue.
func (m *PipelineMetrics) SetQueueDepth(stage string, n int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.counters.QueueDepth[stage] = n
	m.queueDepth.WithLabelValues(stage).Set(float64(n))
}

// SetInFlight flips the uplink in-flight gauge.
func (m *PipelineMetrics) SetInFlight(inFlight bool) {
	if m == nil {
		return
	}
	if inFlight {
		m.sendInFlight.Set(1)
		return
	}
	m.sendInFlight.Set(0)
}

// Snapshot returns a copy of the in-process counters.
func (m *PipelineMetrics) Snapshot() Snapshot {
	if m == nil {
		return emptySnapshot()
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := m.counters
	snap.Evicted = make(map[string]uint64, len(m.counters.Evicted))
	for k, v := range m.counters.Evicted {
		snap.Evicted[k] = v
	}
	snap.QueueDepth = make(map[string]int, len(m.counters.QueueDepth))
	for k, v := range m.counters.QueueDepth {
		snap.QueueDepth[k] = v
	}
	snap.CollectedAt = time.Now()
	return snap
}

// EvictedTotal sums evictions for stage across policies.
func (s Snapshot) EvictedTotal(stage string) uint64 {
	var total uint64
	for key, v := range s.Evicted {
		if len(key) > len(stage) && key[:len(stage)] == stage && key[len(stage)] == '/' {
			total += v
		}
	}
	return total
}

// Reset clears every metric (useful for testing).
func (m *PipelineMetrics) Reset() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.counters = emptySnapshot()
	m.framesObserved.Reset()
	m.itemsEvicted.Reset()
	m.relayBatches.Reset()
	m.sendAttempts.Reset()
	m.queueDepth.Reset()
	m.sendInFlight.Set(0)
	m.sendDurationHist.Reset()
	m.batchSizeHist.Reset()
}
