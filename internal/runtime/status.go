package runtime

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	jsoncodecpkg "github.com/drblury/framerelay/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/framerelay/internal/runtime/logging"
	telemetrypkg "github.com/drblury/framerelay/internal/runtime/telemetry"
	"github.com/drblury/framerelay/transport"
)

// StageStatus describes one bounded queue.
type StageStatus struct {
	Depth    int    `json:"depth"`
	Capacity int    `json:"capacity"`
	Evicted  uint64 `json:"evicted"`
	InFlight bool   `json:"in_flight,omitempty"`
}

// Status is the JSON document served on /status.
type Status struct {
	Role      string                 `json:"role"`
	Transport transport.Capabilities `json:"transport"`
	Relay     *StageStatus           `json:"relay,omitempty"`
	Uplink    *StageStatus           `json:"uplink,omitempty"`
	Counters  telemetrypkg.Snapshot  `json:"counters"`
	Kinds     []string               `json:"allowed_kinds"`
}

// Status reports queue depths and counters.
func (s *Service) Status() Status {
	counters := s.metrics.Snapshot()
	st := Status{
		Role:      s.Conf.Role,
		Transport: s.channel.Capabilities,
		Counters:  counters,
		Kinds:     s.tap.AllowedKinds(),
	}
	if s.buffer != nil {
		st.Relay = &StageStatus{
			Depth:    s.buffer.Len(),
			Capacity: s.buffer.Capacity(),
			Evicted:  counters.EvictedTotal(telemetrypkg.StageRelay),
		}
	}
	if s.queue != nil {
		st.Uplink = &StageStatus{
			Depth:    s.queue.Len(),
			Capacity: s.queue.Capacity(),
			Evicted:  counters.EvictedTotal(telemetrypkg.StageUplink),
			InFlight: s.queue.InFlight(),
		}
	}
	return st
}

func (s *Service) registerStatusHandlers() {
	port := s.Conf.MetricsPort
	s.RegisterHTTPHandler(port, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	s.RegisterHTTPHandler(port, "/healthz", http.HandlerFunc(handleHealthz))
	s.RegisterHTTPHandler(port, "/status", http.HandlerFunc(s.handleStatus))
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := jsoncodecpkg.Encode(w, s.Status()); err != nil {
		s.Logger.Error("Failed to encode status", err, loggingpkg.LogFields{})
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}
