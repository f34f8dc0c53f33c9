package collector

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drblury/framerelay/internal/runtime/frames"
	"github.com/drblury/framerelay/internal/runtime/jsoncodec"
	"github.com/drblury/framerelay/internal/runtime/logging"
)

const (
	DefaultPath         = "/api/frames"
	DefaultMaxBodyBytes = 8 << 20
)

// Options configures NewServer.
type Options struct {
	// Path receives the POSTed batches. Defaults to DefaultPath.
	Path string
	// AllowedOrigins enables CORS when not empty.
	AllowedOrigins []string
	MaxBodyBytes   int64

	Dispatcher *Dispatcher
	Metrics    *Metrics
	Gatherer   prometheus.Gatherer
	Logger     logging.ServiceLogger
}

// Server decodes batches and hands them to the dispatcher.
type Server struct {
	dispatcher *Dispatcher
	metrics    *Metrics
	log        logging.ServiceLogger
	maxBody    int64
}

// NewServer returns the collector's HTTP handler.
func NewServer(opts Options) (http.Handler, error) {
	if opts.Dispatcher == nil {
		return nil, errors.New("collector: dispatcher is required")
	}
	if opts.Path == "" {
		opts.Path = DefaultPath
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}

	s := &Server{
		dispatcher: opts.Dispatcher,
		metrics:    opts.Metrics,
		log:        logging.ForStage(log, "collector"),
		maxBody:    opts.MaxBodyBytes,
	}

	r := chi.NewRouter()
	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"*"},
		}))
	}

	r.Post(opts.Path, s.handleBatch)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/stats", s.handleStats)
	r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))

	return r, nil
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var wire []frames.WireItem
	if err := jsoncodec.DecodeLimited(r.Body, s.maxBody, &wire); err != nil {
		if errors.Is(err, jsoncodec.ErrBodyTooLarge) {
			s.fail(w, http.StatusRequestEntityTooLarge, "batch too large", err)
			return
		}
		s.fail(w, http.StatusBadRequest, "invalid batch", err)
		return
	}

	batch := make([]frames.CapturedFrame, 0, len(wire))
	for _, item := range frames.FromWire(wire) {
		frame, err := item.Decode()
		if err != nil {
			s.fail(w, http.StatusBadRequest, "invalid payload", err)
			return
		}
		batch = append(batch, frame)
	}

	// handlers outlive a client that hangs up after sending
	if err := s.dispatcher.Dispatch(context.WithoutCancel(r.Context()), batch); err != nil {
		s.fail(w, http.StatusServiceUnavailable, "dispatch failed", err)
		return
	}

	s.metrics.Request(strconv.Itoa(http.StatusAccepted))
	s.log.Debug("Batch accepted", logging.LogFields{"items": len(batch)})
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := jsoncodec.Encode(w, map[string]any{"received": s.metrics.Received()}); err != nil {
		s.log.Error("Failed to encode stats", err, nil)
	}
}

func (s *Server) fail(w http.ResponseWriter, code int, msg string, err error) {
	s.metrics.Request(strconv.Itoa(code))
	s.log.Info("Batch rejected", logging.LogFields{"status": code, "error": err.Error()})
	http.Error(w, msg, code)
}
