package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/plugin"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	capturepkg "github.com/drblury/framerelay/internal/runtime/capture"
	configpkg "github.com/drblury/framerelay/internal/runtime/config"
	frerrors "github.com/drblury/framerelay/internal/runtime/errors"
	loggingpkg "github.com/drblury/framerelay/internal/runtime/logging"
	relaypkg "github.com/drblury/framerelay/internal/runtime/relay"
	relaycodecpkg "github.com/drblury/framerelay/internal/runtime/relaycodec"
	sinkpkg "github.com/drblury/framerelay/internal/runtime/sink"
	telemetrypkg "github.com/drblury/framerelay/internal/runtime/telemetry"
	transportpkg "github.com/drblury/framerelay/internal/runtime/transport"
	uplinkpkg "github.com/drblury/framerelay/internal/runtime/uplink"
)

// RelayConsumerName names the router handler that feeds the uplink queue.
const RelayConsumerName = "uplink_relay_consumer"

const shutdownTimeout = 5 * time.Second

var routerRun = func(router *message.Router, ctx context.Context) error {
	return router.Run(ctx)
}

// ServiceDependencies holds optional collaborators. Leave fields nil for the defaults.
type ServiceDependencies struct {
	TransportFactory transportpkg.Factory
	// Sink replaces the HTTP sink built from SinkURL.
	Sink uplinkpkg.Sink
	// Registerer and Gatherer default to the Prometheus default registry.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer

	Middlewares               []MiddlewareRegistration // Appended after the default middleware chain.
	DisableDefaultMiddlewares bool
	DisableSignalsHandler     bool
}

// Service wires the capture tap, relay buffer, relay channel, uplink queue and
// sink for the configured role.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	channel       transportpkg.Channel
	router        *message.Router
	routerStarted atomic.Bool

	tap         *capturepkg.Tap
	unsubscribe func()
	buffer      *relaypkg.Buffer
	queue       *uplinkpkg.Queue
	httpSink    *sinkpkg.HTTPSink

	metrics    *telemetrypkg.PipelineMetrics
	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer

	httpServers   map[int]*http.ServeMux
	httpServersMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// NewService validates conf and builds every stage the role needs. Nothing
// runs until Start.
func NewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, frerrors.ErrConfigRequired
	}
	if log == nil {
		return nil, frerrors.ErrLoggerRequired
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	log.Info("Creating framerelay service", loggingpkg.LogFields{
		"role":      conf.Role,
		"transport": conf.RelayTransport,
		"config":    conf.String(),
	})

	s := &Service{
		Conf:       conf,
		Logger:     log,
		registerer: deps.Registerer,
		gatherer:   deps.Gatherer,
	}
	if s.registerer == nil {
		s.registerer = prometheus.DefaultRegisterer
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}

	s.metrics = telemetrypkg.NewPipelineMetrics(s.registerer)
	if conf.MetricsEnabled {
		if err := s.metrics.Register(); err != nil {
			return nil, fmt.Errorf("register pipeline metrics: %w", err)
		}
	}
	s.tap = capturepkg.NewTap(conf.AllowedKinds, capturepkg.WithMetrics(s.metrics))

	factory := deps.TransportFactory
	if factory == nil {
		factory = transportpkg.DefaultFactory()
	}
	channel, err := factory.Build(ctx, conf, loggingpkg.NewWatermillAdapter(log))
	if err != nil {
		return nil, fmt.Errorf("build relay transport: %w", err)
	}
	s.channel = channel
	if !channel.Capabilities.Ordered {
		log.Info("Relay transport does not guarantee batch order", loggingpkg.LogFields{"transport": conf.RelayTransport})
	}

	if err := s.buildStages(deps); err != nil {
		_ = s.Close()
		return nil, err
	}
	if conf.MetricsEnabled {
		s.registerStatusHandlers()
	}
	return s, nil
}

func (s *Service) buildStages(deps ServiceDependencies) error {
	if s.Conf.RunsRelay() {
		if err := s.buildRelay(); err != nil {
			return err
		}
	}
	if s.Conf.RunsUplink() {
		if err := s.buildUplink(deps); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) buildRelay() error {
	publisher := s.channel.Publisher
	if s.Conf.MetricsEnabled {
		decorated, err := metrics.NewPrometheusMetricsBuilder(s.registerer, "framerelay", s.Conf.RelayTransport).DecoratePublisher(publisher)
		if err != nil {
			return fmt.Errorf("decorate relay publisher: %w", err)
		}
		publisher = decorated
	}

	codec, err := relaycodecpkg.Lookup(s.Conf.RelayCodec)
	if err != nil {
		return fmt.Errorf("relay codec: %w", err)
	}

	buffer, err := relaypkg.NewBuffer(relaypkg.Options{
		Capacity:      s.Conf.RelayCapacity,
		FlushInterval: s.Conf.RelayFlushInterval,
		Topic:         s.Conf.RelayTopic,
		Codec:         codec,
		Publisher:     publisher,
		Logger:        s.Logger,
		Metrics:       s.metrics,
	})
	if err != nil {
		return fmt.Errorf("build relay buffer: %w", err)
	}
	s.buffer = buffer
	s.unsubscribe = s.tap.Subscribe(buffer.Offer)
	return nil
}

func (s *Service) buildUplink(deps ServiceDependencies) error {
	sink := deps.Sink
	if sink == nil {
		httpSink, err := sinkpkg.NewHTTPSink(sinkpkg.Options{
			URL:     s.Conf.SinkURL,
			Timeout: s.Conf.SinkTimeout,
			Logger:  s.Logger,
		})
		if err != nil {
			return fmt.Errorf("build sink: %w", err)
		}
		s.httpSink = httpSink
		sink = httpSink
	}

	queue, err := uplinkpkg.NewQueue(uplinkpkg.Options{
		Capacity:     s.Conf.UplinkCapacity,
		BatchSize:    s.Conf.UplinkBatchSize,
		SendInterval: s.Conf.UplinkSendInterval,
		Sink:         sink,
		Logger:       s.Logger,
		Metrics:      s.metrics,
	})
	if err != nil {
		return fmt.Errorf("build uplink queue: %w", err)
	}
	s.queue = queue

	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: shutdownTimeout}, loggingpkg.NewWatermillAdapter(s.Logger))
	if err != nil {
		return err
	}
	s.router = router
	if !deps.DisableSignalsHandler {
		s.router.AddPlugin(plugin.SignalsHandler)
	}
	if err := s.registerConfiguredMiddlewares(deps); err != nil {
		return err
	}

	s.router.AddConsumerHandler(
		RelayConsumerName,
		s.Conf.RelayTopic,
		s.channel.Subscriber,
		uplinkpkg.RelayHandler(queue, s.Logger),
	)
	return nil
}

func (s *Service) registerConfiguredMiddlewares(deps ServiceDependencies) error {
	var defaults []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		defaults = DefaultMiddlewares()
	}
	registrations := make([]MiddlewareRegistration, 0, len(defaults)+len(deps.Middlewares))
	registrations = append(registrations, defaults...)
	registrations = append(registrations, deps.Middlewares...)

	for _, reg := range registrations {
		if err := s.RegisterMiddleware(reg); err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_middleware"
			}
			return fmt.Errorf("register middleware %s: %w", name, err)
		}
	}
	return nil
}

// Start runs every stage of the role until ctx is cancelled or one of them
// fails. The uplink consumer is subscribed before the relay starts flushing,
// so an in-process channel never drops the first batches.
func (s *Service) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	s.startHTTPServers(g, gctx)

	if s.router != nil {
		s.routerStarted.Store(true)
		g.Go(func() error {
			if err := routerRun(s.router, gctx); err != nil {
				return err
			}
			if gctx.Err() == nil {
				return errors.New("relay consumer router stopped")
			}
			return nil
		})
		g.Go(func() error { return s.queue.Run(gctx) })

		select {
		case <-s.router.Running():
		case <-gctx.Done():
			return ignoreCanceled(g.Wait())
		}
	}

	if s.buffer != nil {
		g.Go(func() error { return s.buffer.Run(gctx) })

		if s.Conf.CaptureURL != "" {
			source := &capturepkg.WebSocketSource{
				URL:  s.Conf.CaptureURL,
				Kind: s.Conf.CaptureKind,
				Tap:  s.tap,
				Log:  s.Logger,
			}
			g.Go(func() error { return source.Run(gctx) })
		}
	}

	return ignoreCanceled(g.Wait())
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close stops feeding the relay and closes the relay channel and sink.
// It is safe to call more than once.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
		var errs []error
		// Only a router that has run is closed.
		if s.router != nil && s.routerStarted.Load() {
			errs = append(errs, s.router.Close())
		}
		errs = append(errs, s.channel.Close())
		if s.httpSink != nil {
			errs = append(errs, s.httpSink.Close())
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

// Tap is the capture point producers feed frames into.
func (s *Service) Tap() *capturepkg.Tap { return s.tap }

// Relay returns the relay buffer, or nil when the role does not run it.
func (s *Service) Relay() *relaypkg.Buffer { return s.buffer }

// Uplink returns the uplink queue, or nil when the role does not run it.
func (s *Service) Uplink() *uplinkpkg.Queue { return s.queue }

func (s *Service) Metrics() *telemetrypkg.PipelineMetrics { return s.metrics }

// Router returns the uplink consumer router, or nil for a relay-only service.
func (s *Service) Router() *message.Router { return s.router }

func (s *Service) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	if s.httpServers == nil {
		s.httpServers = make(map[int]*http.ServeMux)
	}

	mux, ok := s.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		s.httpServers[port] = mux
	}

	mux.Handle(pattern, handler)
}

func (s *Service) startHTTPServers(g *errgroup.Group, ctx context.Context) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	for port, mux := range s.httpServers {
		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": server.Addr})

		g.Go(func() error {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server %s: %w", server.Addr, err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}
}
