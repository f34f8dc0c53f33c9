package runtime

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	configpkg "github.com/drblury/framerelay/internal/runtime/config"
	frerrors "github.com/drblury/framerelay/internal/runtime/errors"
	framespkg "github.com/drblury/framerelay/internal/runtime/frames"
	jsoncodecpkg "github.com/drblury/framerelay/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/framerelay/internal/runtime/logging"
	relaypkg "github.com/drblury/framerelay/internal/runtime/relay"
	transportpkg "github.com/drblury/framerelay/internal/runtime/transport"
	uplinkpkg "github.com/drblury/framerelay/internal/runtime/uplink"
	"github.com/drblury/framerelay/transport"
	kafkatransport "github.com/drblury/framerelay/transport/kafka"
	"github.com/drblury/framerelay/transport/transporttest"
)

func testDeps() ServiceDependencies {
	reg := prometheus.NewRegistry()
	return ServiceDependencies{
		Registerer:            reg,
		Gatherer:              reg,
		DisableSignalsHandler: true,
	}
}

func testConfig(sinkURL string) *configpkg.Config {
	cfg := configpkg.Default()
	cfg.SinkURL = sinkURL
	cfg.RelayFlushInterval = 10 * time.Millisecond
	cfg.UplinkSendInterval = 10 * time.Millisecond
	return &cfg
}

type factoryFunc func(ctx context.Context, conf *configpkg.Config, logger watermill.LoggerAdapter) (transportpkg.Channel, error)

func (f factoryFunc) Build(ctx context.Context, conf *configpkg.Config, logger watermill.LoggerAdapter) (transportpkg.Channel, error) {
	return f(ctx, conf, logger)
}

type sinkRecorder struct {
	*httptest.Server
	mu     sync.Mutex
	bodies [][]byte
}

func newSinkRecorder(t *testing.T, status int) *sinkRecorder {
	t.Helper()
	rec := &sinkRecorder{}
	rec.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rec.mu.Lock()
		rec.bodies = append(rec.bodies, body)
		rec.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(rec.Close)
	return rec
}

func (r *sinkRecorder) received() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.bodies...)
}

func TestNewServiceRequiresConfigAndLogger(t *testing.T) {
	_, err := NewService(nil, loggingpkg.Discard(), context.Background(), testDeps())
	assert.ErrorIs(t, err, frerrors.ErrConfigRequired)

	_, err = NewService(testConfig("http://127.0.0.1:1/frames"), nil, context.Background(), testDeps())
	assert.ErrorIs(t, err, frerrors.ErrLoggerRequired)
}

func TestNewServiceRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig("")
	cfg.UplinkBatchSize = 0

	_, err := NewService(cfg, loggingpkg.Discard(), context.Background(), testDeps())

	var cfgErr frerrors.ConfigValidationError
	require.ErrorAs(t, err, &cfgErr)
	assert.ErrorIs(t, err, frerrors.ErrSinkURLRequired)
	assert.ErrorIs(t, err, frerrors.ErrInvalidBatchSize)
}

func TestNewServicePropagatesFactoryError(t *testing.T) {
	deps := testDeps()
	deps.TransportFactory = factoryFunc(func(context.Context, *configpkg.Config, watermill.LoggerAdapter) (transportpkg.Channel, error) {
		return transportpkg.Channel{}, errors.New("broker down")
	})

	_, err := NewService(testConfig("http://127.0.0.1:1/frames"), loggingpkg.Discard(), context.Background(), deps)
	if err == nil || err.Error() != "build relay transport: broker down" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNewServiceConfiguresKafka(t *testing.T) {
	origPub := kafkatransport.PublisherFactory
	origSub := kafkatransport.SubscriberFactory
	t.Cleanup(func() {
		kafkatransport.PublisherFactory = origPub
		kafkatransport.SubscriberFactory = origSub
	})

	var consumerGroup string
	kafkatransport.PublisherFactory = func(kafka.PublisherConfig, watermill.LoggerAdapter) (message.Publisher, error) {
		return transporttest.Publisher{}, nil
	}
	kafkatransport.SubscriberFactory = func(cfg kafka.SubscriberConfig, _ watermill.LoggerAdapter) (message.Subscriber, error) {
		consumerGroup = cfg.ConsumerGroup
		return transporttest.Subscriber{}, nil
	}

	cfg := testConfig("http://127.0.0.1:1/frames")
	cfg.RelayTransport = "kafka"
	cfg.KafkaBrokers = []string{"b1"}
	cfg.KafkaConsumerGroup = "group"

	svc, err := NewService(cfg, loggingpkg.Discard(), context.Background(), testDeps())
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	assert.Equal(t, "group", consumerGroup)
	assert.Equal(t, "kafka", svc.Status().Transport.Name)
	assert.NotNil(t, svc.Relay())
	assert.NotNil(t, svc.Uplink())
	assert.NotNil(t, svc.Router())
}

func TestNewServiceRelayRoleSkipsUplink(t *testing.T) {
	reg := transport.NewRegistry()
	reg.RegisterWithCapabilities("remote", func(context.Context, transport.Config, watermill.LoggerAdapter) (transport.Transport, error) {
		return transport.Transport{Publisher: transporttest.Publisher{}}, nil
	}, transport.Capabilities{Name: "remote", CrossProcess: true})

	cfg := testConfig("")
	cfg.Role = configpkg.RoleRelay
	cfg.RelayTransport = "remote"
	deps := testDeps()
	deps.TransportFactory = transportpkg.NewFactory(reg)

	svc, err := NewService(cfg, loggingpkg.Discard(), context.Background(), deps)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	assert.NotNil(t, svc.Relay())
	assert.Nil(t, svc.Uplink())
	assert.Nil(t, svc.Router())

	status := svc.Status()
	assert.NotNil(t, status.Relay)
	assert.Nil(t, status.Uplink)
}

func TestCloseIsIdempotent(t *testing.T) {
	svc, err := NewService(testConfig("http://127.0.0.1:1/frames"), loggingpkg.Discard(), context.Background(), testDeps())
	require.NoError(t, err)

	started := time.Now()
	require.NoError(t, svc.Close())
	require.NoError(t, svc.Close())
	if took := time.Since(started); took >= shutdownTimeout {
		t.Fatalf("Close of an unstarted service took %s", took)
	}
}

func TestStartReturnsNilOnCancel(t *testing.T) {
	svc, err := NewService(testConfig("http://127.0.0.1:1/frames"), loggingpkg.Discard(), context.Background(), testDeps())
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx) }()

	<-svc.Router().Running()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
	assert.NoError(t, svc.Close())
}

func TestServiceDeliversCapturedFramesToSink(t *testing.T) {
	sink := newSinkRecorder(t, http.StatusOK)
	cfg := testConfig(sink.URL + "/api/frames")

	svc, err := NewService(cfg, loggingpkg.Discard(), context.Background(), testDeps())
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	capturedAt := time.UnixMilli(1700000000000)
	require.True(t, svc.Tap().ObserveAt("WebcastChatMessage", []byte{1, 2, 3}, capturedAt))
	require.True(t, svc.Tap().ObserveAt("WebcastChatMessage", []byte{4, 5}, capturedAt))
	require.False(t, svc.Tap().ObserveAt("NotAllowed", []byte{9}, capturedAt))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx) }()

	require.Eventually(t, func() bool { return len(sink.received()) > 0 }, 5*time.Second, 10*time.Millisecond)

	assert.JSONEq(t, `[
		{"method":"WebcastChatMessage","payload":"AQID","ts":1700000000000},
		{"method":"WebcastChatMessage","payload":"BAU=","ts":1700000000000}
	]`, string(sink.received()[0]))

	require.Eventually(t, func() bool { return svc.Uplink().Len() == 0 && !svc.Uplink().InFlight() }, 5*time.Second, 10*time.Millisecond)
	assert.Zero(t, svc.Relay().Len())

	snap := svc.Metrics().Snapshot()
	assert.Equal(t, uint64(2), snap.FramesAccepted)
	assert.Equal(t, uint64(1), snap.FramesRejected)
	assert.Equal(t, uint64(2), snap.ItemsDelivered)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

func TestServiceKeepsItemsWhileSinkFails(t *testing.T) {
	sink := newSinkRecorder(t, http.StatusInternalServerError)
	svc, err := NewService(testConfig(sink.URL), loggingpkg.Discard(), context.Background(), testDeps())
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	svc.Tap().Observe("WebcastLikeMessage", []byte{1})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = svc.Start(ctx) }()

	require.Eventually(t, func() bool { return len(sink.received()) >= 2 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, svc.Uplink().Len())
	assert.Positive(t, svc.Metrics().Snapshot().SendFailures)
}

func TestStatusHandler(t *testing.T) {
	svc, err := NewService(testConfig("http://127.0.0.1:1/frames"), loggingpkg.Discard(), context.Background(), testDeps())
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	svc.Tap().ObserveAt("WebcastGiftMessage", []byte{7}, time.UnixMilli(5))

	rec := httptest.NewRecorder()
	svc.handleStatus(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var status Status
	require.NoError(t, jsoncodecpkg.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, configpkg.RoleAll, status.Role)
	assert.Equal(t, "channel", status.Transport.Name)
	require.NotNil(t, status.Relay)
	assert.Equal(t, 1, status.Relay.Depth)
	assert.Equal(t, 3000, status.Relay.Capacity)
	require.NotNil(t, status.Uplink)
	assert.Equal(t, 10000, status.Uplink.Capacity)
	assert.Equal(t, uint64(1), status.Counters.FramesAccepted)

	rec = httptest.NewRecorder()
	svc.handleStatus(rec, httptest.NewRequest(http.MethodPost, "/status", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, http.MethodGet, rec.Header().Get("Allow"))
}

func TestRelayFlushDoesNotWaitForSink(t *testing.T) {
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	deps := testDeps()
	deps.Sink = uplinkpkg.SinkFunc(func(ctx context.Context, _ framespkg.Batch) error {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		return nil
	})

	cfg := testConfig("http://127.0.0.1:1/frames")
	cfg.RelayFlushInterval = time.Hour
	svc, err := NewService(cfg, loggingpkg.Discard(), context.Background(), deps)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx) }()
	<-svc.Router().Running()

	svc.Tap().Observe("WebcastChatMessage", []byte{1})
	require.Equal(t, relaypkg.FlushPublished, svc.Relay().Flush(ctx))
	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("sink was never called")
	}

	svc.Tap().Observe("WebcastChatMessage", []byte{2})
	flushed := make(chan relaypkg.FlushResult, 1)
	go func() { flushed <- svc.Relay().Flush(ctx) }()
	select {
	case res := <-flushed:
		assert.Equal(t, relaypkg.FlushPublished, res)
	case <-time.After(2 * time.Second):
		t.Fatal("Flush waited on the blocked sink")
	}
	assert.Equal(t, 1, svc.Uplink().Len())

	close(release)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

func TestStatusReportsEvictions(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1/frames")
	cfg.RelayCapacity = 1
	svc, err := NewService(cfg, loggingpkg.Discard(), context.Background(), testDeps())
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	svc.Tap().Observe("WebcastChatMessage", []byte{1})
	svc.Tap().Observe("WebcastChatMessage", []byte{2})
	svc.Tap().Observe("WebcastChatMessage", []byte{3})

	status := svc.Status()
	require.NotNil(t, status.Relay)
	assert.Equal(t, 1, status.Relay.Depth)
	assert.Equal(t, uint64(2), status.Relay.Evicted)
	require.NotNil(t, status.Uplink)
	assert.Equal(t, uint64(0), status.Uplink.Evicted)
}

func TestMetricsEnabledRegistersHandlers(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1/frames")
	cfg.MetricsEnabled = true
	cfg.MetricsPort = 19090
	deps := testDeps()

	svc, err := NewService(cfg, loggingpkg.Discard(), context.Background(), deps)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	mux := svc.httpServers[19090]
	require.NotNil(t, mux)
	for _, path := range []string{"/metrics", "/healthz", "/status"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	families, err := deps.Gatherer.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestRegisterHTTPHandlerSharesMuxPerPort(t *testing.T) {
	svc := &Service{}
	svc.RegisterHTTPHandler(8081, "/a", http.NotFoundHandler())
	svc.RegisterHTTPHandler(8081, "/b", http.NotFoundHandler())
	svc.RegisterHTTPHandler(8082, "/c", http.NotFoundHandler())

	if len(svc.httpServers) != 2 {
		t.Fatalf("expected 2 muxes, got %d", len(svc.httpServers))
	}
}
