package runtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	idspkg "github.com/drblury/framerelay/internal/runtime/ids"
	loggingpkg "github.com/drblury/framerelay/internal/runtime/logging"
	metadatapkg "github.com/drblury/framerelay/internal/runtime/metadata"
)

type traceRecorder struct {
	loggingpkg.ServiceLogger
	traced []loggingpkg.LogFields
}

func (r *traceRecorder) Trace(msg string, fields loggingpkg.LogFields) {
	r.traced = append(r.traced, fields)
}

func newRouterService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(testConfig("http://127.0.0.1:1/frames"), loggingpkg.Discard(), context.Background(), func() ServiceDependencies {
		deps := testDeps()
		deps.DisableDefaultMiddlewares = true
		return deps
	}())
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestCorrelationIDMiddleware(t *testing.T) {
	t.Parallel()

	mw := CorrelationIDMiddleware().Middleware

	t.Run("adds missing id", func(t *testing.T) {
		msg := message.NewMessage(idspkg.CreateULID(), nil)
		called := false
		_, err := mw(func(m *message.Message) ([]*message.Message, error) {
			called = true
			if m.Metadata.Get(metadatapkg.KeyCorrelationID) == "" {
				t.Fatal("expected correlation id to be populated")
			}
			return nil, nil
		})(msg)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !called {
			t.Fatal("handler not invoked")
		}
	})

	t.Run("keeps existing id", func(t *testing.T) {
		msg := message.NewMessage(idspkg.CreateULID(), nil)
		msg.Metadata.Set(metadatapkg.KeyCorrelationID, "fixed")
		_, err := mw(func(m *message.Message) ([]*message.Message, error) {
			if m.Metadata.Get(metadatapkg.KeyCorrelationID) != "fixed" {
				t.Fatal("expected correlation id to be preserved")
			}
			return nil, nil
		})(msg)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestLogMessagesMiddlewareOmitsPayload(t *testing.T) {
	rec := &traceRecorder{ServiceLogger: loggingpkg.Discard()}
	mw := logMessagesMiddleware(rec)

	msg := message.NewMessage("uuid-1", []byte("secret-frames"))
	msg.Metadata.Set(metadatapkg.KeyItemCount, "3")
	_, err := mw(func(*message.Message) ([]*message.Message, error) { return nil, nil })(msg)
	require.NoError(t, err)

	require.Len(t, rec.traced, 1)
	fields := rec.traced[0]
	assert.Equal(t, "uuid-1", fields["message_uuid"])
	assert.Equal(t, len("secret-frames"), fields["payload_bytes"])
	for _, v := range fields {
		if s, ok := v.(string); ok && s == "secret-frames" {
			t.Fatal("payload must not be logged")
		}
	}
}

func TestLogMessagesMiddlewareFallsBackToServiceLogger(t *testing.T) {
	rec := &traceRecorder{ServiceLogger: loggingpkg.Discard()}
	svc := &Service{Logger: rec}

	mw, err := LogMessagesMiddleware(nil).Builder(svc)
	require.NoError(t, err)
	_, _ = mw(func(*message.Message) ([]*message.Message, error) { return nil, nil })(message.NewMessage("m", nil))
	assert.Len(t, rec.traced, 1)

	_, err = LogMessagesMiddleware(nil).Builder(&Service{})
	assert.Error(t, err)
}

func TestTracerMiddlewareSetsSpanContext(t *testing.T) {
	wantErr := errors.New("boom")
	msg := message.NewMessage("m", nil)

	var seen trace.Span
	_, err := tracerMiddleware(func(m *message.Message) ([]*message.Message, error) {
		seen = trace.SpanFromContext(m.Context())
		return nil, wantErr
	})(msg)

	assert.ErrorIs(t, err, wantErr)
	assert.NotNil(t, seen)
}

func TestRegisterMiddlewareValidations(t *testing.T) {
	if err := (&Service{}).RegisterMiddleware(CorrelationIDMiddleware()); err == nil {
		t.Fatal("expected error without router")
	}

	svc := newRouterService(t)

	err := svc.RegisterMiddleware(MiddlewareRegistration{Name: "empty"})
	assert.ErrorContains(t, err, "requires Middleware or Builder")

	builderErr := errors.New("builder failed")
	err = svc.RegisterMiddleware(MiddlewareRegistration{
		Name:    "broken",
		Builder: func(*Service) (message.HandlerMiddleware, error) { return nil, builderErr },
	})
	assert.ErrorIs(t, err, builderErr)

	err = svc.RegisterMiddleware(MiddlewareRegistration{
		Name:    "skipped",
		Builder: func(*Service) (message.HandlerMiddleware, error) { return nil, nil },
	})
	assert.NoError(t, err)
}

func TestMetricsMiddlewareDisabled(t *testing.T) {
	svc := newRouterService(t)

	mw, err := MetricsMiddleware().Builder(svc)
	require.NoError(t, err)
	assert.Nil(t, mw)
}

func TestMetricsMiddlewareEnabled(t *testing.T) {
	svc := newRouterService(t)
	svc.Conf.MetricsEnabled = true

	mw, err := MetricsMiddleware().Builder(svc)
	require.NoError(t, err)
	require.NotNil(t, mw)

	_, err = mw(func(*message.Message) ([]*message.Message, error) { return nil, nil })(message.NewMessage("m", nil))
	assert.NoError(t, err)
}

func TestNewServiceRejectsBrokenMiddleware(t *testing.T) {
	deps := testDeps()
	deps.Middlewares = []MiddlewareRegistration{{}}

	_, err := NewService(testConfig("http://127.0.0.1:1/frames"), loggingpkg.Discard(), context.Background(), deps)
	assert.ErrorContains(t, err, "register middleware anonymous_middleware")
}

func TestNewServiceFailingBuilderReturnsPromptly(t *testing.T) {
	deps := testDeps()
	deps.Middlewares = []MiddlewareRegistration{{
		Name: "broken",
		Builder: func(*Service) (message.HandlerMiddleware, error) {
			return nil, errors.New("builder failed")
		},
	}}

	started := time.Now()
	_, err := NewService(testConfig("http://127.0.0.1:1/frames"), loggingpkg.Discard(), context.Background(), deps)
	took := time.Since(started)

	require.ErrorContains(t, err, "register middleware broken: builder failed")
	if took >= shutdownTimeout {
		t.Fatalf("NewService took %s to clean up after a failed builder", took)
	}
}
