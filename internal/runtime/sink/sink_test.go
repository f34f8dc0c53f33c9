package sink

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	frerrors "github.com/drblury/framerelay/internal/runtime/errors"
	"github.com/drblury/framerelay/internal/runtime/frames"
	"github.com/drblury/framerelay/internal/runtime/logging"
)

type capturedRequest struct {
	method      string
	contentType string
	requestID   string
	body        []byte
}

type recordingServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests []capturedRequest
}

func newRecordingServer(t *testing.T, status int) *recordingServer {
	t.Helper()
	rs := &recordingServer{}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rs.mu.Lock()
		rs.requests = append(rs.requests, capturedRequest{
			method:      r.Method,
			contentType: r.Header.Get("Content-Type"),
			requestID:   r.Header.Get(HeaderRequestID),
			body:        body,
		})
		rs.mu.Unlock()
		if status >= 300 && status < 400 {
			w.Header().Set("Location", "/elsewhere")
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(rs.Close)
	return rs
}

func (rs *recordingServer) captured() []capturedRequest {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]capturedRequest(nil), rs.requests...)
}

func newSink(t *testing.T, target string) *HTTPSink {
	t.Helper()
	s, err := NewHTTPSink(Options{URL: target, Logger: logging.Discard()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleBatch() frames.Batch {
	return frames.Batch{
		{Kind: "WebcastChatMessage", Payload: "AQID", CapturedAt: time.UnixMilli(1700000000000)},
		{Kind: "WebcastLikeMessage", Payload: "BAU=", CapturedAt: time.UnixMilli(1700000000001)},
	}
}

func TestSendPostsJSONArray(t *testing.T) {
	srv := newRecordingServer(t, http.StatusOK)
	s := newSink(t, srv.URL+"/api/frames")

	require.NoError(t, s.Send(context.Background(), sampleBatch()))

	reqs := srv.captured()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodPost, reqs[0].method)
	assert.Equal(t, "application/json", reqs[0].contentType)
	_, err := ulid.Parse(reqs[0].requestID)
	assert.NoError(t, err, "request id should be a ULID")
	assert.JSONEq(t, `[
		{"method":"WebcastChatMessage","payload":"AQID","ts":1700000000000},
		{"method":"WebcastLikeMessage","payload":"BAU=","ts":1700000000001}
	]`, string(reqs[0].body))
}

func TestSendAcceptsAny2xx(t *testing.T) {
	for _, status := range []int{http.StatusOK, http.StatusCreated, http.StatusAccepted, http.StatusNoContent} {
		srv := newRecordingServer(t, status)
		s := newSink(t, srv.URL)
		assert.NoError(t, s.Send(context.Background(), sampleBatch()), "status %d", status)
	}
}

func TestSendFailsOutside2xx(t *testing.T) {
	for _, status := range []int{http.StatusMovedPermanently, http.StatusFound, http.StatusNotModified, http.StatusBadRequest, http.StatusInternalServerError, http.StatusBadGateway} {
		srv := newRecordingServer(t, status)
		s := newSink(t, srv.URL)

		err := s.Send(context.Background(), sampleBatch())
		require.Error(t, err, "status %d", status)

		var statusErr *StatusError
		if assert.ErrorAs(t, err, &statusErr) {
			assert.Equal(t, status, statusErr.StatusCode)
		}
		assert.Len(t, srv.captured(), 1, "redirects must not be followed")
	}
}

func TestSendTransportError(t *testing.T) {
	srv := newRecordingServer(t, http.StatusOK)
	target := srv.URL
	srv.Close()

	s := newSink(t, target)
	assert.Error(t, s.Send(context.Background(), sampleBatch()))
}

func TestSendHonoursTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	s, err := NewHTTPSink(Options{URL: srv.URL, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	start := time.Now()
	assert.Error(t, s.Send(context.Background(), sampleBatch()))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestSendEmptyBatchPostsEmptyArray(t *testing.T) {
	srv := newRecordingServer(t, http.StatusOK)
	s := newSink(t, srv.URL)

	require.NoError(t, s.Send(context.Background(), frames.Batch{}))
	assert.Equal(t, "[]", string(srv.captured()[0].body))
}

func TestNewHTTPSinkValidatesURL(t *testing.T) {
	_, err := NewHTTPSink(Options{})
	assert.ErrorIs(t, err, frerrors.ErrSinkURLRequired)

	for _, raw := range []string{"ftp://host/x", "/relative", "http://"} {
		_, err := NewHTTPSink(Options{URL: raw})
		assert.Error(t, err, raw)
	}
}

func TestStatusErrorMessage(t *testing.T) {
	err := &StatusError{StatusCode: http.StatusServiceUnavailable}
	assert.Equal(t, "sink: unexpected status 503 Service Unavailable", err.Error())
}
