// Package sink delivers uplink batches to the remote collector over HTTP.
package sink

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmhttp "github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"

	frerrors "github.com/drblury/framerelay/internal/runtime/errors"
	"github.com/drblury/framerelay/internal/runtime/frames"
	"github.com/drblury/framerelay/internal/runtime/ids"
	"github.com/drblury/framerelay/internal/runtime/logging"
)

const (
	// HeaderRequestID carries the ULID of the request.
	HeaderRequestID = "X-Request-Id"
	contentTypeJSON = "application/json"
)

// StatusError reports a response outside the 2xx range.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("sink: unexpected status %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(config wmhttp.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return wmhttp.NewPublisher(config, logger)
}

// Options configures an HTTPSink.
type Options struct {
	URL string
	// Timeout bounds one request. Zero leaves it to the transport.
	Timeout time.Duration
	// Client is used as the base client; its Transport is wrapped.
	Client *http.Client
	Logger logging.ServiceLogger
}

// HTTPSink posts each batch as a JSON array to a fixed URL.
type HTTPSink struct {
	url       string
	timeout   time.Duration
	publisher message.Publisher
	log       logging.ServiceLogger
}

func NewHTTPSink(opts Options) (*HTTPSink, error) {
	if opts.URL == "" {
		return nil, frerrors.ErrSinkURLRequired
	}
	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("sink: parse url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("sink: url %q must be absolute http(s)", opts.URL)
	}

	log := logging.ForStage(opts.Logger, "sink")
	s := &HTTPSink{url: opts.URL, timeout: opts.Timeout, log: log}

	publisher, err := PublisherFactory(wmhttp.PublisherConfig{
		MarshalMessageFunc: s.marshalRequest,
		Client:             guardedClient(opts.Client),
	}, logging.NewWatermillAdapter(log))
	if err != nil {
		return nil, fmt.Errorf("sink: create publisher: %w", err)
	}
	s.publisher = publisher
	return s, nil
}

// Send posts batch and returns nil only for a 2xx response.
func (s *HTTPSink) Send(ctx context.Context, batch frames.Batch) error {
	body, err := frames.MarshalWire(batch)
	if err != nil {
		return fmt.Errorf("sink: encode batch: %w", err)
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	msg := message.NewMessage(ids.CreateULID(), body)
	msg.SetContext(ctx)
	if err := s.publisher.Publish(s.url, msg); err != nil {
		return fmt.Errorf("sink: post %d items: %w", len(batch), err)
	}
	return nil
}

func (s *HTTPSink) Close() error {
	return s.publisher.Close()
}

// marshalRequest ignores topic: the publisher is always called with the sink URL.
func (s *HTTPSink) marshalRequest(target string, msg *message.Message) (*http.Request, error) {
	req, err := http.NewRequestWithContext(msg.Context(), http.MethodPost, target, bytes.NewReader(msg.Payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set(HeaderRequestID, msg.UUID)
	return req, nil
}

// guardedClient copies base and makes every non-2xx response an error,
// redirects included.
func guardedClient(base *http.Client) *http.Client {
	client := &http.Client{}
	if base != nil {
		*client = *base
	}
	next := client.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	client.Transport = statusGuard{next: next}
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return client
}

type statusGuard struct {
	next http.RoundTripper
}

func (g statusGuard) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := g.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}
	return resp, nil
}
