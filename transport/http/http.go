// Package http carries the relay channel as HTTP POSTs from the relay process
// to a listener in the uplink process.
package http

import (
	"context"
	nethttp "net/http"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/framerelay/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "http"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(config http.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return http.NewPublisher(config, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(addr string, config http.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return http.NewSubscriber(addr, config, logger)
}

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.HTTPCapabilities)
}

// TopicPath is the URL path a topic is served on.
func TopicPath(topic string) string {
	return "/" + strings.TrimPrefix(topic, "/")
}

// Build creates the HTTP transport. Without a server address only the
// publishing side is built, which is all a relay-only process needs.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	base := strings.TrimSuffix(cfg.GetHTTPPublisherURL(), "/")

	publisher, err := PublisherFactory(
		http.PublisherConfig{
			MarshalMessageFunc: func(topic string, msg *message.Message) (*nethttp.Request, error) {
				return http.DefaultMarshalMessageFunc(base+TopicPath(topic), msg)
			},
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, err
	}

	addr := cfg.GetHTTPServerAddress()
	if addr == "" {
		return transport.Transport{Publisher: publisher}, nil
	}

	subscriber, err := SubscriberFactory(
		addr,
		http.SubscriberConfig{
			UnmarshalMessageFunc: http.DefaultUnmarshalMessageFunc,
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  publisher,
		Subscriber: &lazyServer{Subscriber: subscriber, logger: logger},
	}, nil
}

func Capabilities() transport.Capabilities {
	return transport.HTTPCapabilities
}

// lazyServer maps topics to paths and starts the listener after the first
// route is registered.
type lazyServer struct {
	message.Subscriber
	logger watermill.LoggerAdapter
	start  sync.Once
}

type httpServer interface {
	StartHTTPServer() error
}

func (s *lazyServer) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	messages, err := s.Subscriber.Subscribe(ctx, TopicPath(topic))
	if err != nil {
		return nil, err
	}
	if server, ok := s.Subscriber.(httpServer); ok {
		s.start.Do(func() {
			go func() {
				if err := server.StartHTTPServer(); err != nil && err != nethttp.ErrServerClosed {
					s.logger.Error("HTTP relay listener stopped", err, nil)
				}
			}()
		})
	}
	return messages, nil
}
