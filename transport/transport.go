// Package transport defines the relay channel between the relay buffer and the
// uplink consumer. Each backend (channel, nats, kafka, ...) lives in its own
// sub-package and registers itself with the registry from an init function.
package transport

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Transport is the publisher/subscriber pair backing the relay channel.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Close closes the publisher and then the subscriber. Either may be nil.
func (t Transport) Close() error {
	var first error
	if t.Publisher != nil {
		first = t.Publisher.Close()
	}
	if t.Subscriber != nil {
		if err := t.Subscriber.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Builder creates a transport from config.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config is the subset of the framerelay configuration transports read.
type Config interface {
	// GetRelayTransport returns the registered transport name.
	GetRelayTransport() string

	GetKafkaBrokers() []string
	GetKafkaConsumerGroup() string

	GetRabbitMQURL() string

	GetNATSURL() string

	// HTTP: the uplink side listens on the server address, the relay side
	// posts to the publisher URL.
	GetHTTPServerAddress() string
	GetHTTPPublisherURL() string

	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}

// CapabilitiesProvider is implemented by transports that can report their capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}
