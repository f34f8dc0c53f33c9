package transport

// Capabilities describes what a relay channel backend guarantees.
type Capabilities struct {
	Name string `json:"name"`

	// Ordered means batches published from one relay are consumed in publish
	// order. Without it, cross-batch order at the uplink is best effort.
	Ordered bool `json:"ordered"`

	// CrossProcess means the relay and the uplink may run in different
	// processes. The in-memory channel is the only backend without it.
	CrossProcess bool `json:"cross_process"`

	// Acknowledged means the broker redelivers messages the uplink did not ack.
	Acknowledged bool `json:"acknowledged"`

	// MaxMessageSize is the largest payload in bytes (0 = unlimited/unknown).
	MaxMessageSize int64 `json:"max_message_size,omitempty"`
}

// SupportsRoleSplit reports whether relay and uplink can run as separate
// processes over this transport.
func (c Capabilities) SupportsRoleSplit() bool {
	return c.CrossProcess
}

// Fits reports whether a payload of size bytes is within MaxMessageSize.
func (c Capabilities) Fits(size int) bool {
	return c.MaxMessageSize <= 0 || int64(size) <= c.MaxMessageSize
}

// Predefined capability sets.
var (
	ChannelCapabilities = Capabilities{
		Name:         "channel",
		Ordered:      true,
		Acknowledged: true,
	}

	KafkaCapabilities = Capabilities{
		Name:           "kafka",
		Ordered:        true,
		CrossProcess:   true,
		Acknowledged:   true,
		MaxMessageSize: 1048576,
	}

	RabbitMQCapabilities = Capabilities{
		Name:         "rabbitmq",
		Ordered:      true,
		CrossProcess: true,
		Acknowledged: true,
	}

	NATSCapabilities = Capabilities{
		Name:           "nats",
		CrossProcess:   true,
		MaxMessageSize: 1048576,
	}

	// AWS SNS fans out to a standard SQS queue, which does not keep order.
	AWSCapabilities = Capabilities{
		Name:           "aws",
		CrossProcess:   true,
		Acknowledged:   true,
		MaxMessageSize: 262144,
	}

	HTTPCapabilities = Capabilities{
		Name:         "http",
		CrossProcess: true,
	}
)

// GetCapabilities returns the capabilities registered for a transport name.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}
