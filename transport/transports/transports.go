// Package transports imports every built-in relay transport for registration.
package transports

import (
	_ "github.com/drblury/framerelay/transport/aws"
	_ "github.com/drblury/framerelay/transport/channel"
	_ "github.com/drblury/framerelay/transport/http"
	_ "github.com/drblury/framerelay/transport/kafka"
	_ "github.com/drblury/framerelay/transport/nats"
	_ "github.com/drblury/framerelay/transport/rabbitmq"
)
