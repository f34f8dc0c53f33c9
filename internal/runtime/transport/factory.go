// Package transport builds the relay channel for a Service from its config.
package transport

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/drblury/framerelay/internal/runtime/config"
	frerrors "github.com/drblury/framerelay/internal/runtime/errors"
	"github.com/drblury/framerelay/transport"

	_ "github.com/drblury/framerelay/transport/transports"
)

// Channel is a built relay channel plus what the backend guarantees.
type Channel struct {
	transport.Transport
	Capabilities transport.Capabilities
}

// Factory abstracts how a Service obtains its relay channel.
type Factory interface {
	Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Channel, error)
}

// DefaultFactory builds from the global transport registry.
func DefaultFactory() Factory {
	return registryFactory{registry: transport.DefaultRegistry}
}

// NewFactory builds from reg.
func NewFactory(reg *transport.Registry) Factory {
	return registryFactory{registry: reg}
}

type registryFactory struct {
	registry *transport.Registry
}

func (f registryFactory) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Channel, error) {
	if conf == nil {
		return Channel{}, frerrors.ErrConfigRequired
	}

	name := conf.RelayTransport
	caps := f.registry.GetCapabilities(name)
	if conf.Role != "" && conf.Role != config.RoleAll && f.registry.Has(name) && !caps.SupportsRoleSplit() {
		return Channel{}, fmt.Errorf("transport %q is in-process only and cannot serve role %q", name, conf.Role)
	}

	t, err := f.registry.Build(ctx, conf, logger)
	if err != nil {
		return Channel{}, err
	}
	if conf.RunsRelay() && t.Publisher == nil {
		_ = t.Close()
		return Channel{}, fmt.Errorf("transport %q: %w", name, frerrors.ErrPublisherRequired)
	}
	if conf.RunsUplink() && t.Subscriber == nil {
		_ = t.Close()
		return Channel{}, fmt.Errorf("transport %q: %w", name, frerrors.ErrSubscriberRequired)
	}

	return Channel{Transport: t, Capabilities: caps}, nil
}
