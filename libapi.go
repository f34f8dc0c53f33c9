package framerelay

import (
	runtimepkg "github.com/drblury/framerelay/internal/runtime"
	capturepkg "github.com/drblury/framerelay/internal/runtime/capture"
	configpkg "github.com/drblury/framerelay/internal/runtime/config"
	errspkg "github.com/drblury/framerelay/internal/runtime/errors"
	framespkg "github.com/drblury/framerelay/internal/runtime/frames"
	idspkg "github.com/drblury/framerelay/internal/runtime/ids"
	jsoncodec "github.com/drblury/framerelay/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/framerelay/internal/runtime/logging"
	relaycodecpkg "github.com/drblury/framerelay/internal/runtime/relaycodec"
	sinkpkg "github.com/drblury/framerelay/internal/runtime/sink"
	telemetrypkg "github.com/drblury/framerelay/internal/runtime/telemetry"
	transportpkg "github.com/drblury/framerelay/internal/runtime/transport"
	uplinkpkg "github.com/drblury/framerelay/internal/runtime/uplink"
	newtransport "github.com/drblury/framerelay/transport"
)

type (
	Config              = configpkg.Config
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies
	Status              = runtimepkg.Status
	TransportFactory    = transportpkg.Factory
	RelayChannel        = transportpkg.Channel

	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration

	CapturedFrame = framespkg.CapturedFrame
	EncodedItem   = framespkg.EncodedItem
	Batch         = framespkg.Batch
	Tap           = capturepkg.Tap
	Sink          = uplinkpkg.Sink
	SinkFunc      = uplinkpkg.SinkFunc
	SendResult    = uplinkpkg.SendResult
	StatusError   = sinkpkg.StatusError
	Snapshot      = telemetrypkg.Snapshot

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	ConfigValidationError = errspkg.ConfigValidationError

	TransportBuilder      = newtransport.Builder
	TransportConfig       = newtransport.Config
	TransportRegistry     = newtransport.Registry
	TransportCapabilities = newtransport.Capabilities
)

var (
	NewService    = runtimepkg.NewService
	DefaultConfig = configpkg.Default
	LoadConfig    = configpkg.Load

	DefaultMiddlewares      = runtimepkg.DefaultMiddlewares
	CorrelationIDMiddleware = runtimepkg.CorrelationIDMiddleware
	LogMessagesMiddleware   = runtimepkg.LogMessagesMiddleware
	TracerMiddleware        = runtimepkg.TracerMiddleware
	MetricsMiddleware       = runtimepkg.MetricsMiddleware
	RecovererMiddleware     = runtimepkg.RecovererMiddleware

	NewTransportFactory      = transportpkg.NewFactory
	DefaultTransportRegistry = newtransport.DefaultRegistry
	RegisterTransport        = newtransport.Register
	BuildTransport           = newtransport.Build

	RelayCodecs = relaycodecpkg.Names

	Marshal   = jsoncodec.Marshal
	Unmarshal = jsoncodec.Unmarshal
	Encode    = jsoncodec.Encode
	Decode    = jsoncodec.Decode

	ErrConfigRequired     = errspkg.ErrConfigRequired
	ErrLoggerRequired     = errspkg.ErrLoggerRequired
	ErrPublisherRequired  = errspkg.ErrPublisherRequired
	ErrSubscriberRequired = errspkg.ErrSubscriberRequired
	ErrSinkURLRequired    = errspkg.ErrSinkURLRequired
	ErrChannelUnavailable = errspkg.ErrChannelUnavailable

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	BuildSlog                 = loggingpkg.BuildSlog
	DiscardLogger             = loggingpkg.Discard

	CreateULID = idspkg.CreateULID
)

// Roles accepted by Config.Role.
const (
	RoleAll    = configpkg.RoleAll
	RoleRelay  = configpkg.RoleRelay
	RoleUplink = configpkg.RoleUplink
)
