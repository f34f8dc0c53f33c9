/*
Package runtime wires the framerelay pipeline.

# Architecture Overview

Frames enter through a capture Tap, are buffered by the relay, cross a relay
channel (any Watermill publisher/subscriber pair) as tagged batches, and are
queued by the uplink until an HTTP sink accepts them. Every queue is bounded
and every overflow evicts the oldest data it can.

	capture.Tap -> relay.Buffer -> relay channel -> uplink.Queue -> sink

# Package Structure

## Core Service (service.go)

The Service struct builds the stages for the configured role:
  - "all" runs relay and uplink in one process
  - "relay" runs capture and the relay buffer only
  - "uplink" runs the relay consumer, uplink queue and sink only

The uplink side consumes the relay topic through a Watermill router so the
middleware chain applies to every batch.

## Middleware (middleware.go)

  - CorrelationID: stamps consumed batches with a correlation id
  - LogMessages: trace-level metadata logging, never payloads
  - Tracer: OpenTelemetry span per consumed batch
  - Metrics: Watermill Prometheus router metrics
  - Recoverer: panic recovery

## Status (status.go)

/metrics, /healthz and /status on MetricsPort when metrics are enabled.

# Sub-packages

  - capture/: the Tap and the WebSocket capture source
  - config/: configuration, validation, YAML and flag loading
  - errors/: sentinel errors
  - frames/: captured frames, encoded items and the sink wire format
  - ids/: ULID generation
  - jsoncodec/: JSON encoding
  - logging/: logger contract and adapters
  - metadata/: relay message tags
  - queue/: the bounded ring shared by relay and uplink
  - relay/: the relay buffer
  - relaycodec/: relay batch codecs (JSON, protowire)
  - sink/: the HTTP sink
  - telemetry/: Prometheus collectors and tracing helpers
  - transport/: relay channel factory
  - uplink/: the uplink queue and relay consumer

# Usage Example

	cfg := framerelay.DefaultConfig()
	cfg.SinkURL = "http://collector:8080/api/frames"

	svc, err := framerelay.NewService(&cfg, logger, ctx, framerelay.ServiceDependencies{})
	if err != nil {
		return err
	}
	defer svc.Close()

	svc.Tap().Observe("WebcastChatMessage", payload)
	return svc.Start(ctx)
*/
package runtime
