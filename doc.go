// Package framerelay moves binary frames captured at an instrumentation point
// to a remote HTTP collector. Frames are filtered against an allow-list at the
// capture Tap, buffered by the relay, carried over a relay channel as tagged
// batches, and queued by the uplink, which posts them to the sink as a JSON
// array of {method, payload, ts} objects with base64 payloads.
//
// Every queue is bounded. The relay keeps the newest frames when it overflows;
// the uplink truncates its oldest items on arrival and, after a failed send,
// puts the batch back at the head and drops the newest arrivals instead.
// At most one uplink request is in flight at any time.
//
// A minimal setup fills Config, creates a Service, feeds frames into
// Service.Tap and calls Start:
//
//	cfg := framerelay.DefaultConfig()
//	cfg.SinkURL = "http://collector:8080/api/frames"
//	svc, err := framerelay.NewService(&cfg, logger, ctx, framerelay.ServiceDependencies{})
//
// # Transports
//
// The relay channel is any registered transport:
//   - channel: in-process Go channels (the default; role "all" only)
//   - nats: NATS core subjects
//   - kafka: one partition keyed per relay, preserving batch order
//   - rabbitmq: durable AMQP queues with prefetch 1
//   - http: relay POSTs to an uplink HTTP subscriber
//   - aws: SNS topics fanned out to SQS queues, LocalStack aware
//
// Cross-process transports let the relay and the uplink run as separate
// processes (roles "relay" and "uplink").
//
// # Middleware
//
// The uplink consumes the relay topic through a Watermill router whose default
// chain adds correlation ids, trace logging, OpenTelemetry spans, Prometheus
// router metrics and panic recovery. Custom middleware can be added via
// ServiceDependencies.Middlewares.
package framerelay
