package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coder/websocket"

	"github.com/drblury/framerelay/internal/runtime/logging"
)

// ReconnectSchedule is the delay before each successive reconnect attempt.
// Attempts past the end wait ReconnectCeiling.
var ReconnectSchedule = []time.Duration{
	time.Second, time.Second, time.Second,
	5 * time.Second, 5 * time.Second, 5 * time.Second,
	15 * time.Second, 15 * time.Second, 15 * time.Second,
}

const ReconnectCeiling = 30 * time.Second

// ReconnectDelay returns the backoff for the given attempt.
func ReconnectDelay(attempt int) time.Duration {
	if attempt >= 0 && attempt < len(ReconnectSchedule) {
		return ReconnectSchedule[attempt]
	}
	return ReconnectCeiling
}

// WebSocketSource reads binary messages from a WebSocket feed and reports each
// one to a Tap under a fixed kind. Text messages are ignored.
type WebSocketSource struct {
	URL  string
	Kind string
	Tap  *Tap
	Log  logging.ServiceLogger

	// Delay overrides ReconnectDelay, mainly for tests.
	Delay func(attempt int) time.Duration
	// ReadLimit caps a single message; zero keeps the library default.
	ReadLimit int64
}

// Run reads until ctx is cancelled, reconnecting on the backoff schedule.
// The attempt counter resets after every successful connection.
func (s *WebSocketSource) Run(ctx context.Context) error {
	if s.Tap == nil {
		return errors.New("capture: websocket source needs a tap")
	}
	log := logging.ForStage(s.Log, "capture").With(logging.LogFields{"url": s.URL, "kind": s.Kind})
	delay := s.Delay
	if delay == nil {
		delay = ReconnectDelay
	}

	attempt := 0
	for {
		connected, err := s.readOnce(ctx, log)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			attempt = 0
		}
		wait := delay(attempt)
		attempt++
		log.Error("capture feed lost; retrying", err, logging.LogFields{"backoff": wait.String()})

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (s *WebSocketSource) readOnce(ctx context.Context, log logging.ServiceLogger) (bool, error) {
	conn, _, err := websocket.Dial(ctx, s.URL, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer func() {
		_ = conn.Close(websocket.StatusNormalClosure, "capture stopped")
	}()
	if s.ReadLimit > 0 {
		conn.SetReadLimit(s.ReadLimit)
	}
	log.Info("capture feed connected", nil)

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			var ce websocket.CloseError
			if errors.As(err, &ce) {
				return true, fmt.Errorf("closed by peer (%d): %s", ce.Code, ce.Reason)
			}
			return true, err
		}
		if typ != websocket.MessageBinary {
			continue
		}
		s.Tap.Observe(s.Kind, data)
	}
}
