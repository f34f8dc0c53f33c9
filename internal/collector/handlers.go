package collector

import (
	"context"
	"time"

	"github.com/drblury/framerelay/internal/runtime/frames"
	"github.com/drblury/framerelay/internal/runtime/logging"
)

// LogHandler logs the kind, size and capture time of each frame. It never
// looks inside the payload.
func LogHandler(log logging.ServiceLogger) Handler {
	if log == nil {
		log = logging.Discard()
	}
	return HandlerFunc(func(_ context.Context, frame frames.CapturedFrame) error {
		log.Info("Frame received", logging.LogFields{
			"kind":        frame.Kind,
			"bytes":       len(frame.Payload),
			"captured_at": frame.CapturedAt.Format(time.RFC3339Nano),
		})
		return nil
	})
}
