package uplink

import (
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	frerrors "github.com/drblury/framerelay/internal/runtime/errors"
	"github.com/drblury/framerelay/internal/runtime/frames"
	"github.com/drblury/framerelay/internal/runtime/ids"
	"github.com/drblury/framerelay/internal/runtime/logging"
	"github.com/drblury/framerelay/internal/runtime/metadata"
	"github.com/drblury/framerelay/internal/runtime/relaycodec"
)

// RelayHandler returns the router handler that feeds relay batches into q.
// Messages without the batch type tag, with an unknown codec or with an
// undecodable payload are logged and acknowledged so they never loop.
func RelayHandler(q *Queue, log logging.ServiceLogger) message.NoPublishHandlerFunc {
	log = logging.ForStage(log, "uplink_consumer")
	return func(msg *message.Message) error {
		fields := logging.LogFields{"message_uuid": msg.UUID}

		batch, err := decodeInto(q, msg)
		if err != nil {
			log.Error("relay message discarded", err, fields)
			return nil
		}
		fields["items"] = len(batch)
		fields["bytes"] = batch.Size()
		// Relay message UUIDs are ULIDs stamped at flush time.
		if sent, err := ids.TimeOf(msg.UUID); err == nil {
			fields["relay_latency"] = time.Since(sent).String()
		}
		log.Trace("relay batch enqueued", fields)
		return nil
	}
}

func decodeInto(q *Queue, msg *message.Message) (frames.Batch, error) {
	if !metadata.IsFrameBatch(msg.Metadata) {
		return nil, fmt.Errorf("%w: %q", frerrors.ErrUnknownMessageType, msg.Metadata.Get(metadata.KeyMessageType))
	}
	codec, err := relaycodec.Lookup(msg.Metadata.Get(metadata.KeyContentType))
	if err != nil {
		return nil, err
	}
	batch, err := codec.Unmarshal(msg.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode %s batch: %w", codec.Name(), err)
	}
	if want, ok, err := metadata.FromWatermill(msg.Metadata).Int(metadata.KeyItemCount); err == nil && ok && want != len(batch) {
		return nil, fmt.Errorf("batch declares %d items, carries %d", want, len(batch))
	}
	q.Enqueue(batch)
	return batch, nil
}
