// Package metadata holds the header keys framerelay puts on relay channel
// messages and small helpers to read and write them.
package metadata

import (
	"fmt"
	"strconv"

	"github.com/ThreeDotsLabs/watermill/message"
)

const (
	// KeyMessageType is the type tag of a relay message.
	KeyMessageType = "message_type"
	// KeyContentType names the relay codec used for the payload.
	KeyContentType = "content_type"
	// KeyItemCount is the number of encoded items carried by a batch.
	KeyItemCount = "item_count"
	// KeyCorrelationID is propagated by the router middleware.
	KeyCorrelationID = "correlation_id"
	// KeyProducedAt is the relay flush time in epoch milliseconds.
	KeyProducedAt = "produced_at"

	// MessageTypeFrameBatch tags a relay message carrying a frame batch.
	MessageTypeFrameBatch = "frame_batch"
)

// Metadata represents the headers carried alongside a relay message.
type Metadata map[string]string

// Clone returns a shallow copy; the result is never nil.
func (m Metadata) Clone() Metadata {
	cloned := make(Metadata, len(m))
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

// With returns a copy containing the provided key/value pair.
func (m Metadata) With(key, value string) Metadata {
	cloned := m.Clone()
	cloned[key] = value
	return cloned
}

// Int parses the value stored under key. Missing keys report ok=false.
func (m Metadata) Int(key string) (int, bool, error) {
	raw, ok := m[key]
	if !ok || raw == "" {
		return 0, false, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, true, fmt.Errorf("metadata %s: %w", key, err)
	}
	return v, true, nil
}

// New constructs a Metadata map from alternating key/value pairs.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i < len(pairs)-1; i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}

// ForBatch builds the metadata of a relay batch message.
func ForBatch(codec string, items int) Metadata {
	return New(
		KeyMessageType, MessageTypeFrameBatch,
		KeyContentType, codec,
		KeyItemCount, strconv.Itoa(items),
	)
}

// IsFrameBatch reports whether md carries the frame batch type tag.
func IsFrameBatch(md message.Metadata) bool {
	return md.Get(KeyMessageType) == MessageTypeFrameBatch
}

// FromWatermill copies Watermill metadata.
func FromWatermill(md message.Metadata) Metadata {
	return Metadata(md).Clone()
}

// Apply copies every entry onto msg.Metadata.
func (m Metadata) Apply(msg *message.Message) {
	if msg.Metadata == nil {
		msg.Metadata = make(message.Metadata, len(m))
	}
	for k, v := range m {
		msg.Metadata.Set(k, v)
	}
}
