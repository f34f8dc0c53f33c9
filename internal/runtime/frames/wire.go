package frames

import (
	"fmt"

	"github.com/drblury/framerelay/internal/runtime/jsoncodec"
)

// WireItem is the JSON object the sink receives for each item.
type WireItem struct {
	Method  string `json:"method"`
	Payload string `json:"payload"`
	TS      int64  `json:"ts"`
}

func (i EncodedItem) Wire() WireItem {
	return WireItem{Method: i.Kind, Payload: i.Payload, TS: Millis(i.CapturedAt)}
}

func (w WireItem) Item() EncodedItem {
	return EncodedItem{Kind: w.Method, Payload: w.Payload, CapturedAt: FromMillis(w.TS)}
}

// ToWire converts a batch to its wire form, preserving order.
func (b Batch) ToWire() []WireItem {
	out := make([]WireItem, len(b))
	for idx, item := range b {
		out[idx] = item.Wire()
	}
	return out
}

// MarshalWire renders the request body for the sink: a JSON array of
// {method, payload, ts}. An empty batch renders as [].
func MarshalWire(b Batch) ([]byte, error) {
	body, err := jsoncodec.Marshal(b.ToWire())
	if err != nil {
		return nil, fmt.Errorf("marshal batch: %w", err)
	}
	return body, nil
}

// UnmarshalWire parses a sink request body back into a batch.
func UnmarshalWire(data []byte) (Batch, error) {
	var wire []WireItem
	if err := jsoncodec.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("unmarshal batch: %w", err)
	}
	return FromWire(wire), nil
}

func FromWire(wire []WireItem) Batch {
	out := make(Batch, len(wire))
	for idx, w := range wire {
		out[idx] = w.Item()
	}
	return out
}
