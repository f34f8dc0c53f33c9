// Package frames holds the data model shared by every stage of the pipeline:
// captured frames, their transport-safe encoded form and the JSON wire form
// posted to the sink.
package frames

import (
	"encoding/base64"
	"fmt"
	"time"
)

// CapturedFrame is one binary frame taken at the capture point. Payload is a
// private copy owned by the frame.
type CapturedFrame struct {
	Kind       string
	Payload    []byte
	CapturedAt time.Time
}

// EncodedItem is the unit stored in both queues. Payload is standard base64.
type EncodedItem struct {
	Kind       string
	Payload    string
	CapturedAt time.Time
}

// Batch is an ordered run of items drained for one delivery.
type Batch []EncodedItem

// Encode converts a captured frame into its transport-safe form.
func Encode(frame CapturedFrame) EncodedItem {
	return EncodedItem{
		Kind:       frame.Kind,
		Payload:    EncodePayload(frame.Payload),
		CapturedAt: frame.CapturedAt,
	}
}

func EncodePayload(payload []byte) string {
	return base64.StdEncoding.EncodeToString(payload)
}

func DecodePayload(encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return raw, nil
}

// Decode reverses Encode.
func (i EncodedItem) Decode() (CapturedFrame, error) {
	raw, err := DecodePayload(i.Payload)
	if err != nil {
		return CapturedFrame{}, err
	}
	return CapturedFrame{Kind: i.Kind, Payload: raw, CapturedAt: i.CapturedAt}, nil
}

// Size is the decoded payload length, computed from the base64 text.
func (i EncodedItem) Size() int {
	return base64.StdEncoding.DecodedLen(len(i.Payload)) - padding(i.Payload)
}

// Size is the total decoded payload length of the batch.
func (b Batch) Size() int {
	n := 0
	for _, item := range b {
		n += item.Size()
	}
	return n
}

func padding(s string) int {
	n := 0
	for j := len(s) - 1; j >= 0 && s[j] == '='; j-- {
		n++
	}
	return n
}

// Millis converts a capture time to epoch milliseconds.
func Millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromMillis converts epoch milliseconds back to UTC time.
func FromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
