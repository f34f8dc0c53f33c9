package relaycodec

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/drblury/framerelay/internal/runtime/frames"
)

// Wire layout, compatible with
//
//	message Batch { repeated Item items = 1; }
//	message Item  { string kind = 1; bytes payload = 2; int64 ts_ms = 3; }
//
// Payloads travel as raw bytes and are re-encoded to base64 on decode.
const (
	batchItemsField  protowire.Number = 1
	itemKindField    protowire.Number = 1
	itemPayloadField protowire.Number = 2
	itemTSField      protowire.Number = 3
)

var errTruncated = errors.New("protowire: truncated input")

type protoWireCodec struct{}

func (protoWireCodec) Name() string { return ProtoWire }

func (protoWireCodec) Marshal(batch frames.Batch) ([]byte, error) {
	var out []byte
	for idx, item := range batch {
		raw, err := frames.DecodePayload(item.Payload)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", idx, err)
		}
		var msg []byte
		msg = protowire.AppendTag(msg, itemKindField, protowire.BytesType)
		msg = protowire.AppendString(msg, item.Kind)
		msg = protowire.AppendTag(msg, itemPayloadField, protowire.BytesType)
		msg = protowire.AppendBytes(msg, raw)
		if ts := frames.Millis(item.CapturedAt); ts != 0 {
			msg = protowire.AppendTag(msg, itemTSField, protowire.VarintType)
			msg = protowire.AppendVarint(msg, uint64(ts))
		}
		out = protowire.AppendTag(out, batchItemsField, protowire.BytesType)
		out = protowire.AppendBytes(out, msg)
	}
	return out, nil
}

func (protoWireCodec) Unmarshal(data []byte) (frames.Batch, error) {
	batch := frames.Batch{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		data = data[n:]
		if num != batchItemsField || typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			data = data[n:]
			continue
		}
		msg, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		data = data[n:]
		item, err := unmarshalItem(msg)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", len(batch), err)
		}
		batch = append(batch, item)
	}
	return batch, nil
}

func unmarshalItem(data []byte) (frames.EncodedItem, error) {
	var (
		item frames.EncodedItem
		raw  []byte
	)
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return item, protowire.ParseError(n)
		}
		data = data[n:]
		switch {
		case num == itemKindField && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return item, protowire.ParseError(n)
			}
			item.Kind = v
			data = data[n:]
		case num == itemPayloadField && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return item, protowire.ParseError(n)
			}
			raw = v
			data = data[n:]
		case num == itemTSField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return item, protowire.ParseError(n)
			}
			item.CapturedAt = frames.FromMillis(int64(v))
			data = data[n:]
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return item, errTruncated
			}
			data = data[n:]
		}
	}
	item.Payload = frames.EncodePayload(raw)
	return item, nil
}
