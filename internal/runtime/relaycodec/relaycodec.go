// Package relaycodec encodes frame batches for the relay channel. The codec
// name travels with each message so the consumer decodes whatever the
// producer chose.
package relaycodec

import (
	"fmt"
	"sort"

	frerrors "github.com/drblury/framerelay/internal/runtime/errors"
	"github.com/drblury/framerelay/internal/runtime/frames"
)

// Codec turns a batch into a relay payload and back.
type Codec interface {
	Name() string
	Marshal(batch frames.Batch) ([]byte, error)
	Unmarshal(data []byte) (frames.Batch, error)
}

const (
	JSON      = "json"
	ProtoWire = "protowire"
)

var codecs = map[string]Codec{
	JSON:      jsonCodec{},
	ProtoWire: protoWireCodec{},
}

// Lookup returns the codec registered under name. An empty name selects JSON.
func Lookup(name string) (Codec, error) {
	if name == "" {
		name = JSON
	}
	codec, ok := codecs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %v)", frerrors.ErrUnknownCodec, name, Names())
	}
	return codec, nil
}

func Names() []string {
	names := make([]string, 0, len(codecs))
	for name := range codecs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return JSON }

func (jsonCodec) Marshal(batch frames.Batch) ([]byte, error) {
	return frames.MarshalWire(batch)
}

func (jsonCodec) Unmarshal(data []byte) (frames.Batch, error) {
	return frames.UnmarshalWire(data)
}
