// Package jsoncodec routes every JSON encode/decode in framerelay through sonic.
package jsoncodec

import (
	"errors"
	"fmt"
	"io"

	"github.com/bytedance/sonic"
)

var defaultConfig = sonic.ConfigStd

// ErrBodyTooLarge is returned by DecodeLimited when the input exceeds the limit.
var ErrBodyTooLarge = errors.New("jsoncodec: body exceeds limit")

func Marshal(v any) ([]byte, error) {
	return defaultConfig.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return defaultConfig.Unmarshal(data, v)
}

func Encode(w io.Writer, v any) error {
	return defaultConfig.NewEncoder(w).Encode(v)
}

func Decode(r io.Reader, v any) error {
	return defaultConfig.NewDecoder(r).Decode(v)
}

// DecodeLimited reads at most limit bytes from r and unmarshals them into v.
// A limit <= 0 disables the cap.
func DecodeLimited(r io.Reader, limit int64, v any) error {
	if limit <= 0 {
		return Decode(r, v)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return fmt.Errorf("jsoncodec: read body: %w", err)
	}
	if int64(len(data)) > limit {
		return ErrBodyTooLarge
	}
	return Unmarshal(data, v)
}
