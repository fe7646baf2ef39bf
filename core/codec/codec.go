// Package codec holds the payload codecs used by the engine: request body
// decoding and the envelope exchanged with callback runtimes.
package codec

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedCodec = errors.New("unsupported codec")
)

// Codec defines the interface for encoding/decoding payloads
type Codec interface {
	// Encode encodes a value to bytes
	Encode(v any) ([]byte, error)

	// Decode decodes bytes into v
	Decode(data []byte, v any) error

	// Name returns the codec name
	Name() string
}

// CodecType represents the codec type
type CodecType byte

const (
	CodecJSON     CodecType = 0x01
	CodecProtobuf CodecType = 0x03
)

// GetCodec returns a codec by type
func GetCodec(typ CodecType) (Codec, error) {
	switch typ {
	case CodecJSON:
		return &JSONCodec{}, nil
	case CodecProtobuf:
		return &ProtobufCodec{}, nil
	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnsupportedCodec, byte(typ))
	}
}

// ByName returns a codec by its name ("json" or "protobuf")
func ByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return &JSONCodec{}, nil
	case "protobuf", "proto":
		return &ProtobufCodec{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCodec, name)
	}
}
