package codec

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// ProtobufCodec implements Protocol Buffers encoding/decoding. Values
// that are not proto messages travel as a google.protobuf.Value, so
// generic JSON-shaped data (maps, slices, strings, numbers, booleans)
// round-trips without generated types.
type ProtobufCodec struct{}

func (c *ProtobufCodec) Encode(v any) ([]byte, error) {
	if msg, ok := v.(proto.Message); ok {
		return proto.Marshal(msg)
	}

	val, err := structpb.NewValue(v)
	if err != nil {
		return nil, fmt.Errorf("protobuf codec: cannot encode %T: %w", v, err)
	}
	return proto.Marshal(val)
}

func (c *ProtobufCodec) Decode(data []byte, v any) error {
	switch dst := v.(type) {
	case proto.Message:
		return proto.Unmarshal(data, dst)
	case *any:
		val := &structpb.Value{}
		if err := proto.Unmarshal(data, val); err != nil {
			return err
		}
		*dst = val.AsInterface()
		return nil
	default:
		return fmt.Errorf("protobuf codec: value must be a proto.Message or *any, got %T", v)
	}
}

func (c *ProtobufCodec) Name() string {
	return "protobuf"
}
