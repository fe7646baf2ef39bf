package codec

import (
	"errors"
	"testing"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func TestJSONCodec(t *testing.T) {
	codec := &JSONCodec{}

	type TestStruct struct {
		Name  string
		Value int
	}

	original := &TestStruct{Name: "test", Value: 42}

	data, err := codec.Encode(original)
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}

	decoded := &TestStruct{}
	if err := codec.Decode(data, decoded); err != nil {
		t.Fatalf("Decode error: %v", err)
	}

	if decoded.Name != original.Name || decoded.Value != original.Value {
		t.Errorf("Mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestProtobufCodec(t *testing.T) {
	codec := &ProtobufCodec{}

	original := wrapperspb.Int32(42)

	data, err := codec.Encode(original)
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}

	decoded := &wrapperspb.Int32Value{}
	if err := codec.Decode(data, decoded); err != nil {
		t.Fatalf("Decode error: %v", err)
	}

	if decoded.Value != original.Value {
		t.Errorf("Mismatch: got %d, want %d", decoded.Value, original.Value)
	}
}

func TestProtobufCodecGenericValue(t *testing.T) {
	codec := &ProtobufCodec{}

	original := map[string]any{
		"name":  "widget",
		"count": float64(3),
		"tags":  []any{"a", "b"},
		"ok":    true,
	}

	data, err := codec.Encode(original)
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}

	var decoded any
	if err := codec.Decode(data, &decoded); err != nil {
		t.Fatalf("Decode error: %v", err)
	}

	m, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("expected map, got %T", decoded)
	}
	if m["name"] != "widget" || m["count"] != float64(3) || m["ok"] != true {
		t.Errorf("Mismatch: got %+v", m)
	}
	if tags, _ := m["tags"].([]any); len(tags) != 2 {
		t.Errorf("tags mismatch: %+v", m["tags"])
	}
}

func TestProtobufCodecInvalidType(t *testing.T) {
	codec := &ProtobufCodec{}

	if _, err := codec.Encode(make(chan int)); err == nil {
		t.Error("Expected error for unencodable value")
	}

	var target string
	if err := codec.Decode(nil, &target); err == nil {
		t.Error("Expected error for unsupported decode target")
	}
}

func TestGetCodec(t *testing.T) {
	if c, err := GetCodec(CodecJSON); err != nil || c.Name() != "json" {
		t.Errorf("GetCodec(JSON) = %v, %v", c, err)
	}
	if c, err := GetCodec(CodecProtobuf); err != nil || c.Name() != "protobuf" {
		t.Errorf("GetCodec(Protobuf) = %v, %v", c, err)
	}
	if _, err := GetCodec(0x02); !errors.Is(err, ErrUnsupportedCodec) {
		t.Errorf("expected ErrUnsupportedCodec, got %v", err)
	}
	if _, err := ByName("xml"); !errors.Is(err, ErrUnsupportedCodec) {
		t.Errorf("expected ErrUnsupportedCodec, got %v", err)
	}
	if c, err := ByName(""); err != nil || c.Name() != "json" {
		t.Errorf("ByName(\"\") = %v, %v", c, err)
	}
}

func TestDecodeBody(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		wantNil     bool
	}{
		{name: "object", contentType: "application/json", body: `{"a":1}`},
		{name: "with charset", contentType: "application/json; charset=utf-8", body: `{"a":1}`},
		{name: "array", contentType: "application/json", body: `[1,2]`},
		{name: "empty object", contentType: "application/json", body: `{}`},
		{name: "wrong content type", contentType: "text/plain", body: `{"a":1}`, wantNil: true},
		{name: "missing content type", contentType: "", body: `{"a":1}`, wantNil: true},
		{name: "uppercase content type", contentType: "APPLICATION/JSON", body: `{"a":1}`, wantNil: true},
		{name: "too short", contentType: "application/json", body: `1`, wantNil: true},
		{name: "malformed", contentType: "application/json", body: `{"a":`, wantNil: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecodeBody(tt.contentType, []byte(tt.body))
			if tt.wantNil && got != nil {
				t.Errorf("expected nil body, got %#v", got)
			}
			if !tt.wantNil && got == nil {
				t.Error("expected decoded body, got nil")
			}
		})
	}
}

func TestDecodeBodyValue(t *testing.T) {
	got := DecodeBody("application/json", []byte(`{"name":"x","n":2}`))
	m, ok := got.(map[string]any)
	if !ok {
		t.Fatalf("expected map, got %T", got)
	}
	if m["name"] != "x" || m["n"] != float64(2) {
		t.Errorf("unexpected body %+v", m)
	}
}

func BenchmarkDecodeBody(b *testing.B) {
	body := []byte(`{"name":"benchmark","value":123,"items":[1,2,3,4,5]}`)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = DecodeBody("application/json", body)
	}
}

func BenchmarkProtobufEncode(b *testing.B) {
	codec := &ProtobufCodec{}
	msg := wrapperspb.String("benchmark message with some data")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = codec.Encode(msg)
	}
}

func BenchmarkProtobufDecode(b *testing.B) {
	codec := &ProtobufCodec{}
	msg := wrapperspb.String("benchmark message")
	data, _ := proto.Marshal(msg)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		decoded := &wrapperspb.StringValue{}
		_ = codec.Decode(data, decoded)
	}
}
