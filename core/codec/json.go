package codec

import (
	json "github.com/goccy/go-json"
	jsoniter "github.com/json-iterator/go"
)

// ContentTypeJSON is the only request content type whose body is decoded
const ContentTypeJSON = "application/json"

// minJSONBody is the shortest document worth decoding: "{}" or "[]"
const minJSONBody = 2

// lenient is the fallback decoder for bodies the fast decoder rejects
var lenient = jsoniter.Config{
	EscapeHTML:             false,
	UseNumber:              false,
	ValidateJsonRawMessage: false,
}.Froze()

// JSONCodec implements JSON encoding/decoding
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		if lerr := lenient.Unmarshal(data, v); lerr != nil {
			return err
		}
	}
	return nil
}

func (c *JSONCodec) Name() string {
	return "json"
}

// IsJSONContentType reports whether contentType starts with
// "application/json". Parameters such as charset are ignored.
func IsJSONContentType(contentType string) bool {
	return len(contentType) >= len(ContentTypeJSON) &&
		contentType[:len(ContentTypeJSON)] == ContentTypeJSON
}

// DecodeBody decodes a JSON request body into a generic value. It returns
// nil when the content type is not JSON, the body is too short, or
// neither decoder accepts it. A bad body never fails the request.
func DecodeBody(contentType string, body []byte) any {
	if len(body) < minJSONBody || !IsJSONContentType(contentType) {
		return nil
	}

	var v any
	if err := json.Unmarshal(body, &v); err == nil {
		return v
	}

	v = nil
	if err := lenient.Unmarshal(body, &v); err == nil {
		return v
	}
	return nil
}
