package jsonx

import (
	"io"

	jsoniter "github.com/json-iterator/go"
)

var jsonx = jsoniter.ConfigCompatibleWithStandardLibrary

// RawMessage is a raw encoded JSON value that is decoded lazily.
type RawMessage = jsoniter.RawMessage

func Marshal(v interface{}) ([]byte, error) {
	return jsonx.Marshal(v)
}

func MarshalToString(v interface{}) (string, error) {
	return jsonx.MarshalToString(v)
}

func Unmarshal(data []byte, v interface{}) error {
	return jsonx.Unmarshal(data, v)
}

func UnmarshalFromString(data string, v interface{}) error {
	return jsonx.UnmarshalFromString(data, v)
}

// Valid reports whether data is a well formed JSON document.
func Valid(data []byte) bool {
	return jsonx.Valid(data)
}

func NewDecoder(r io.Reader) *jsoniter.Decoder {
	return jsonx.NewDecoder(r)
}

func NewEncoder(w io.Writer) *jsoniter.Encoder {
	return jsonx.NewEncoder(w)
}
