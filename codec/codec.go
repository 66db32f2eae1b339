// Package codec serializes cache values to bytes.
//
// Values are arbitrary JSON-representable data. Decode into a *any yields the
// codec's generic shape (for JSON: map[string]any, []any, float64, string, bool, nil).
package codec

import (
	"fmt"
	"strings"
)

// Codec encodes values to []byte and decodes them into a destination pointer.
type Codec interface {
	Name() string
	Encode(v any) ([]byte, error)
	Decode(b []byte, dst any) error
}

// ByName returns the codec registered under name: "json" (default for ""),
// "msgpack" or "cbor".
func ByName(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return JSON{}, nil
	case "msgpack":
		return Msgpack{}, nil
	case "cbor":
		return NewCBOR(false)
	default:
		return nil, fmt.Errorf("codec: unknown codec %q", name)
	}
}
