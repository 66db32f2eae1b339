package polycache

import "github.com/unkn0wn-root/polycache/codec"

// DefaultCodec serializes non-numeric values when Options.Codec is nil.
var DefaultCodec codec.Codec = codec.JSON{}

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
