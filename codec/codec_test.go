package codec

import (
	"reflect"
	"testing"
)

func roundTrip(t *testing.T, c Codec, in any) any {
	t.Helper()
	b, err := c.Encode(in)
	if err != nil {
		t.Fatalf("%s encode: %v", c.Name(), err)
	}
	var out any
	if err := c.Decode(b, &out); err != nil {
		t.Fatalf("%s decode: %v", c.Name(), err)
	}
	return out
}

func TestJSONRoundTrip(t *testing.T) {
	in := map[string]any{"name": "ada", "tags": []any{"a", "b"}, "ok": true, "n": 1.5, "nil": nil}
	if out := roundTrip(t, JSON{}, in); !reflect.DeepEqual(out, in) {
		t.Fatalf("json round trip: got %#v want %#v", out, in)
	}
}

func TestCBORMapsDecodeWithStringKeys(t *testing.T) {
	in := map[string]any{"a": "x", "b": []any{"y"}}
	out := roundTrip(t, MustCBOR(true), in)
	m, ok := out.(map[string]any)
	if !ok {
		t.Fatalf("expected map[string]any, got %T", out)
	}
	if m["a"] != "x" {
		t.Fatalf("got %#v", m)
	}
}

func TestMsgpackRoundTripString(t *testing.T) {
	if out := roundTrip(t, Msgpack{}, "hello"); out != "hello" {
		t.Fatalf("got %#v", out)
	}
}

func TestJSONRejectsUnrepresentable(t *testing.T) {
	if _, err := (JSON{}).Encode(make(chan int)); err == nil {
		t.Fatalf("expected encode error for channel")
	}
}

func TestLimitRejectsOversized(t *testing.T) {
	c := Limit{Inner: JSON{}, MaxDecode: 4}
	var out any
	if err := c.Decode([]byte(`"too long"`), &out); err == nil {
		t.Fatalf("expected size error")
	}
	if err := c.Decode([]byte(`1`), &out); err != nil {
		t.Fatalf("small payload: %v", err)
	}
}

func TestByName(t *testing.T) {
	for _, name := range []string{"", "json", "msgpack", "CBOR"} {
		if _, err := ByName(name); err != nil {
			t.Fatalf("ByName(%q): %v", name, err)
		}
	}
	if _, err := ByName("xml"); err == nil {
		t.Fatalf("expected unknown codec error")
	}
}
