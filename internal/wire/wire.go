// Package wire frames a backend.Entry into bytes for stores that only hold
// opaque values (memcached).
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"time"

	"github.com/unkn0wn-root/polycache/backend"
)

const (
	version     byte = 1
	kindOpaque  byte = 1
	kindNumeric byte = 2
)

var (
	ErrCorrupt = errors.New("polycache: corrupt entry")
	magic4     = [...]byte{'P', 'L', 'Y', 'C'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Entry:
//
//	magic(4) | ver(1) | kind(1) | created(i64 be, unix ns) | expires(i64 be, unix ns, 0=never)
//	| number(u64 be float bits) | plen(u32 be) | payload(plen)
const header = 4 + 1 + 1 + 8 + 8 + 8 + 4

func EncodeEntry(e backend.Entry) []byte {
	payload := e.Value.Payload()

	var buf bytes.Buffer
	buf.Grow(header + len(payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	if e.Value.IsNumeric() {
		buf.WriteByte(kindNumeric)
	} else {
		buf.WriteByte(kindOpaque)
	}

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint64(u8[:], uint64(e.CreatedAt.UnixNano()))
	buf.Write(u8[:])

	var exp int64
	if e.Expires() {
		exp = e.ExpiresAt.UnixNano()
	}
	binary.BigEndian.PutUint64(u8[:], uint64(exp))
	buf.Write(u8[:])

	binary.BigEndian.PutUint64(u8[:], math.Float64bits(e.Value.Number()))
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])

	buf.Write(payload)
	return buf.Bytes()
}

func DecodeEntry(b []byte) (backend.Entry, error) {
	if len(b) < header || !hasMagic(b) || b[4] != version {
		return backend.Entry{}, ErrCorrupt
	}
	kind := b[5]
	if kind != kindOpaque && kind != kindNumeric {
		return backend.Entry{}, ErrCorrupt
	}

	off := 6
	created := int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8
	exp := int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8
	num := math.Float64frombits(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8

	plen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if plen != len(b)-off { // strict framing: no short or trailing bytes
		return backend.Entry{}, ErrCorrupt
	}

	var payload []byte
	if plen > 0 {
		payload = b[off : off+plen]
	}

	e := backend.Entry{CreatedAt: time.Unix(0, created)}
	if exp != 0 {
		e.ExpiresAt = time.Unix(0, exp)
	}
	if kind == kindNumeric {
		e.Value = backend.Numeric(num, payload)
	} else {
		e.Value = backend.Opaque(payload)
	}
	return e, nil
}
