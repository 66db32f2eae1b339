package backend

import (
	"errors"
	"fmt"
	"io"
	"testing"
	"time"
)

func TestEntryLiveness(t *testing.T) {
	now := time.Now()
	forever := NewEntry(Opaque([]byte("x")), now, 0)
	if !forever.Live(now.Add(100*365*24*time.Hour)) || forever.Expires() {
		t.Fatalf("entry without ttl must never expire")
	}
	e := NewEntry(Numeric(1, nil), now, time.Second)
	if !e.ExpiresAt.After(e.CreatedAt) {
		t.Fatalf("expiry must be after creation")
	}
	if !e.Live(now) {
		t.Fatalf("fresh entry must be live")
	}
	if e.Live(now.Add(time.Second)) {
		t.Fatalf("entry must be expired at its expiry instant")
	}
	if got := e.TTL(now); got != time.Second {
		t.Fatalf("ttl=%v", got)
	}
}

func TestValueAddDropsPayload(t *testing.T) {
	v := Numeric(10, []byte("10")).Add(3)
	if !v.IsNumeric() || v.Number() != 13 || v.HasPayload() {
		t.Fatalf("unexpected value after add: %+v", v)
	}
	if Opaque([]byte("a")).IsNumeric() {
		t.Fatalf("opaque value reported numeric")
	}
}

func TestKindOf(t *testing.T) {
	if k := KindOf(Fault("redis get", io.EOF)); k != ErrTransaction {
		t.Fatalf("fault kind=%v", k)
	}
	if err := Fault("x", io.EOF); !errors.Is(err, io.EOF) {
		t.Fatalf("fault must keep the cause")
	}
	if k := KindOf(fmt.Errorf("wrap: %w", ErrNotFound)); k != ErrNotFound {
		t.Fatalf("kind=%v", k)
	}
	if k := KindOf(errors.New("boom")); k != ErrTransaction {
		t.Fatalf("unknown errors must classify as transaction faults, got %v", k)
	}
	if Fault("x", nil) != nil {
		t.Fatalf("nil cause must stay nil")
	}
}
