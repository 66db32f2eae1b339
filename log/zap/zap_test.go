package zap

import (
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/unkn0wn-root/polycache"
)

func TestLoggerLevelsAndFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := New(zap.New(core))

	l.Debug("pull miss", polycache.Fields{"key": "k"})
	l.Error("operation failed", polycache.Fields{"op": "push", "err": errors.New("boom")})

	entries := logs.AllUntimed()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Level != zapcore.DebugLevel || entries[0].LoggerName != "polycache" {
		t.Fatalf("unexpected first entry: %+v", entries[0])
	}
	ctx := entries[1].ContextMap()
	if ctx["op"] != "push" || ctx["err"] != "boom" {
		t.Fatalf("unexpected fields: %v", ctx)
	}
}

func TestNewNilIsNop(t *testing.T) {
	l := New(nil)
	l.Info("ignored", nil)
}
