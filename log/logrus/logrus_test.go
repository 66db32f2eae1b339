package logrus

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/unkn0wn-root/polycache"
)

func TestLoggerLevelsAndFields(t *testing.T) {
	base, hook := test.NewNullLogger()
	base.SetLevel(logrus.DebugLevel)
	l := New(base)

	l.Warn("push collision", polycache.Fields{"key": "k"})
	l.Error("operation failed", polycache.Fields{"op": "pull", "err": errors.New("boom")})

	if len(hook.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(hook.Entries))
	}
	first := hook.Entries[0]
	if first.Level != logrus.WarnLevel || first.Data["component"] != "polycache" || first.Data["key"] != "k" {
		t.Fatalf("unexpected first entry: %+v", first.Data)
	}
	last := hook.LastEntry()
	if err, ok := last.Data[logrus.ErrorKey].(error); !ok || err.Error() != "boom" {
		t.Fatalf("error not attached: %+v", last.Data)
	}
}

func TestZeroValueUsesStandardLogger(t *testing.T) {
	var l Logger
	l.Debug("ignored", nil)
}
