// Package logrus adapts a logrus entry to polycache.Logger.
package logrus

import (
	"github.com/sirupsen/logrus"

	"github.com/unkn0wn-root/polycache"
)

var _ polycache.Logger = Logger{}

// Logger writes through E. A nil E falls back to the logrus standard logger.
type Logger struct{ E *logrus.Entry }

// New wraps l, tagging every record with component=polycache.
func New(l *logrus.Logger) Logger {
	if l == nil {
		l = logrus.StandardLogger()
	}
	return Logger{E: l.WithField("component", "polycache")}
}

func (l Logger) entry(f polycache.Fields) *logrus.Entry {
	e := l.E
	if e == nil {
		e = logrus.NewEntry(logrus.StandardLogger())
	}
	if len(f) == 0 {
		return e
	}
	fields := make(logrus.Fields, len(f))
	for k, v := range f {
		if err, ok := v.(error); ok && k == "err" {
			e = e.WithError(err)
			continue
		}
		fields[k] = v
	}
	return e.WithFields(fields)
}

func (l Logger) Debug(msg string, f polycache.Fields) { l.entry(f).Debug(msg) }
func (l Logger) Info(msg string, f polycache.Fields)  { l.entry(f).Info(msg) }
func (l Logger) Warn(msg string, f polycache.Fields)  { l.entry(f).Warn(msg) }
func (l Logger) Error(msg string, f polycache.Fields) { l.entry(f).Error(msg) }
