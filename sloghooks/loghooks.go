// Package sloghooks implements polycache.Hooks on log/slog with sampling and
// key redaction.
package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/polycache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	RejectedEvery uint64
	FaultEvery    uint64
	// Log sweeps that removed nothing. Default false.
	LogEmptySweeps bool
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	rejectedCtr atomic.Uint64
	faultCtr    atomic.Uint64
}

var _ polycache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if k == "" {
		return ""
	}
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) SetRejected(op, key string) {
	if h.l == nil || !sample(h.opts.RejectedEvery, &h.rejectedCtr) {
		return
	}
	h.l.Warn("polycache.set_rejected",
		"op", op,
		"key", h.redact(key))
}

func (h *Hooks) BackendFault(op, key string, err error) {
	if h.l == nil || !sample(h.opts.FaultEvery, &h.faultCtr) {
		return
	}
	h.l.Error("polycache.backend_fault",
		"op", op,
		"key", h.redact(key),
		"err", err)
}

func (h *Hooks) Swept(removed int, err error) {
	if h.l == nil {
		return
	}
	if err != nil {
		h.l.Warn("polycache.sweep_failed", "removed", removed, "err", err)
		return
	}
	if removed == 0 && !h.opts.LogEmptySweeps {
		return
	}
	h.l.Debug("polycache.swept", "removed", removed)
}

func (h *Hooks) FanOutFailed(op string, requested, failed int) {
	if h.l == nil {
		return
	}
	h.l.Info("polycache.fan_out_failed",
		"op", op,
		"requested", requested,
		"failed", failed)
}
