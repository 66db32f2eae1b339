package backend

import (
	"errors"
	"fmt"

	"github.com/unkn0wn-root/polycache/keycodec"
)

// Error kinds shared by every adapter. Adapters wrap transport causes with
// Fault so callers can match the kind with errors.Is.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrKeyExists       = errors.New("key exists")
	ErrNotFound        = errors.New("not found")
	ErrNotNumeric      = errors.New("value is not numeric")
	ErrUnavailable     = errors.New("backend unavailable")
	ErrTransaction     = errors.New("backend transaction failed")
	ErrSerialization   = errors.New("serialization failed")
	ErrUnsupported     = errors.New("operation not supported by backend")

	// ErrRejected reports a write dropped by a store under pressure.
	// The facade treats it as a soft failure.
	ErrRejected = errors.New("write rejected by store")
)

// Kinds lists every error kind in classification order.
var Kinds = []error{
	ErrInvalidArgument,
	ErrKeyExists,
	ErrNotFound,
	ErrNotNumeric,
	ErrUnavailable,
	ErrSerialization,
	ErrUnsupported,
	ErrRejected,
	ErrTransaction,
}

// Fault wraps a store error as ErrTransaction, keeping cause in the chain.
func Fault(op string, cause error) error {
	if cause == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrTransaction, cause)
}

// KindOf returns the kind err belongs to. Unknown errors are transaction faults.
func KindOf(err error) error {
	for _, k := range Kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return ErrTransaction
}

// RequireKey fails with ErrInvalidArgument for namespace-wide keys.
func RequireKey(k keycodec.DerivedKey) error {
	if !k.HasKey() {
		return fmt.Errorf("%w: derived key has no key part", ErrInvalidArgument)
	}
	return nil
}
