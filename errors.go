package polycache

import (
	"errors"
	"fmt"

	"github.com/unkn0wn-root/polycache/backend"
	"github.com/unkn0wn-root/polycache/keycodec"
)

// Error kinds. Match with errors.Is; every error returned by a Cache wraps
// exactly one of them.
var (
	ErrInvalidArgument = backend.ErrInvalidArgument
	ErrKeyExists       = backend.ErrKeyExists
	ErrNotFound        = backend.ErrNotFound
	ErrNotNumeric      = backend.ErrNotNumeric
	ErrUnavailable     = backend.ErrUnavailable
	ErrTransaction     = backend.ErrTransaction
	ErrSerialization   = backend.ErrSerialization
	ErrUnsupported     = backend.ErrUnsupported
)

// Error is returned by every Cache operation. The backend cause is not part
// of the chain; enable Verbose to have it logged.
type Error struct {
	Op   string
	Key  string // logical key; empty for namespace-wide operations
	Kind error
}

func (e *Error) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("polycache: %s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("polycache: %s %q: %v", e.Op, e.Key, e.Kind)
}

func (e *Error) Unwrap() error { return e.Kind }

// kindOf classifies err into one of the exported kinds.
func kindOf(err error) error {
	switch {
	case errors.Is(err, keycodec.ErrEmptyKey):
		return ErrInvalidArgument
	case errors.Is(err, backend.ErrRejected):
		return ErrTransaction
	}
	return backend.KindOf(err)
}

func invalid(op, key string) error {
	return &Error{Op: op, Key: key, Kind: ErrInvalidArgument}
}
