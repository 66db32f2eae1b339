package polycache

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The cache calls them on hot paths.
type Hooks interface {
	// The backend dropped a write under pressure (Bounded). The operation
	// still reports success. op ∈ {"push", "increment"}
	SetRejected(op, key string)

	// A backend primitive failed with a storage or transport fault, the
	// backend was unavailable, or a value failed to (de)serialize.
	// key is empty for namespace-wide operations.
	BackendFault(op, key string, err error)

	// A sweep finished, either manual (Cache.Sweep) or run by the backend's
	// reaper. Every cache attached to a shared store hears the store's sweeps.
	Swept(removed int, err error)

	// A multi-key operation had failing members.
	FanOutFailed(op string, requested, failed int)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) SetRejected(string, string)         {}
func (NopHooks) BackendFault(string, string, error) {}
func (NopHooks) Swept(int, error)                   {}
func (NopHooks) FanOutFailed(string, int, int)      {}
