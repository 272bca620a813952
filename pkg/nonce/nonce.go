package nonce

import (
	"context"
	"errors"
	"time"
)

// Record tracks the last allocated nonce for a (chain, address) pair.
type Record struct {
	Chain         string
	Address       string
	LastAllocated int64
	SyncedAt      time.Time
}

// ErrNoRecord indicates that no nonce record exists yet for the address.
var ErrNoRecord = errors.New("no nonce record for address")

// ErrNonceConflict indicates that the serialized allocation discipline was violated.
// It points to a reconciliation bug and is fatal to the affected request.
var ErrNonceConflict = errors.New("nonce conflict detected")

// Action runs with an allocated nonce inside the allocation critical section.
// It reports whether the transaction may have reached the network: a failure after
// submission was possible must return submitted=true so the nonce is still committed,
// preferring a gap over a double-submit.
type Action func(nonce int64) (submitted bool, err error)

// Manager serializes nonce allocation per (chain, address).
type Manager interface {
	// Allocate reserves and returns the next nonce for the address.
	Allocate(ctx context.Context, address string) (int64, error)

	// Provide runs action with the next candidate nonce inside the per-address
	// critical section. The candidate is committed iff action succeeded or its
	// failure was ambiguous (submitted=true). Concurrent calls for the same
	// address queue; they never error out on contention.
	Provide(ctx context.Context, address string, action Action) (int64, error)

	// ProvideExplicit runs action with a caller-supplied nonce, used for
	// cancel and replace-by-fee flows. It never touches the allocation state.
	ProvideExplicit(ctx context.Context, address string, nonce int64, action Action) error
}

// Store persists nonce records across restarts.
type Store interface {
	GetRecord(ctx context.Context, chain, address string) (Record, error)
	UpsertRecord(ctx context.Context, chain, address string, lastAllocated int64) error
}
