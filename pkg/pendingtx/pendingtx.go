package pendingtx

import (
	"context"
	"errors"
	"math/big"
	"time"
)

// Status classifies a submitted transaction's lifecycle state.
type Status string

const (
	// StatusPending means the transaction was submitted and nothing more is known.
	StatusPending Status = "PENDING"
	// StatusMempoolLikelySucceed means the heuristic expects inclusion.
	StatusMempoolLikelySucceed Status = "MEMPOOL_LIKELY_SUCCEED"
	// StatusMempoolLikelyFail means the transaction waited too long and is now underpriced.
	StatusMempoolLikelyFail Status = "MEMPOOL_LIKELY_FAIL"
	// StatusMempoolUnknown means the mempool state couldn't be inspected.
	StatusMempoolUnknown Status = "MEMPOOL_UNKNOWN"
	// StatusConfirmed is terminal: the transaction was included and succeeded.
	StatusConfirmed Status = "CONFIRMED"
	// StatusFailed is terminal: the transaction was included and reverted.
	StatusFailed Status = "FAILED"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

// PendingTx is a submitted-but-unconfirmed transaction tracked by the gateway.
type PendingTx struct {
	Chain           string
	ChainID         int64
	Hash            string
	Address         string
	Nonce           int64
	FeeAtSubmission *big.Int
	SubmittedAt     time.Time
	Status          Status
}

// ErrNotFound indicates that no pending transaction exists for the key.
var ErrNotFound = errors.New("pending transaction not found")

// DefaultDurationLimit is how long a transaction may sit in the mempool before
// a below-market fee makes the heuristic call it likely to fail. Tunable policy,
// not a proven threshold.
const DefaultDurationLimit = 3 * time.Minute

// Classify applies the mempool heuristic to a non-terminal transaction.
// Both legs must hold strictly: a long wait alone could be a quiet network,
// and a below-market fee alone could still be included soon.
func Classify(tx PendingTx, currentFee *big.Int, durationLimit time.Duration, now time.Time) Status {
	if tx.FeeAtSubmission == nil || currentFee == nil {
		return StatusMempoolUnknown
	}

	elapsed := now.Sub(tx.SubmittedAt)
	if elapsed > durationLimit && currentFee.Cmp(tx.FeeAtSubmission) > 0 {
		return StatusMempoolLikelyFail
	}
	return StatusMempoolLikelySucceed
}

// Store is the durable registry of in-flight transactions.
type Store interface {
	// Record registers a submitted transaction. It is called exactly once per
	// submission attempt, never per retry.
	Record(ctx context.Context, tx PendingTx) error

	// Get returns the tracked transaction for (chain, hash).
	Get(ctx context.Context, chain, hash string) (PendingTx, error)

	// SetStatus updates the stored status for (chain, hash).
	SetStatus(ctx context.Context, chain, hash string, status Status) error

	// ListUnconfirmed returns every non-terminal transaction for a chain.
	ListUnconfirmed(ctx context.Context, chain string) ([]PendingTx, error)

	// Evict removes the transaction from the registry.
	Evict(ctx context.Context, chain, hash string) error
}
