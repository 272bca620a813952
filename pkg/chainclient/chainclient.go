package chainclient

import (
	"context"
	"errors"
	"math/big"
)

// ErrRemoteUnavailable indicates that the remote node couldn't be reached or timed out.
// All transient transport failures wrap this error so callers can detect them uniformly.
var ErrRemoteUnavailable = errors.New("remote node unavailable")

// TxState is the node-reported state of a transaction.
type TxState int

const (
	// TxStateUnknown means the node has no record of the transaction.
	TxStateUnknown TxState = iota
	// TxStatePending means the transaction sits in the mempool.
	TxStatePending
	// TxStateConfirmed means the transaction was included and succeeded.
	TxStateConfirmed
	// TxStateFailed means the transaction was included and reverted.
	TxStateFailed
)

// Terminal reports whether the state is final on chain.
func (s TxState) Terminal() bool {
	return s == TxStateConfirmed || s == TxStateFailed
}

// Fees holds the fee components reported by a node.
// Priority is nil on chains without a priority-fee concept.
type Fees struct {
	Base     *big.Int
	Priority *big.Int
}

// Total returns base plus priority fee.
func (f Fees) Total() *big.Int {
	total := new(big.Int)
	if f.Base != nil {
		total.Add(total, f.Base)
	}
	if f.Priority != nil {
		total.Add(total, f.Priority)
	}
	return total
}

// TxStatus is the result of a transaction status query against the node.
type TxStatus struct {
	State       TxState
	BlockNumber int64
}

// CancelBuilder builds a signed replacement transaction that consumes a nonce
// without other effect. Submitting it at a stuck transaction's nonce with a
// higher fee clears the mempool slot.
type CancelBuilder interface {
	BuildCancel(ctx context.Context, address string, nonce int64, fee *big.Int) ([]byte, error)
}

// ChainClient is the capability interface every chain adapter implements for the core.
// The core never branches on chain identity; addresses and hashes are opaque strings
// in whatever encoding the chain uses.
type ChainClient interface {
	// ReportedNonce returns the transaction count the node reports for the address,
	// including mempool transactions.
	ReportedNonce(ctx context.Context, address string) (int64, error)

	// SubmitRaw submits a signed raw transaction and returns its hash.
	SubmitRaw(ctx context.Context, raw []byte) (string, error)

	// FeeEstimate returns the current network fee components.
	FeeEstimate(ctx context.Context) (Fees, error)

	// TxStatus returns the node-reported state of a transaction.
	TxStatus(ctx context.Context, hash string) (TxStatus, error)
}
