// Package gateway defines the transaction lifecycle surface exposed to route controllers.
package gateway

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/gatewaynetwork/go-txgateway/pkg/confirmwatcher"
	"github.com/gatewaynetwork/go-txgateway/pkg/pendingtx"
)

// BuildFn builds and signs a transaction for the allocated nonce.
// Transaction content is the caller's business; the gateway only numbers,
// prices, and tracks it.
type BuildFn func(nonce int64) (signedRaw []byte, err error)

// CancelResult is the outcome of a cancel request. A cancel that raced the
// original transaction's confirmation reports AlreadyConfirmed instead of failing.
type CancelResult struct {
	TxHash           string
	AlreadyConfirmed bool
}

// ErrFeeTooLow indicates that a replacement fee doesn't exceed the original's.
var ErrFeeTooLow = errors.New("replacement fee must exceed the original fee")

// Gateway orchestrates nonce allocation, submission, tracking, and confirmation.
type Gateway interface {
	// AllocateNonce reserves the next nonce for the address.
	AllocateNonce(ctx context.Context, chain, network, address string) (int64, error)

	// SubmitWithNonce allocates a nonce, invokes build, submits the signed
	// payload, and records it in the pending registry.
	SubmitWithNonce(ctx context.Context, chain, network, address string, build BuildFn) (string, error)

	// SubmitSigned submits a payload already signed for a previously allocated
	// nonce, for callers that build transactions out of process.
	SubmitSigned(ctx context.Context, chain, network, address string, nonce int64, raw []byte) (string, error)

	// CancelPending submits a replace-by-fee self-transfer at the stuck
	// transaction's exact nonce with a strictly higher fee.
	CancelPending(ctx context.Context, chain, network, address string, nonce int64, bumpedFee *big.Int) (CancelResult, error)

	// GetStatus returns the tracked transaction with a fresh status, terminal
	// when the node reports one and heuristic otherwise.
	GetStatus(ctx context.Context, chain, network, hash string) (pendingtx.PendingTx, error)

	// CurrentFee returns the cached fee level for the pair.
	CurrentFee(ctx context.Context, chain, network string) (*big.Int, error)

	// WatchConfirmation waits for a live confirmation notification.
	WatchConfirmation(ctx context.Context, chain, network, hash string, timeout time.Duration) (confirmwatcher.Result, error)
}
