package impl

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/gatewaynetwork/go-txgateway/internal/chains"
	"github.com/gatewaynetwork/go-txgateway/internal/gateway"
	"github.com/gatewaynetwork/go-txgateway/pkg/chainclient"
	"github.com/gatewaynetwork/go-txgateway/pkg/confirmwatcher"
	"github.com/gatewaynetwork/go-txgateway/pkg/pendingtx"
	logger "github.com/rs/zerolog/log"
)

var log = logger.With().Str("component", "gateway").Logger()

// TxCoordinator implements the gateway surface on top of the per-chain stacks.
// It owns the lifecycle plumbing; transaction content always comes from the caller.
type TxCoordinator struct {
	registry *chains.Registry
}

var _ gateway.Gateway = (*TxCoordinator)(nil)

// NewTxCoordinator creates a coordinator over the registered chain stacks.
func NewTxCoordinator(registry *chains.Registry) *TxCoordinator {
	return &TxCoordinator{registry: registry}
}

// AllocateNonce reserves the next nonce for the address on (chain, network).
func (c *TxCoordinator) AllocateNonce(ctx context.Context, chain, network, address string) (int64, error) {
	stack, err := c.registry.Get(chain, network)
	if err != nil {
		return 0, fmt.Errorf("getting chain stack: %s", err)
	}
	return stack.NonceManager.Allocate(ctx, address)
}

// SubmitWithNonce runs the full submission flow: allocate a nonce inside the
// per-address critical section, build and submit the signed payload, and record
// it in the pending registry. A failure after the payload may have reached the
// network still burns the nonce; a gap is cheaper to repair than a double-spend
// of the same nonce.
func (c *TxCoordinator) SubmitWithNonce(
	ctx context.Context,
	chain, network, address string,
	build gateway.BuildFn,
) (string, error) {
	stack, err := c.registry.Get(chain, network)
	if err != nil {
		return "", fmt.Errorf("getting chain stack: %s", err)
	}

	// Snapshot the fee level before submitting so the mempool heuristic can
	// later compare it against the market. Best effort: a missing snapshot
	// only degrades classification to MEMPOOL_UNKNOWN.
	fee, err := stack.GasOracle.Current(ctx)
	if err != nil {
		log.Warn().Err(err).Str("chain", chain).Msg("no fee snapshot for submission")
		fee = nil
	}

	var hash string
	if _, err := stack.NonceManager.Provide(ctx, address, func(nonce int64) (bool, error) {
		raw, err := build(nonce)
		if err != nil {
			return false, fmt.Errorf("building txn: %s", err)
		}

		h, err := stack.Client.SubmitRaw(ctx, raw)
		if err != nil {
			// The payload may have reached the network before the error.
			return true, fmt.Errorf("submitting txn: %s", err)
		}
		hash = h

		c.track(ctx, stack, pendingtx.PendingTx{
			Chain:           stack.Chain,
			ChainID:         stack.ChainID,
			Hash:            h,
			Address:         address,
			Nonce:           nonce,
			FeeAtSubmission: fee,
			SubmittedAt:     time.Now().UTC(),
			Status:          pendingtx.StatusPending,
		})
		return true, nil
	}); err != nil {
		return "", fmt.Errorf("providing nonce: %s", err)
	}

	return hash, nil
}

// SubmitSigned submits a payload already signed for an explicit nonce. The
// caller is expected to have allocated the nonce beforehand; the explicit path
// keeps allocation state untouched so a lost or duplicated request can't
// desynchronize it.
func (c *TxCoordinator) SubmitSigned(
	ctx context.Context,
	chain, network, address string,
	nonce int64,
	raw []byte,
) (string, error) {
	stack, err := c.registry.Get(chain, network)
	if err != nil {
		return "", fmt.Errorf("getting chain stack: %s", err)
	}

	fee, err := stack.GasOracle.Current(ctx)
	if err != nil {
		log.Warn().Err(err).Str("chain", chain).Msg("no fee snapshot for submission")
		fee = nil
	}

	var hash string
	if err := stack.NonceManager.ProvideExplicit(ctx, address, nonce, func(n int64) (bool, error) {
		h, err := stack.Client.SubmitRaw(ctx, raw)
		if err != nil {
			return true, fmt.Errorf("submitting txn: %s", err)
		}
		hash = h

		c.track(ctx, stack, pendingtx.PendingTx{
			Chain:           stack.Chain,
			ChainID:         stack.ChainID,
			Hash:            h,
			Address:         address,
			Nonce:           n,
			FeeAtSubmission: fee,
			SubmittedAt:     time.Now().UTC(),
			Status:          pendingtx.StatusPending,
		})
		return true, nil
	}); err != nil {
		return "", fmt.Errorf("providing explicit nonce: %s", err)
	}

	return hash, nil
}

// CancelPending submits a replace-by-fee self-transfer at the stuck
// transaction's exact nonce. A cancel racing the original's confirmation is a
// benign outcome, not an error.
func (c *TxCoordinator) CancelPending(
	ctx context.Context,
	chain, network, address string,
	nonce int64,
	bumpedFee *big.Int,
) (gateway.CancelResult, error) {
	stack, err := c.registry.Get(chain, network)
	if err != nil {
		return gateway.CancelResult{}, fmt.Errorf("getting chain stack: %s", err)
	}
	if stack.Canceller == nil {
		return gateway.CancelResult{}, fmt.Errorf("chain %s doesn't support cancellation", chain)
	}

	original, err := c.liveTxAtNonce(ctx, stack, address, nonce)
	if err != nil {
		return gateway.CancelResult{}, err
	}

	// The original may have confirmed while the caller decided to cancel.
	if status, err := stack.Client.TxStatus(ctx, original.Hash); err == nil && status.State.Terminal() {
		c.settle(ctx, stack, original.Hash, status.State)
		return gateway.CancelResult{TxHash: original.Hash, AlreadyConfirmed: true}, nil
	}

	if original.FeeAtSubmission != nil && bumpedFee.Cmp(original.FeeAtSubmission) <= 0 {
		return gateway.CancelResult{}, gateway.ErrFeeTooLow
	}

	var cancelHash string
	if err := stack.NonceManager.ProvideExplicit(ctx, address, nonce, func(n int64) (bool, error) {
		raw, err := stack.Canceller.BuildCancel(ctx, address, n, bumpedFee)
		if err != nil {
			return false, fmt.Errorf("building cancel txn: %s", err)
		}
		h, err := stack.Client.SubmitRaw(ctx, raw)
		if err != nil {
			return true, fmt.Errorf("submitting cancel txn: %s", err)
		}
		cancelHash = h
		return true, nil
	}); err != nil {
		return gateway.CancelResult{}, fmt.Errorf("providing explicit nonce: %s", err)
	}

	// The replacement displaced the original in the mempool; swap the tracked row.
	if err := stack.PendingTxs.Evict(ctx, stack.Chain, original.Hash); err != nil {
		log.Error().Err(err).Str("hash", original.Hash).Msg("evicting replaced txn")
	}
	c.track(ctx, stack, pendingtx.PendingTx{
		Chain:           stack.Chain,
		ChainID:         stack.ChainID,
		Hash:            cancelHash,
		Address:         address,
		Nonce:           nonce,
		FeeAtSubmission: bumpedFee,
		SubmittedAt:     time.Now().UTC(),
		Status:          pendingtx.StatusPending,
	})

	log.Info().
		Str("chain", stack.Chain).
		Str("address", address).
		Int64("nonce", nonce).
		Str("replaced", original.Hash).
		Str("hash", cancelHash).
		Msg("cancel transaction submitted")

	return gateway.CancelResult{TxHash: cancelHash}, nil
}

// GetStatus returns the tracked transaction with its status refreshed. The node
// receipt wins; only transactions the node still calls pending or unknown get
// the mempool heuristic.
func (c *TxCoordinator) GetStatus(ctx context.Context, chain, network, hash string) (pendingtx.PendingTx, error) {
	stack, err := c.registry.Get(chain, network)
	if err != nil {
		return pendingtx.PendingTx{}, fmt.Errorf("getting chain stack: %s", err)
	}

	tx, err := stack.PendingTxs.Get(ctx, stack.Chain, hash)
	if err != nil {
		return pendingtx.PendingTx{}, fmt.Errorf("getting pending txn: %w", err)
	}
	if tx.Status.Terminal() {
		return tx, nil
	}

	status, err := stack.Client.TxStatus(ctx, hash)
	if err != nil {
		log.Warn().Err(err).Str("hash", hash).Msg("node status query failed")
	} else if status.State.Terminal() {
		tx.Status = pendingtx.StatusConfirmed
		if status.State == chainclient.TxStateFailed {
			tx.Status = pendingtx.StatusFailed
		}
		c.settle(ctx, stack, hash, status.State)
		return tx, nil
	}

	// Heuristic path. A missing fee reading classifies as MEMPOOL_UNKNOWN
	// rather than failing the whole status call.
	currentFee, err := stack.GasOracle.Current(ctx)
	if err != nil {
		currentFee = nil
	}
	durationLimit := stack.DurationLimit
	if durationLimit == 0 {
		durationLimit = pendingtx.DefaultDurationLimit
	}
	tx.Status = pendingtx.Classify(tx, currentFee, durationLimit, time.Now().UTC())

	if err := stack.PendingTxs.SetStatus(ctx, stack.Chain, hash, tx.Status); err != nil {
		log.Error().Err(err).Str("hash", hash).Msg("persisting heuristic status")
	}
	return tx, nil
}

// CurrentFee returns the cached fee level for (chain, network).
func (c *TxCoordinator) CurrentFee(ctx context.Context, chain, network string) (*big.Int, error) {
	stack, err := c.registry.Get(chain, network)
	if err != nil {
		return nil, fmt.Errorf("getting chain stack: %s", err)
	}
	return stack.GasOracle.Current(ctx)
}

// WatchConfirmation waits for a live confirmation notification for hash.
func (c *TxCoordinator) WatchConfirmation(
	ctx context.Context,
	chain, network, hash string,
	timeout time.Duration,
) (confirmwatcher.Result, error) {
	stack, err := c.registry.Get(chain, network)
	if err != nil {
		return confirmwatcher.Result{}, fmt.Errorf("getting chain stack: %s", err)
	}
	if stack.Watcher == nil {
		return confirmwatcher.Result{}, confirmwatcher.ErrDisconnected
	}
	return stack.Watcher.Watch(ctx, hash, timeout)
}

// track registers a submitted transaction, logging instead of failing: once the
// payload is out, the submission succeeded whether or not we remember it.
func (c *TxCoordinator) track(ctx context.Context, stack *chains.ChainStack, tx pendingtx.PendingTx) {
	if err := stack.PendingTxs.Record(ctx, tx); err != nil {
		log.Error().Err(err).Str("hash", tx.Hash).Msg("recording pending txn")
	}
}

// settle marks a transaction terminal and evicts it from the registry.
func (c *TxCoordinator) settle(ctx context.Context, stack *chains.ChainStack, hash string, state chainclient.TxState) {
	status := pendingtx.StatusConfirmed
	if state == chainclient.TxStateFailed {
		status = pendingtx.StatusFailed
	}
	if err := stack.PendingTxs.SetStatus(ctx, stack.Chain, hash, status); err != nil {
		log.Error().Err(err).Str("hash", hash).Msg("marking txn terminal")
	}
	if err := stack.PendingTxs.Evict(ctx, stack.Chain, hash); err != nil {
		log.Error().Err(err).Str("hash", hash).Msg("evicting terminal txn")
	}
}

// liveTxAtNonce finds the non-terminal tracked transaction sitting at nonce.
func (c *TxCoordinator) liveTxAtNonce(
	ctx context.Context,
	stack *chains.ChainStack,
	address string,
	nonce int64,
) (pendingtx.PendingTx, error) {
	unconfirmed, err := stack.PendingTxs.ListUnconfirmed(ctx, stack.Chain)
	if err != nil {
		return pendingtx.PendingTx{}, fmt.Errorf("listing unconfirmed txns: %s", err)
	}
	for _, tx := range unconfirmed {
		if tx.Address == address && tx.Nonce == nonce {
			return tx, nil
		}
	}
	return pendingtx.PendingTx{}, fmt.Errorf("no live txn at nonce %d: %w", nonce, pendingtx.ErrNotFound)
}
