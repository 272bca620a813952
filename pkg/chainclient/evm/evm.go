// Package evm implements the chain capability interface on top of a go-ethereum client.
package evm

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/gatewaynetwork/go-txgateway/pkg/chainclient"
	logger "github.com/rs/zerolog/log"
)

var log = logger.With().Str("component", "evmclient").Logger()

// Client adapts an Ethereum JSON-RPC backend to the chain capability interface.
type Client struct {
	backend Backend
}

// Backend is the subset of ethclient.Client the adapter relies on.
type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
}

var _ chainclient.ChainClient = (*Client)(nil)

// New returns a chain client backed by the provided Ethereum backend.
func New(backend Backend) *Client {
	return &Client{backend: backend}
}

// Dial connects to an Ethereum JSON-RPC endpoint.
func Dial(endpoint string) (*Client, error) {
	conn, err := ethclient.Dial(endpoint)
	if err != nil {
		return nil, fmt.Errorf("connecting to ethereum endpoint: %w", chainclient.ErrRemoteUnavailable)
	}
	return &Client{backend: conn}, nil
}

// ReportedNonce returns the pending transaction count for the address.
func (c *Client) ReportedNonce(ctx context.Context, address string) (int64, error) {
	nonce, err := c.backend.PendingNonceAt(ctx, common.HexToAddress(address))
	if err != nil {
		return 0, fmt.Errorf("pending nonce at: %s: %w", err, chainclient.ErrRemoteUnavailable)
	}
	return int64(nonce), nil
}

// SubmitRaw decodes and broadcasts a signed raw transaction.
// A node answering "already known" is counted as a successful submission, since
// another gateway instance may have broadcast the same payload first.
func (c *Client) SubmitRaw(ctx context.Context, raw []byte) (string, error) {
	tx := &types.Transaction{}
	if err := tx.UnmarshalBinary(raw); err != nil {
		return "", fmt.Errorf("unmarshaling raw transaction: %s", err)
	}

	if err := c.backend.SendTransaction(ctx, tx); err != nil {
		if strings.Contains(err.Error(), "already known") {
			log.Debug().Str("hash", tx.Hash().Hex()).Msg("transaction already known by the node")
			return tx.Hash().Hex(), nil
		}
		return "", fmt.Errorf("sending transaction: %s: %w", err, chainclient.ErrRemoteUnavailable)
	}

	return tx.Hash().Hex(), nil
}

// FeeEstimate returns the node's suggested gas price and tip cap.
func (c *Client) FeeEstimate(ctx context.Context) (chainclient.Fees, error) {
	base, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return chainclient.Fees{}, fmt.Errorf("suggest gas price: %s: %w", err, chainclient.ErrRemoteUnavailable)
	}

	tip, err := c.backend.SuggestGasTipCap(ctx)
	if err != nil {
		// Pre-EIP-1559 networks don't implement eth_maxPriorityFeePerGas.
		log.Debug().Err(err).Msg("node doesn't report a tip cap")
		tip = nil
	}

	return chainclient.Fees{Base: base, Priority: tip}, nil
}

// TxStatus queries the receipt for the hash, falling back to the mempool.
func (c *Client) TxStatus(ctx context.Context, hash string) (chainclient.TxStatus, error) {
	h := common.HexToHash(hash)

	receipt, err := c.backend.TransactionReceipt(ctx, h)
	if err == nil {
		state := chainclient.TxStateConfirmed
		if receipt.Status == types.ReceiptStatusFailed {
			state = chainclient.TxStateFailed
		}
		return chainclient.TxStatus{
			State:       state,
			BlockNumber: receipt.BlockNumber.Int64(),
		}, nil
	}
	if err != ethereum.NotFound {
		return chainclient.TxStatus{}, fmt.Errorf("transaction receipt: %s: %w", err, chainclient.ErrRemoteUnavailable)
	}

	_, isPending, err := c.backend.TransactionByHash(ctx, h)
	if err == ethereum.NotFound {
		return chainclient.TxStatus{State: chainclient.TxStateUnknown}, nil
	}
	if err != nil {
		return chainclient.TxStatus{}, fmt.Errorf("transaction by hash: %s: %w", err, chainclient.ErrRemoteUnavailable)
	}
	if isPending {
		return chainclient.TxStatus{State: chainclient.TxStatePending}, nil
	}

	// Known but not pending and no receipt yet: still in flight from our point of view.
	return chainclient.TxStatus{State: chainclient.TxStatePending}, nil
}
