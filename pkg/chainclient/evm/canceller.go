package evm

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gatewaynetwork/go-txgateway/pkg/chainclient"
	"github.com/gatewaynetwork/go-txgateway/pkg/wallet"
)

// transferGasLimit is the fixed gas cost of a plain value transfer.
const transferGasLimit = 21000

// Canceller builds signed zero-value self-transfers that consume a stuck nonce.
type Canceller struct {
	wallet  *wallet.Wallet
	chainID int64
}

var _ chainclient.CancelBuilder = (*Canceller)(nil)

// NewCanceller returns a cancel builder signing with the given wallet.
func NewCanceller(w *wallet.Wallet, chainID int64) *Canceller {
	return &Canceller{wallet: w, chainID: chainID}
}

// BuildCancel builds a signed self-transfer for the nonce priced at fee.
// The address must be the canceller wallet's own address since a replacement
// transaction only displaces the original when signed by the same key.
func (c *Canceller) BuildCancel(
	ctx context.Context,
	address string,
	nonce int64,
	fee *big.Int,
) ([]byte, error) {
	if common.HexToAddress(address) != c.wallet.Address() {
		return nil, fmt.Errorf("address %s isn't the canceller wallet %s", address, c.wallet.Hex())
	}

	to := c.wallet.Address()
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    uint64(nonce),
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      transferGasLimit,
		GasPrice: fee,
	})

	signed, err := c.wallet.SignTx(tx, c.chainID)
	if err != nil {
		return nil, fmt.Errorf("signing cancel txn: %s", err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshaling cancel txn: %s", err)
	}
	return raw, nil
}
