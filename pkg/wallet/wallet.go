package wallet

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Wallet stores a signing key pair for an EVM account.
type Wallet struct {
	sk *ecdsa.PrivateKey
	pk *ecdsa.PublicKey
}

// NewWallet creates a new wallet from a hex encoded private key.
func NewWallet(sk string) (*Wallet, error) {
	privateKey, err := crypto.HexToECDSA(sk)
	if err != nil {
		return nil, fmt.Errorf("converting private key to ECDSA: %s", err)
	}

	publicKey, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("casting public key to ECDSA")
	}

	return &Wallet{
		sk: privateKey,
		pk: publicKey,
	}, nil
}

// Address returns the wallet address.
func (w *Wallet) Address() common.Address {
	return crypto.PubkeyToAddress(*w.pk)
}

// Hex returns the hexadecimal wallet address.
func (w *Wallet) Hex() string {
	return w.Address().Hex()
}

// SignTx signs a transaction for the given chain id using the London signer.
func (w *Wallet) SignTx(tx *types.Transaction, chainID int64) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, types.NewLondonSigner(big.NewInt(chainID)), w.sk)
	if err != nil {
		return nil, fmt.Errorf("signing txn: %s", err)
	}
	return signed, nil
}
