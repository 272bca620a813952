package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/gatewaynetwork/go-txgateway/pkg/wallet"
)

func main() {
	endpoint := flag.String("endpoint", "", "URL of an EVM node API (i.e: Alchemy/Infura)")
	privateKey := flag.String("privatekey", "", "Hex encoded private key of the wallet address")
	flag.Parse()

	if len(flag.Args()) < 1 {
		log.Fatalf("we expect one argument\n./feebumper [flags] <stuck-txn-hash>")
	}
	stuckTxnHash := common.HexToHash(flag.Args()[0])

	w, err := wallet.NewWallet(*privateKey)
	if err != nil {
		log.Fatalf("creating wallet: %s", err)
	}

	conn, err := ethclient.Dial(*endpoint)
	if err != nil {
		log.Fatalf("failed to connect to evm endpoint: %s", err)
	}

	newTxnHash, err := bumpTxnFee(conn, w, stuckTxnHash)
	if err != nil {
		log.Fatalf("bumping txn fee: %s", err)
	}
	fmt.Printf("The new transaction hash is: %s\n", newTxnHash)
}

// bumpTxnFee rebuilds the stuck transaction at the same nonce with a 25% higher
// gas price so it displaces the original in the mempool.
func bumpTxnFee(conn *ethclient.Client, w *wallet.Wallet, stuckTxnHash common.Hash) (common.Hash, error) {
	ctx := context.Background()

	pendingTxn, isPending, err := conn.TransactionByHash(ctx, stuckTxnHash)
	if err != nil {
		return common.Hash{}, fmt.Errorf("get pending txn from the mempool: %s", err)
	}
	if !isPending {
		return common.Hash{}, fmt.Errorf("the transaction hash %s isn't pending", stuckTxnHash)
	}

	bumpedGasPrice := big.NewInt(0).Div(big.NewInt(0).Mul(pendingTxn.GasPrice(), big.NewInt(125)), big.NewInt(100))
	ltxn := &types.LegacyTx{
		Nonce:    pendingTxn.Nonce(),
		GasPrice: bumpedGasPrice,
		Gas:      pendingTxn.Gas(),
		To:       pendingTxn.To(),
		Value:    pendingTxn.Value(),
		Data:     pendingTxn.Data(),
	}

	chainID, err := conn.ChainID(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("get chain id: %s", err)
	}
	txn, err := w.SignTx(types.NewTx(ltxn), chainID.Int64())
	if err != nil {
		return common.Hash{}, fmt.Errorf("signing txn: %s", err)
	}
	if err := conn.SendTransaction(ctx, txn); err != nil {
		return common.Hash{}, fmt.Errorf("sending txn: %s", err)
	}

	return txn.Hash(), nil
}
