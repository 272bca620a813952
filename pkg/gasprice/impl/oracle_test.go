package impl

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/gatewaynetwork/go-txgateway/pkg/chainclient"
	"github.com/gatewaynetwork/go-txgateway/pkg/gasprice"
	"github.com/stretchr/testify/require"
)

type feeClient struct {
	mu      sync.Mutex
	fees    chainclient.Fees
	err     error
	fetches int
}

func (c *feeClient) FeeEstimate(context.Context) (chainclient.Fees, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetches++
	return c.fees, c.err
}

func (c *feeClient) ReportedNonce(context.Context, string) (int64, error) { return 0, nil }
func (c *feeClient) SubmitRaw(context.Context, []byte) (string, error)    { return "", nil }
func (c *feeClient) TxStatus(context.Context, string) (chainclient.TxStatus, error) {
	return chainclient.TxStatus{}, nil
}

func (c *feeClient) set(fees chainclient.Fees, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fees, c.err = fees, err
}

func TestCurrentCachesWithinTTL(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	client := &feeClient{fees: chainclient.Fees{Base: big.NewInt(100), Priority: big.NewInt(2)}}

	config := gasprice.DefaultConfig()
	config.TTL = time.Minute
	oracle := NewCachedOracle("ethereum", "mainnet", client, config)

	got, err := oracle.Current(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, got.Cmp(big.NewInt(102)))

	got, err = oracle.Current(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, got.Cmp(big.NewInt(102)))

	client.mu.Lock()
	defer client.mu.Unlock()
	require.Equal(t, 1, client.fetches)
}

func TestRefreshFailureServesStaleValue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	client := &feeClient{fees: chainclient.Fees{Base: big.NewInt(50)}}

	oracle := NewCachedOracle("ethereum", "mainnet", client, gasprice.DefaultConfig())

	got, err := oracle.Refresh(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, got.Cmp(big.NewInt(50)))

	client.set(chainclient.Fees{}, chainclient.ErrRemoteUnavailable)
	got, err = oracle.Refresh(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, got.Cmp(big.NewInt(50)))
}

func TestFirstRefreshFailurePropagates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	client := &feeClient{err: chainclient.ErrRemoteUnavailable}

	oracle := NewCachedOracle("ethereum", "mainnet", client, gasprice.DefaultConfig())

	_, err := oracle.Refresh(ctx)
	require.ErrorIs(t, err, gasprice.ErrNoPrice)
}

func TestFloorAndAdjustment(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	client := &feeClient{fees: chainclient.Fees{Base: big.NewInt(8)}}

	config := gasprice.DefaultConfig()
	config.AdjustmentPercent = 125
	config.MinGasPrice = big.NewInt(25)
	oracle := NewCachedOracle("polygon", "mainnet", client, config)

	// 8 * 125% = 10, floored to 25.
	got, err := oracle.Refresh(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, got.Cmp(big.NewInt(25)))

	client.set(chainclient.Fees{Base: big.NewInt(100)}, nil)
	got, err = oracle.Refresh(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, got.Cmp(big.NewInt(125)))
}
