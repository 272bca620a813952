package impl

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/gatewaynetwork/go-txgateway/internal/chains"
	"github.com/gatewaynetwork/go-txgateway/internal/gateway"
	"github.com/gatewaynetwork/go-txgateway/pkg/chainclient"
	"github.com/gatewaynetwork/go-txgateway/pkg/database"
	"github.com/gatewaynetwork/go-txgateway/pkg/gasprice"
	gasimpl "github.com/gatewaynetwork/go-txgateway/pkg/gasprice/impl"
	nonceimpl "github.com/gatewaynetwork/go-txgateway/pkg/nonce/impl"
	"github.com/gatewaynetwork/go-txgateway/pkg/pendingtx"
	pendingtximpl "github.com/gatewaynetwork/go-txgateway/pkg/pendingtx/impl"
	"github.com/gatewaynetwork/go-txgateway/tests"
	"github.com/stretchr/testify/require"
)

type fakeChainClient struct {
	mu       sync.Mutex
	reported int64
	fee      *big.Int
	statuses map[string]chainclient.TxStatus
	nextTx   int
}

func newFakeChainClient(reported int64, fee int64) *fakeChainClient {
	return &fakeChainClient{
		reported: reported,
		fee:      big.NewInt(fee),
		statuses: map[string]chainclient.TxStatus{},
	}
}

func (c *fakeChainClient) ReportedNonce(_ context.Context, _ string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reported, nil
}

func (c *fakeChainClient) SubmitRaw(_ context.Context, _ []byte) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextTx++
	return fmt.Sprintf("0xtx%d", c.nextTx), nil
}

func (c *fakeChainClient) FeeEstimate(_ context.Context) (chainclient.Fees, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return chainclient.Fees{Base: new(big.Int).Set(c.fee)}, nil
}

func (c *fakeChainClient) TxStatus(_ context.Context, hash string) (chainclient.TxStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statuses[hash], nil
}

func (c *fakeChainClient) setFee(fee int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fee = big.NewInt(fee)
}

func (c *fakeChainClient) setStatus(hash string, status chainclient.TxStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[hash] = status
}

type fakeCanceller struct {
	mu       sync.Mutex
	lastFee  *big.Int
	lastNone int64
}

func (f *fakeCanceller) BuildCancel(_ context.Context, _ string, nonce int64, fee *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastFee = new(big.Int).Set(fee)
	f.lastNone = nonce
	return []byte("cancel"), nil
}

func setup(t *testing.T) (*TxCoordinator, *chains.ChainStack, *fakeChainClient, *database.SQLiteDB) {
	t.Helper()

	db, err := database.Open(tests.Sqlite3URL())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.DB.Close() })

	client := newFakeChainClient(5, 20)

	oracleConfig := gasprice.DefaultConfig()
	oracleConfig.TTL = 0 // always fetch, so fee changes are visible immediately
	oracle := gasimpl.NewCachedOracle("ethereum", "goerli", client, oracleConfig)
	t.Cleanup(oracle.Close)

	stack := &chains.ChainStack{
		Chain:         "ethereum",
		Network:       "goerli",
		ChainID:       5,
		Client:        client,
		Canceller:     &fakeCanceller{},
		NonceManager:  nonceimpl.NewLocalManager("ethereum", nonceimpl.NewNonceStore(db), client),
		PendingTxs:    pendingtximpl.NewStore(db, 0),
		GasOracle:     oracle,
		DurationLimit: 3 * time.Minute,
	}

	registry := chains.NewRegistry()
	require.NoError(t, registry.Register(stack))

	return NewTxCoordinator(registry), stack, client, db
}

func backdate(t *testing.T, db *database.SQLiteDB, hash string, age time.Duration) {
	t.Helper()
	_, err := db.DB.Exec(
		"UPDATE pending_txs SET submitted_at = ?1 WHERE hash = ?2",
		time.Now().UTC().Add(-age).Unix(), hash)
	require.NoError(t, err)
}

func submitOne(t *testing.T, coordinator *TxCoordinator) string {
	t.Helper()
	hash, err := coordinator.SubmitWithNonce(context.Background(), "ethereum", "goerli", "0xaddr",
		func(nonce int64) ([]byte, error) {
			return []byte(fmt.Sprintf("raw-%d", nonce)), nil
		})
	require.NoError(t, err)
	return hash
}

func TestSubmitRecordsPendingTx(t *testing.T) {
	t.Parallel()

	coordinator, stack, _, _ := setup(t)
	ctx := context.Background()

	var seenNonce int64 = -1
	hash, err := coordinator.SubmitWithNonce(ctx, "ethereum", "goerli", "0xaddr",
		func(nonce int64) ([]byte, error) {
			seenNonce = nonce
			return []byte("raw"), nil
		})
	require.NoError(t, err)
	require.Equal(t, int64(5), seenNonce)

	tx, err := stack.PendingTxs.Get(ctx, "ethereum", hash)
	require.NoError(t, err)
	require.Equal(t, int64(5), tx.Nonce)
	require.Equal(t, "0xaddr", tx.Address)
	require.Equal(t, big.NewInt(20), tx.FeeAtSubmission)
	require.Equal(t, pendingtx.StatusPending, tx.Status)

	// Fresh submission, fee unchanged: the heuristic expects inclusion.
	got, err := coordinator.GetStatus(ctx, "ethereum", "goerli", hash)
	require.NoError(t, err)
	require.Equal(t, pendingtx.StatusMempoolLikelySucceed, got.Status)
}

func TestSubmitBuildFailureDoesNotBurnNonce(t *testing.T) {
	t.Parallel()

	coordinator, _, _, _ := setup(t)
	ctx := context.Background()

	_, err := coordinator.SubmitWithNonce(ctx, "ethereum", "goerli", "0xaddr",
		func(nonce int64) ([]byte, error) {
			return nil, errors.New("signing failed")
		})
	require.Error(t, err)

	// The failed attempt's nonce is reused by the next submission.
	var seenNonce int64 = -1
	_, err = coordinator.SubmitWithNonce(ctx, "ethereum", "goerli", "0xaddr",
		func(nonce int64) ([]byte, error) {
			seenNonce = nonce
			return []byte("raw"), nil
		})
	require.NoError(t, err)
	require.Equal(t, int64(5), seenNonce)
}

func TestSubmitSignedTracksExplicitNonce(t *testing.T) {
	t.Parallel()

	coordinator, stack, _, _ := setup(t)
	ctx := context.Background()

	nonce, err := coordinator.AllocateNonce(ctx, "ethereum", "goerli", "0xaddr")
	require.NoError(t, err)
	require.Equal(t, int64(5), nonce)

	hash, err := coordinator.SubmitSigned(ctx, "ethereum", "goerli", "0xaddr", nonce, []byte("raw"))
	require.NoError(t, err)

	tx, err := stack.PendingTxs.Get(ctx, "ethereum", hash)
	require.NoError(t, err)
	require.Equal(t, nonce, tx.Nonce)

	// Explicit submission didn't advance allocation past the allocate call.
	next, err := coordinator.AllocateNonce(ctx, "ethereum", "goerli", "0xaddr")
	require.NoError(t, err)
	require.Equal(t, int64(6), next)
}

func TestStatusHeuristicFollowsAgeAndFee(t *testing.T) {
	t.Parallel()

	coordinator, _, client, db := setup(t)
	ctx := context.Background()

	hash := submitOne(t, coordinator)

	// Two minutes in with the market at 25: under the duration limit, so
	// still expected to succeed.
	backdate(t, db, hash, 2*time.Minute)
	client.setFee(25)
	got, err := coordinator.GetStatus(ctx, "ethereum", "goerli", hash)
	require.NoError(t, err)
	require.Equal(t, pendingtx.StatusMempoolLikelySucceed, got.Status)

	// Four minutes in with the market at 30: overdue and underpriced.
	backdate(t, db, hash, 4*time.Minute)
	client.setFee(30)
	got, err = coordinator.GetStatus(ctx, "ethereum", "goerli", hash)
	require.NoError(t, err)
	require.Equal(t, pendingtx.StatusMempoolLikelyFail, got.Status)

	// Overdue but the market fee didn't move above ours: age alone doesn't
	// condemn the transaction.
	client.setFee(20)
	got, err = coordinator.GetStatus(ctx, "ethereum", "goerli", hash)
	require.NoError(t, err)
	require.Equal(t, pendingtx.StatusMempoolLikelySucceed, got.Status)
}

func TestGetStatusEvictsConfirmed(t *testing.T) {
	t.Parallel()

	coordinator, stack, client, _ := setup(t)
	ctx := context.Background()

	hash := submitOne(t, coordinator)
	client.setStatus(hash, chainclient.TxStatus{State: chainclient.TxStateConfirmed, BlockNumber: 100})

	got, err := coordinator.GetStatus(ctx, "ethereum", "goerli", hash)
	require.NoError(t, err)
	require.Equal(t, pendingtx.StatusConfirmed, got.Status)

	_, err = stack.PendingTxs.Get(ctx, "ethereum", hash)
	require.ErrorIs(t, err, pendingtx.ErrNotFound)
}

func TestCancelReplacesStuckTransaction(t *testing.T) {
	t.Parallel()

	coordinator, stack, _, _ := setup(t)
	ctx := context.Background()

	original := submitOne(t, coordinator)

	res, err := coordinator.CancelPending(ctx, "ethereum", "goerli", "0xaddr", 5, big.NewInt(30))
	require.NoError(t, err)
	require.False(t, res.AlreadyConfirmed)
	require.NotEqual(t, original, res.TxHash)

	_, err = stack.PendingTxs.Get(ctx, "ethereum", original)
	require.ErrorIs(t, err, pendingtx.ErrNotFound)

	replacement, err := stack.PendingTxs.Get(ctx, "ethereum", res.TxHash)
	require.NoError(t, err)
	require.Equal(t, int64(5), replacement.Nonce)
	require.Equal(t, big.NewInt(30), replacement.FeeAtSubmission)

	canceller := stack.Canceller.(*fakeCanceller)
	require.Equal(t, int64(5), canceller.lastNone)
	require.Equal(t, big.NewInt(30), canceller.lastFee)

	// The explicit-nonce path never advances allocation.
	next, err := coordinator.AllocateNonce(ctx, "ethereum", "goerli", "0xaddr")
	require.NoError(t, err)
	require.Equal(t, int64(6), next)
}

func TestCancelRequiresStrictlyHigherFee(t *testing.T) {
	t.Parallel()

	coordinator, _, _, _ := setup(t)
	ctx := context.Background()

	submitOne(t, coordinator)

	_, err := coordinator.CancelPending(ctx, "ethereum", "goerli", "0xaddr", 5, big.NewInt(20))
	require.ErrorIs(t, err, gateway.ErrFeeTooLow)
}

func TestCancelRacingConfirmationIsBenign(t *testing.T) {
	t.Parallel()

	coordinator, stack, client, _ := setup(t)
	ctx := context.Background()

	hash := submitOne(t, coordinator)
	client.setStatus(hash, chainclient.TxStatus{State: chainclient.TxStateConfirmed, BlockNumber: 101})

	res, err := coordinator.CancelPending(ctx, "ethereum", "goerli", "0xaddr", 5, big.NewInt(30))
	require.NoError(t, err)
	require.True(t, res.AlreadyConfirmed)
	require.Equal(t, hash, res.TxHash)

	_, err = stack.PendingTxs.Get(ctx, "ethereum", hash)
	require.ErrorIs(t, err, pendingtx.ErrNotFound)
}

func TestCancelUnknownNonce(t *testing.T) {
	t.Parallel()

	coordinator, _, _, _ := setup(t)

	_, err := coordinator.CancelPending(context.Background(), "ethereum", "goerli", "0xaddr", 99, big.NewInt(30))
	require.ErrorIs(t, err, pendingtx.ErrNotFound)
}
