package impl

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/gatewaynetwork/go-txgateway/pkg/database"
	"github.com/gatewaynetwork/go-txgateway/pkg/pendingtx"
	"github.com/gatewaynetwork/go-txgateway/tests"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) *Store {
	t.Helper()

	db, err := database.Open(tests.Sqlite3URL())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := NewStore(db, 0)
	t.Cleanup(store.Close)
	return store
}

func testTx(hash string, nonce int64) pendingtx.PendingTx {
	return pendingtx.PendingTx{
		Chain:           "ethereum",
		ChainID:         1,
		Hash:            hash,
		Address:         "0x2222222222222222222222222222222222222222",
		Nonce:           nonce,
		FeeAtSubmission: big.NewInt(20),
		SubmittedAt:     time.Now(),
	}
}

func TestRecordAndGet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := setup(t)

	tx := testTx("0xabc", 5)
	require.NoError(t, store.Record(ctx, tx))

	got, err := store.Get(ctx, "ethereum", "0xabc")
	require.NoError(t, err)
	require.Equal(t, int64(5), got.Nonce)
	require.Equal(t, pendingtx.StatusPending, got.Status)
	require.Equal(t, 0, got.FeeAtSubmission.Cmp(big.NewInt(20)))

	_, err = store.Get(ctx, "ethereum", "0xmissing")
	require.ErrorIs(t, err, pendingtx.ErrNotFound)
}

func TestDuplicateLiveNonceRejected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := setup(t)

	require.NoError(t, store.Record(ctx, testTx("0xabc", 5)))
	require.Error(t, store.Record(ctx, testTx("0xdef", 5)))

	// Once the first tx is terminal the nonce may be reused.
	require.NoError(t, store.SetStatus(ctx, "ethereum", "0xabc", pendingtx.StatusConfirmed))
	require.NoError(t, store.Record(ctx, testTx("0xdef", 5)))
}

func TestEvictAndListUnconfirmed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := setup(t)

	require.NoError(t, store.Record(ctx, testTx("0xaaa", 1)))
	require.NoError(t, store.Record(ctx, testTx("0xbbb", 2)))
	require.NoError(t, store.SetStatus(ctx, "ethereum", "0xbbb", pendingtx.StatusConfirmed))

	unconfirmed, err := store.ListUnconfirmed(ctx, "ethereum")
	require.NoError(t, err)
	require.Len(t, unconfirmed, 1)
	require.Equal(t, "0xaaa", unconfirmed[0].Hash)

	require.NoError(t, store.Evict(ctx, "ethereum", "0xaaa"))
	unconfirmed, err = store.ListUnconfirmed(ctx, "ethereum")
	require.NoError(t, err)
	require.Empty(t, unconfirmed)
}

func TestClassifyHeuristic(t *testing.T) {
	t.Parallel()
	now := time.Now()
	limit := 3 * time.Minute

	tx := testTx("0xabc", 5)
	tx.FeeAtSubmission = big.NewInt(5)

	// Long wait and underpriced: likely fail.
	tx.SubmittedAt = now.Add(-4 * time.Minute)
	require.Equal(t, pendingtx.StatusMempoolLikelyFail,
		pendingtx.Classify(tx, big.NewInt(10), limit, now))

	// Short wait: likely succeed regardless of the fee comparison.
	tx.SubmittedAt = now.Add(-1 * time.Minute)
	require.Equal(t, pendingtx.StatusMempoolLikelySucceed,
		pendingtx.Classify(tx, big.NewInt(10), limit, now))

	// Long wait but fee at market: strict > on both legs, so likely succeed.
	tx.SubmittedAt = now.Add(-4 * time.Minute)
	require.Equal(t, pendingtx.StatusMempoolLikelySucceed,
		pendingtx.Classify(tx, big.NewInt(5), limit, now))

	// No fee information at all.
	require.Equal(t, pendingtx.StatusMempoolUnknown,
		pendingtx.Classify(tx, nil, limit, now))
}
