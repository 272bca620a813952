package impl

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/gatewaynetwork/go-txgateway/pkg/chainclient"
	"github.com/gatewaynetwork/go-txgateway/pkg/database"
	"github.com/gatewaynetwork/go-txgateway/tests"
	"github.com/stretchr/testify/require"
)

const testAddr = "0x1111111111111111111111111111111111111111"

type fakeChainClient struct {
	mu       sync.Mutex
	reported int64
	err      error
}

func (c *fakeChainClient) ReportedNonce(_ context.Context, _ string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reported, c.err
}

func (c *fakeChainClient) SubmitRaw(context.Context, []byte) (string, error) {
	return "", nil
}

func (c *fakeChainClient) FeeEstimate(context.Context) (chainclient.Fees, error) {
	return chainclient.Fees{}, nil
}

func (c *fakeChainClient) TxStatus(context.Context, string) (chainclient.TxStatus, error) {
	return chainclient.TxStatus{}, nil
}

func setup(t *testing.T) (*LocalManager, *fakeChainClient, *NonceStore) {
	t.Helper()

	db, err := database.Open(tests.Sqlite3URL())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	client := &fakeChainClient{reported: 5}
	store := NewNonceStore(db)
	return NewLocalManager("ethereum", store, client), client, store
}

func TestConcurrentAllocationsAreSequential(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	manager, _, _ := setup(t)

	const n = 20
	results := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := manager.Allocate(ctx, testAddr)
			require.NoError(t, err)
			results <- got
		}()
	}
	wg.Wait()
	close(results)

	nonces := make([]int64, 0, n)
	for got := range results {
		nonces = append(nonces, got)
	}
	sort.Slice(nonces, func(i, j int) bool { return nonces[i] < nonces[j] })

	// reported count 5 means nonces 0..4 are used, so the sequence starts at 5.
	for i, got := range nonces {
		require.Equal(t, int64(5+i), got)
	}
}

func TestProvideDoesNotBurnNonceOnLocalFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	manager, _, _ := setup(t)

	boom := errors.New("signing failed")
	_, err := manager.Provide(ctx, testAddr, func(int64) (bool, error) {
		return false, boom
	})
	require.ErrorIs(t, err, boom)

	got, err := manager.Allocate(ctx, testAddr)
	require.NoError(t, err)
	require.Equal(t, int64(5), got)
}

func TestProvideCommitsOnAmbiguousFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	manager, _, _ := setup(t)

	boom := errors.New("broadcast timeout")
	_, err := manager.Provide(ctx, testAddr, func(int64) (bool, error) {
		return true, boom
	})
	require.ErrorIs(t, err, boom)

	// The ambiguous nonce is burned; the next allocation moves past it.
	got, err := manager.Allocate(ctx, testAddr)
	require.NoError(t, err)
	require.Equal(t, int64(6), got)
}

func TestProvideExplicitNeverMutatesAllocation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	manager, _, _ := setup(t)

	var seen int64
	err := manager.ProvideExplicit(ctx, testAddr, 77, func(n int64) (bool, error) {
		seen = n
		return true, nil
	})
	require.NoError(t, err)
	require.Equal(t, int64(77), seen)

	got, err := manager.Allocate(ctx, testAddr)
	require.NoError(t, err)
	require.Equal(t, int64(5), got)
}

func TestReconcileFailsLoudlyWhenRemoteUnreachable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	manager, client, _ := setup(t)

	client.mu.Lock()
	client.err = chainclient.ErrRemoteUnavailable
	client.mu.Unlock()

	err := manager.Reconcile(ctx, testAddr)
	require.ErrorIs(t, err, chainclient.ErrRemoteUnavailable)
}

func TestRestartRecoversFromStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	manager, client, store := setup(t)

	for i := 0; i < 3; i++ {
		_, err := manager.Allocate(ctx, testAddr)
		require.NoError(t, err)
	}

	// A fresh manager over the same store must continue from the local record
	// even when the node reports a lower count.
	restarted := NewLocalManager("ethereum", store, client)
	got, err := restarted.Allocate(ctx, testAddr)
	require.NoError(t, err)
	require.Equal(t, int64(8), got)
}

func TestAllocationsUseRemoteWhenAhead(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	manager, client, _ := setup(t)

	got, err := manager.Allocate(ctx, testAddr)
	require.NoError(t, err)
	require.Equal(t, int64(5), got)

	// Someone used this address outside the gateway.
	client.mu.Lock()
	client.reported = 40
	client.mu.Unlock()

	got, err = manager.Allocate(ctx, testAddr)
	require.NoError(t, err)
	require.Equal(t, int64(40), got)
}
