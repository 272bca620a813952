package controllers

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gatewaynetwork/go-txgateway/internal/chains"
	"github.com/gatewaynetwork/go-txgateway/internal/gateway"
	"github.com/gatewaynetwork/go-txgateway/internal/router/middlewares"
	"github.com/gatewaynetwork/go-txgateway/pkg/confirmwatcher"
	"github.com/gatewaynetwork/go-txgateway/pkg/pendingtx"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"
)

type stubGateway struct {
	allocate func(address string) (int64, error)
	submit   func(address string, nonce int64, raw []byte) (string, error)
	cancel   func(address string, nonce int64, bumpedFee *big.Int) (gateway.CancelResult, error)
	status   func(hash string) (pendingtx.PendingTx, error)
	fee      func() (*big.Int, error)
}

func (s *stubGateway) AllocateNonce(_ context.Context, _, _, address string) (int64, error) {
	return s.allocate(address)
}

func (s *stubGateway) SubmitWithNonce(_ context.Context, _, _, _ string, _ gateway.BuildFn) (string, error) {
	return "", fmt.Errorf("not used over http")
}

func (s *stubGateway) SubmitSigned(_ context.Context, _, _, address string, nonce int64, raw []byte) (string, error) {
	return s.submit(address, nonce, raw)
}

func (s *stubGateway) CancelPending(
	_ context.Context, _, _, address string, nonce int64, bumpedFee *big.Int,
) (gateway.CancelResult, error) {
	return s.cancel(address, nonce, bumpedFee)
}

func (s *stubGateway) GetStatus(_ context.Context, _, _, hash string) (pendingtx.PendingTx, error) {
	return s.status(hash)
}

func (s *stubGateway) CurrentFee(_ context.Context, _, _ string) (*big.Int, error) {
	return s.fee()
}

func (s *stubGateway) WatchConfirmation(
	_ context.Context, _, _, _ string, _ time.Duration,
) (confirmwatcher.Result, error) {
	return confirmwatcher.Result{}, confirmwatcher.ErrDisconnected
}

func testRouter(t *testing.T, g gateway.Gateway) *mux.Router {
	t.Helper()

	registry := chains.NewRegistry()
	require.NoError(t, registry.Register(&chains.ChainStack{Chain: "ethereum", Network: "mainnet"}))

	controller := NewController(g)
	restChain := middlewares.RESTChain(registry)

	r := mux.NewRouter()
	r.Handle("/v1/chains/{chain}/nonce",
		restChain(http.HandlerFunc(controller.AllocateNonce))).Methods(http.MethodPost)
	r.Handle("/v1/chains/{chain}/transactions",
		restChain(http.HandlerFunc(controller.SubmitTransaction))).Methods(http.MethodPost)
	r.Handle("/v1/chains/{chain}/transactions/{hash}/cancel",
		restChain(http.HandlerFunc(controller.CancelTransaction))).Methods(http.MethodPost)
	r.Handle("/v1/chains/{chain}/transactions/{hash}",
		restChain(http.HandlerFunc(controller.GetTransaction))).Methods(http.MethodGet)
	r.Handle("/v1/chains/{chain}/gasprice",
		restChain(http.HandlerFunc(controller.GasPrice))).Methods(http.MethodGet)
	return r
}

func TestAllocateNonce(t *testing.T) {
	t.Parallel()

	g := &stubGateway{
		allocate: func(address string) (int64, error) {
			require.Equal(t, "0xaddr", address)
			return 7, nil
		},
	}
	router := testRouter(t, g)

	req := httptest.NewRequest(http.MethodPost, "/v1/chains/ethereum/nonce",
		strings.NewReader(`{"address":"0xaddr"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"nonce":7}`, rec.Body.String())
}

func TestAllocateNonceRequiresAddress(t *testing.T) {
	t.Parallel()

	router := testRouter(t, &stubGateway{})

	req := httptest.NewRequest(http.MethodPost, "/v1/chains/ethereum/nonce", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAllocateNonceUnknownChain(t *testing.T) {
	t.Parallel()

	router := testRouter(t, &stubGateway{})

	req := httptest.NewRequest(http.MethodPost, "/v1/chains/solana/nonce",
		strings.NewReader(`{"address":"addr"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitTransaction(t *testing.T) {
	t.Parallel()

	g := &stubGateway{
		submit: func(address string, nonce int64, raw []byte) (string, error) {
			require.Equal(t, "0xaddr", address)
			require.Equal(t, int64(7), nonce)
			require.Equal(t, []byte{0xde, 0xad}, raw)
			return "0xtxhash", nil
		},
	}
	router := testRouter(t, g)

	req := httptest.NewRequest(http.MethodPost, "/v1/chains/ethereum/transactions",
		strings.NewReader(`{"address":"0xaddr","nonce":7,"rawTx":"0xdead"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"txHash":"0xtxhash"}`, rec.Body.String())
}

func TestSubmitTransactionRejectsBadHex(t *testing.T) {
	t.Parallel()

	router := testRouter(t, &stubGateway{})

	req := httptest.NewRequest(http.MethodPost, "/v1/chains/ethereum/transactions",
		strings.NewReader(`{"address":"0xaddr","nonce":7,"rawTx":"nothex"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetTransactionNotTracked(t *testing.T) {
	t.Parallel()

	g := &stubGateway{
		status: func(hash string) (pendingtx.PendingTx, error) {
			return pendingtx.PendingTx{}, fmt.Errorf("getting pending txn: %w", pendingtx.ErrNotFound)
		},
	}
	router := testRouter(t, g)

	req := httptest.NewRequest(http.MethodGet, "/v1/chains/ethereum/transactions/0xmissing", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetTransaction(t *testing.T) {
	t.Parallel()

	submittedAt := time.Unix(1700000000, 0).UTC()
	g := &stubGateway{
		status: func(hash string) (pendingtx.PendingTx, error) {
			require.Equal(t, "0xtxhash", hash)
			return pendingtx.PendingTx{
				Hash:        "0xtxhash",
				Address:     "0xaddr",
				Nonce:       7,
				Status:      pendingtx.StatusMempoolLikelySucceed,
				SubmittedAt: submittedAt,
			}, nil
		},
	}
	router := testRouter(t, g)

	req := httptest.NewRequest(http.MethodGet, "/v1/chains/ethereum/transactions/0xtxhash", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{
		"txHash":"0xtxhash",
		"address":"0xaddr",
		"nonce":7,
		"status":"MEMPOOL_LIKELY_SUCCEED",
		"submittedAt":1700000000
	}`, rec.Body.String())
}

func TestCancelTransactionFeeTooLow(t *testing.T) {
	t.Parallel()

	g := &stubGateway{
		status: func(hash string) (pendingtx.PendingTx, error) {
			return pendingtx.PendingTx{Hash: hash, Address: "0xaddr", Nonce: 7, Status: pendingtx.StatusPending}, nil
		},
		cancel: func(_ string, _ int64, _ *big.Int) (gateway.CancelResult, error) {
			return gateway.CancelResult{}, gateway.ErrFeeTooLow
		},
	}
	router := testRouter(t, g)

	req := httptest.NewRequest(http.MethodPost, "/v1/chains/ethereum/transactions/0xtxhash/cancel",
		strings.NewReader(`{"bumpedFee":"10"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelTransactionAlreadyConfirmed(t *testing.T) {
	t.Parallel()

	g := &stubGateway{
		status: func(hash string) (pendingtx.PendingTx, error) {
			return pendingtx.PendingTx{Hash: hash, Status: pendingtx.StatusConfirmed}, nil
		},
	}
	router := testRouter(t, g)

	req := httptest.NewRequest(http.MethodPost, "/v1/chains/ethereum/transactions/0xtxhash/cancel",
		strings.NewReader(`{"bumpedFee":"30"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"txHash":"0xtxhash","alreadyConfirmed":true}`, rec.Body.String())
}

func TestGasPrice(t *testing.T) {
	t.Parallel()

	g := &stubGateway{
		fee: func() (*big.Int, error) { return big.NewInt(42), nil },
	}
	router := testRouter(t, g)

	req := httptest.NewRequest(http.MethodGet, "/v1/chains/ethereum/gasprice", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"gasPrice":"42"}`, rec.Body.String())
}
