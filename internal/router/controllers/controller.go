package controllers

import (
	"encoding/json"
	stderrors "errors"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gatewaynetwork/go-txgateway/internal/gateway"
	"github.com/gatewaynetwork/go-txgateway/internal/router/middlewares"
	"github.com/gatewaynetwork/go-txgateway/pkg/errors"
	"github.com/gatewaynetwork/go-txgateway/pkg/pendingtx"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

// Controller defines the HTTP handlers for the transaction lifecycle surface.
type Controller struct {
	gateway gateway.Gateway
}

// NewController creates a new Controller.
func NewController(g gateway.Gateway) *Controller {
	return &Controller{gateway: g}
}

type allocateNonceRequest struct {
	Address string `json:"address"`
}

type allocateNonceResponse struct {
	Nonce int64 `json:"nonce"`
}

// AllocateNonce handles POST /v1/chains/{chain}/nonce.
func (c *Controller) AllocateNonce(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "application/json")
	chain, network := chainPair(r)

	var req allocateNonceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Address == "" {
		rw.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(rw).Encode(errors.ServiceError{Message: "body must include an address"})
		return
	}

	nonce, err := c.gateway.AllocateNonce(r.Context(), chain, network, req.Address)
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("allocating nonce")
		rw.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(rw).Encode(errors.ServiceError{Message: "allocating nonce"})
		return
	}

	rw.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(rw).Encode(allocateNonceResponse{Nonce: nonce})
}

type submitTxRequest struct {
	Address string `json:"address"`
	Nonce   int64  `json:"nonce"`
	RawTx   string `json:"rawTx"`
}

type submitTxResponse struct {
	TxHash string `json:"txHash"`
}

// SubmitTransaction handles POST /v1/chains/{chain}/transactions. The raw
// payload must be signed for a nonce previously obtained from AllocateNonce.
func (c *Controller) SubmitTransaction(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "application/json")
	chain, network := chainPair(r)

	var req submitTxRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Address == "" || req.RawTx == "" {
		rw.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(rw).Encode(errors.ServiceError{Message: "body must include address, nonce and rawTx"})
		return
	}
	raw, err := hexutil.Decode(req.RawTx)
	if err != nil {
		rw.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(rw).Encode(errors.ServiceError{Message: "rawTx must be 0x-prefixed hex"})
		return
	}

	hash, err := c.gateway.SubmitSigned(r.Context(), chain, network, req.Address, req.Nonce, raw)
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("submitting transaction")
		rw.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(rw).Encode(errors.ServiceError{Message: "submitting transaction"})
		return
	}

	rw.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(rw).Encode(submitTxResponse{TxHash: hash})
}

type cancelTxRequest struct {
	BumpedFee string `json:"bumpedFee"`
}

type cancelTxResponse struct {
	TxHash           string `json:"txHash"`
	AlreadyConfirmed bool   `json:"alreadyConfirmed"`
}

// CancelTransaction handles POST /v1/chains/{chain}/transactions/{hash}/cancel.
func (c *Controller) CancelTransaction(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "application/json")
	chain, network := chainPair(r)
	hash := mux.Vars(r)["hash"]

	var req cancelTxRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rw.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(rw).Encode(errors.ServiceError{Message: "malformed request body"})
		return
	}
	bumpedFee, ok := new(big.Int).SetString(req.BumpedFee, 10)
	if !ok {
		rw.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(rw).Encode(errors.ServiceError{Message: "bumpedFee must be a base-10 integer"})
		return
	}

	tx, err := c.gateway.GetStatus(r.Context(), chain, network, hash)
	if err != nil {
		respondStatusError(rw, r, err)
		return
	}
	if tx.Status == pendingtx.StatusConfirmed {
		rw.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(rw).Encode(cancelTxResponse{TxHash: hash, AlreadyConfirmed: true})
		return
	}

	res, err := c.gateway.CancelPending(r.Context(), chain, network, tx.Address, tx.Nonce, bumpedFee)
	if stderrors.Is(err, gateway.ErrFeeTooLow) {
		rw.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(rw).Encode(errors.ServiceError{Message: "bumpedFee must exceed the original fee"})
		return
	}
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Str("hash", hash).Msg("cancelling transaction")
		rw.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(rw).Encode(errors.ServiceError{Message: "cancelling transaction"})
		return
	}

	rw.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(rw).Encode(cancelTxResponse{TxHash: res.TxHash, AlreadyConfirmed: res.AlreadyConfirmed})
}

type transactionResponse struct {
	TxHash      string `json:"txHash"`
	Address     string `json:"address"`
	Nonce       int64  `json:"nonce"`
	Status      string `json:"status"`
	SubmittedAt int64  `json:"submittedAt"`
}

// GetTransaction handles GET /v1/chains/{chain}/transactions/{hash}. With a
// watch query parameter it first waits up to that long for a live confirmation
// notification, falling back to polling when the watcher is down.
func (c *Controller) GetTransaction(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "application/json")
	chain, network := chainPair(r)
	hash := mux.Vars(r)["hash"]

	if watch := r.URL.Query().Get("watch"); watch != "" {
		timeout, err := time.ParseDuration(watch)
		if err != nil {
			rw.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(rw).Encode(errors.ServiceError{Message: "watch must be a duration"})
			return
		}
		if _, err := c.gateway.WatchConfirmation(r.Context(), chain, network, hash, timeout); err != nil {
			log.Ctx(r.Context()).Debug().Err(err).Msg("watch unavailable, polling status")
		}
	}

	tx, err := c.gateway.GetStatus(r.Context(), chain, network, hash)
	if err != nil {
		respondStatusError(rw, r, err)
		return
	}

	rw.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(rw).Encode(transactionResponse{
		TxHash:      tx.Hash,
		Address:     tx.Address,
		Nonce:       tx.Nonce,
		Status:      string(tx.Status),
		SubmittedAt: tx.SubmittedAt.Unix(),
	})
}

type gasPriceResponse struct {
	GasPrice string `json:"gasPrice"`
}

// GasPrice handles GET /v1/chains/{chain}/gasprice.
func (c *Controller) GasPrice(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "application/json")
	chain, network := chainPair(r)

	fee, err := c.gateway.CurrentFee(r.Context(), chain, network)
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("getting gas price")
		rw.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(rw).Encode(errors.ServiceError{Message: "gas price unavailable"})
		return
	}

	rw.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(rw).Encode(gasPriceResponse{GasPrice: fee.String()})
}

func respondStatusError(rw http.ResponseWriter, r *http.Request, err error) {
	if stderrors.Is(err, pendingtx.ErrNotFound) {
		rw.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(rw).Encode(errors.ServiceError{Message: "transaction not tracked"})
		return
	}
	log.Ctx(r.Context()).Error().Err(err).Msg("getting transaction status")
	rw.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(rw).Encode(errors.ServiceError{Message: "getting transaction status"})
}

func chainPair(r *http.Request) (string, string) {
	chain, _ := r.Context().Value(middlewares.ContextKeyChain).(string)
	network, _ := r.Context().Value(middlewares.ContextKeyNetwork).(string)
	if network == "" {
		network = middlewares.DefaultNetwork
	}
	return chain, network
}
