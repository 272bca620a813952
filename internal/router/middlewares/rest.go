package middlewares

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gatewaynetwork/go-txgateway/internal/chains"
	"github.com/gatewaynetwork/go-txgateway/pkg/errors"
	"github.com/gorilla/mux"
)

// DefaultNetwork is used when a request doesn't pin the network explicitly.
const DefaultNetwork = "mainnet"

// RESTChain adds to the request context the {chain} that must be present in the
// REST path, plus the network from the optional query parameter, rejecting
// pairs with no registered stack.
func RESTChain(registry *chains.Registry) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			chain := mux.Vars(r)["chain"]
			if chain == "" {
				w.WriteHeader(http.StatusBadRequest)
				_ = json.NewEncoder(w).Encode(errors.ServiceError{Message: "no chain in path"})
				return
			}
			network := r.URL.Query().Get("network")
			if network == "" {
				network = DefaultNetwork
			}
			if _, err := registry.Get(chain, network); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				_ = json.NewEncoder(w).Encode(errors.ServiceError{Message: "unsupported chain or network"})
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyChain, chain)
			ctx = context.WithValue(ctx, ContextKeyNetwork, network)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
