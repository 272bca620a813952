// Package chains bundles the components running for a specific (chain, network) pair.
package chains

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gatewaynetwork/go-txgateway/pkg/chainclient"
	"github.com/gatewaynetwork/go-txgateway/pkg/confirmwatcher"
	"github.com/gatewaynetwork/go-txgateway/pkg/gasprice"
	"github.com/gatewaynetwork/go-txgateway/pkg/nonce"
	"github.com/gatewaynetwork/go-txgateway/pkg/pendingtx"
)

// ChainStack contains the components running for a specific (chain, network) pair.
type ChainStack struct {
	Chain   string
	Network string
	ChainID int64

	Client       chainclient.ChainClient
	Canceller    chainclient.CancelBuilder
	NonceManager nonce.Manager
	PendingTxs   pendingtx.Store
	GasOracle    gasprice.Oracle
	Watcher      confirmwatcher.Watcher

	// DurationLimit bounds how long a mempool wait stays inconclusive for the
	// status heuristic.
	DurationLimit time.Duration

	// Close gracefully closes all the chain stack components.
	Close func(ctx context.Context) error
}

// Registry holds one stack per (chain, network) pair, replacing the hidden
// per-class singletons of older gateways with an explicit owned object.
type Registry struct {
	mu     sync.RWMutex
	stacks map[string]*ChainStack
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{stacks: map[string]*ChainStack{}}
}

// Register adds a stack for its (chain, network) pair.
func (r *Registry) Register(stack *ChainStack) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := stackKey(stack.Chain, stack.Network)
	if _, ok := r.stacks[key]; ok {
		return fmt.Errorf("stack for %s already registered", key)
	}
	r.stacks[key] = stack
	return nil
}

// Get returns the stack for (chain, network).
func (r *Registry) Get(chain, network string) (*ChainStack, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stack, ok := r.stacks[stackKey(chain, network)]
	if !ok {
		return nil, fmt.Errorf("no stack registered for %s", stackKey(chain, network))
	}
	return stack, nil
}

// List returns every registered stack.
func (r *Registry) List() []*ChainStack {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stacks := make([]*ChainStack, 0, len(r.stacks))
	for _, stack := range r.stacks {
		stacks = append(stacks, stack)
	}
	return stacks
}

func stackKey(chain, network string) string {
	return chain + ":" + network
}
