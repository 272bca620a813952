package gasprice

import (
	"context"
	"errors"
	"math/big"
	"time"
)

// ErrNoPrice indicates that no fee level was ever fetched successfully.
// Only the very first read can fail this way; afterwards stale values are served.
var ErrNoPrice = errors.New("no gas price available yet")

// Config tunes an oracle for one (chain, network) pair.
type Config struct {
	// TTL is how long a fetched value stays fresh for reads.
	TTL time.Duration
	// RefreshInterval, when positive, proactively refreshes in the background
	// so reads are typically cache hits.
	RefreshInterval time.Duration
	// MinGasPrice floors the reported fee on networks known to under-report.
	MinGasPrice *big.Int
	// AdjustmentPercent scales the fetched fee (100 means unchanged).
	AdjustmentPercent int64
}

// DefaultConfig returns the default oracle configuration.
func DefaultConfig() Config {
	return Config{
		TTL:               15 * time.Second,
		AdjustmentPercent: 100,
	}
}

// Oracle estimates and caches the current network fee level.
type Oracle interface {
	// Current returns the cached fee if fresh, fetching otherwise.
	Current(ctx context.Context) (*big.Int, error)

	// Refresh forces a fetch. On failure the last cached value is returned,
	// never an error, except before the first successful fetch.
	Refresh(ctx context.Context) (*big.Int, error)
}
