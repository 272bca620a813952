package impl

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/gatewaynetwork/go-txgateway/pkg/chainclient"
	"github.com/gatewaynetwork/go-txgateway/pkg/gasprice"
	"github.com/rs/zerolog"
	logger "github.com/rs/zerolog/log"
)

// CachedOracle caches the network fee level for one (chain, network) pair.
type CachedOracle struct {
	log         zerolog.Logger
	chainClient chainclient.ChainClient
	config      gasprice.Config

	mu        sync.Mutex
	value     *big.Int
	fetchedAt time.Time

	quit     chan struct{}
	isClosed bool

	oracleMetrics
}

var _ gasprice.Oracle = (*CachedOracle)(nil)

// NewCachedOracle creates a new oracle. If the config sets a refresh interval,
// a background loop keeps the cache warm until Close is called.
func NewCachedOracle(chain, network string, chainClient chainclient.ChainClient, config gasprice.Config) *CachedOracle {
	log := logger.With().
		Str("component", "gasoracle").
		Str("chain", chain).
		Str("network", network).
		Logger()

	o := &CachedOracle{
		log:         log,
		chainClient: chainClient,
		config:      config,
	}
	if err := o.initMetrics(chain, network); err != nil {
		log.Error().Err(err).Msg("initializing metrics instruments")
	}

	if config.RefreshInterval > 0 {
		o.quit = make(chan struct{})
		ticker := time.NewTicker(config.RefreshInterval)
		go func() {
			for {
				select {
				case <-ticker.C:
					if _, err := o.Refresh(context.Background()); err != nil {
						o.log.Error().Err(err).Msg("background gas price refresh")
					}
				case <-o.quit:
					ticker.Stop()
					return
				}
			}
		}()
	}

	return o
}

// Close stops the background refresh loop.
func (o *CachedOracle) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.isClosed || o.quit == nil {
		return
	}
	close(o.quit)
	o.isClosed = true
}

// Current returns the cached fee if fresh, fetching otherwise.
func (o *CachedOracle) Current(ctx context.Context) (*big.Int, error) {
	o.mu.Lock()
	if o.value != nil && time.Since(o.fetchedAt) < o.config.TTL {
		value := new(big.Int).Set(o.value)
		o.mu.Unlock()
		return value, nil
	}
	o.mu.Unlock()

	return o.Refresh(ctx)
}

// Refresh forces a fetch, falling back to the last cached value on failure.
func (o *CachedOracle) Refresh(ctx context.Context) (*big.Int, error) {
	fees, err := o.chainClient.FeeEstimate(ctx)

	o.mu.Lock()
	defer o.mu.Unlock()

	if err != nil {
		if o.value == nil {
			return nil, fmt.Errorf("fetching fee estimate: %w", gasprice.ErrNoPrice)
		}
		// Estimation must stay resilient for the rest of the gateway; serve the
		// stale value and make the fallback attributable in the logs.
		o.log.Warn().
			Err(err).
			Bool("stale", true).
			Time("fetchedAt", o.fetchedAt).
			Msg("fee fetch failed, serving last cached value")
		if o.mStaleServes != nil {
			o.mStaleServes.Add(ctx, 1, o.mBaseLabels...)
		}
		return new(big.Int).Set(o.value), nil
	}

	value := o.adjust(fees.Total())
	o.value = value
	o.fetchedAt = time.Now()

	return new(big.Int).Set(value), nil
}

// adjust applies the configured multiplier and floor to a fetched fee.
func (o *CachedOracle) adjust(fee *big.Int) *big.Int {
	adjusted := new(big.Int).Set(fee)
	if o.config.AdjustmentPercent > 0 && o.config.AdjustmentPercent != 100 {
		adjusted.Mul(adjusted, big.NewInt(o.config.AdjustmentPercent))
		adjusted.Div(adjusted, big.NewInt(100))
	}
	if o.config.MinGasPrice != nil && adjusted.Cmp(o.config.MinGasPrice) < 0 {
		adjusted.Set(o.config.MinGasPrice)
	}
	return adjusted
}
