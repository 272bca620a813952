package impl

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/gatewaynetwork/go-txgateway/internal/gateway"
	"github.com/gatewaynetwork/go-txgateway/pkg/confirmwatcher"
	"github.com/gatewaynetwork/go-txgateway/pkg/metrics"
	"github.com/gatewaynetwork/go-txgateway/pkg/pendingtx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/global"
	"go.opentelemetry.io/otel/metric/instrument"
)

// InstrumentedGateway wraps a gateway with call count and latency metrics.
type InstrumentedGateway struct {
	gateway          gateway.Gateway
	callCount        instrument.Int64Counter
	latencyHistogram instrument.Int64Histogram
}

var _ gateway.Gateway = (*InstrumentedGateway)(nil)

// NewInstrumentedGateway creates an instrumented gateway.
func NewInstrumentedGateway(g gateway.Gateway) (gateway.Gateway, error) {
	meter := global.MeterProvider().Meter("txgateway")
	callCount, err := meter.Int64Counter("txgateway.call.count")
	if err != nil {
		return nil, fmt.Errorf("creating call count metric: %s", err)
	}
	latencyHistogram, err := meter.Int64Histogram("txgateway.call.latency")
	if err != nil {
		return nil, fmt.Errorf("creating call latency metric: %s", err)
	}

	return &InstrumentedGateway{g, callCount, latencyHistogram}, nil
}

// AllocateNonce implements gateway.Gateway.
func (g *InstrumentedGateway) AllocateNonce(ctx context.Context, chain, network, address string) (int64, error) {
	start := time.Now()
	nonce, err := g.gateway.AllocateNonce(ctx, chain, network, address)
	g.record(ctx, "AllocateNonce", chain, err == nil, time.Since(start))
	return nonce, err
}

// SubmitWithNonce implements gateway.Gateway.
func (g *InstrumentedGateway) SubmitWithNonce(
	ctx context.Context,
	chain, network, address string,
	build gateway.BuildFn,
) (string, error) {
	start := time.Now()
	hash, err := g.gateway.SubmitWithNonce(ctx, chain, network, address, build)
	g.record(ctx, "SubmitWithNonce", chain, err == nil, time.Since(start))
	return hash, err
}

// SubmitSigned implements gateway.Gateway.
func (g *InstrumentedGateway) SubmitSigned(
	ctx context.Context,
	chain, network, address string,
	nonce int64,
	raw []byte,
) (string, error) {
	start := time.Now()
	hash, err := g.gateway.SubmitSigned(ctx, chain, network, address, nonce, raw)
	g.record(ctx, "SubmitSigned", chain, err == nil, time.Since(start))
	return hash, err
}

// CancelPending implements gateway.Gateway.
func (g *InstrumentedGateway) CancelPending(
	ctx context.Context,
	chain, network, address string,
	nonce int64,
	bumpedFee *big.Int,
) (gateway.CancelResult, error) {
	start := time.Now()
	res, err := g.gateway.CancelPending(ctx, chain, network, address, nonce, bumpedFee)
	g.record(ctx, "CancelPending", chain, err == nil, time.Since(start))
	return res, err
}

// GetStatus implements gateway.Gateway.
func (g *InstrumentedGateway) GetStatus(ctx context.Context, chain, network, hash string) (pendingtx.PendingTx, error) {
	start := time.Now()
	tx, err := g.gateway.GetStatus(ctx, chain, network, hash)
	g.record(ctx, "GetStatus", chain, err == nil, time.Since(start))
	return tx, err
}

// CurrentFee implements gateway.Gateway.
func (g *InstrumentedGateway) CurrentFee(ctx context.Context, chain, network string) (*big.Int, error) {
	start := time.Now()
	fee, err := g.gateway.CurrentFee(ctx, chain, network)
	g.record(ctx, "CurrentFee", chain, err == nil, time.Since(start))
	return fee, err
}

// WatchConfirmation implements gateway.Gateway.
func (g *InstrumentedGateway) WatchConfirmation(
	ctx context.Context,
	chain, network, hash string,
	timeout time.Duration,
) (confirmwatcher.Result, error) {
	start := time.Now()
	res, err := g.gateway.WatchConfirmation(ctx, chain, network, hash, timeout)
	g.record(ctx, "WatchConfirmation", chain, err == nil, time.Since(start))
	return res, err
}

func (g *InstrumentedGateway) record(ctx context.Context, method, chain string, success bool, latency time.Duration) {
	attributes := append([]attribute.KeyValue{
		attribute.String("method", method),
		attribute.String("chain", chain),
		attribute.Bool("success", success),
	}, metrics.BaseAttrs...)

	g.callCount.Add(ctx, 1, attributes...)
	g.latencyHistogram.Record(ctx, latency.Milliseconds(), attributes...)
}
