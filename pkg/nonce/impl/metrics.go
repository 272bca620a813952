package impl

import (
	"context"
	"fmt"

	"github.com/gatewaynetwork/go-txgateway/pkg/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/global"
	"go.opentelemetry.io/otel/metric/instrument"
)

type managerMetrics struct {
	mBaseLabels  []attribute.KeyValue
	mAllocations instrument.Int64Counter
	mConflicts   instrument.Int64Counter
}

func (m *LocalManager) initMetrics(chain string) error {
	meter := global.MeterProvider().Meter("txgateway")
	m.mBaseLabels = append([]attribute.KeyValue{
		attribute.String("chain", chain),
	}, metrics.BaseAttrs...)

	var err error
	m.mAllocations, err = meter.Int64Counter("txgateway.nonce.allocations")
	if err != nil {
		return fmt.Errorf("creating allocations metric: %s", err)
	}
	m.mConflicts, err = meter.Int64Counter("txgateway.nonce.conflicts")
	if err != nil {
		return fmt.Errorf("creating conflicts metric: %s", err)
	}

	mTrackedAddresses, err := meter.Int64ObservableGauge("txgateway.nonce.tracked.addresses")
	if err != nil {
		return fmt.Errorf("creating tracked addresses metric: %s", err)
	}

	if _, err = meter.RegisterCallback(
		func(_ context.Context, o metric.Observer) error {
			m.mu.Lock()
			defer m.mu.Unlock()
			o.ObserveInt64(mTrackedAddresses, int64(len(m.records)), m.mBaseLabels...)
			return nil
		}, []instrument.Asynchronous{mTrackedAddresses}...); err != nil {
		return fmt.Errorf("registering async metric callback: %s", err)
	}

	return nil
}
