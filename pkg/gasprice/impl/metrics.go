package impl

import (
	"context"
	"fmt"
	"time"

	"github.com/gatewaynetwork/go-txgateway/pkg/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/global"
	"go.opentelemetry.io/otel/metric/instrument"
)

type oracleMetrics struct {
	mBaseLabels  []attribute.KeyValue
	mStaleServes instrument.Int64Counter
}

func (o *CachedOracle) initMetrics(chain, network string) error {
	meter := global.MeterProvider().Meter("txgateway")
	o.mBaseLabels = append([]attribute.KeyValue{
		attribute.String("chain", chain),
		attribute.String("network", network),
	}, metrics.BaseAttrs...)

	var err error
	o.mStaleServes, err = meter.Int64Counter("txgateway.gasprice.stale.serves")
	if err != nil {
		return fmt.Errorf("creating stale serves metric: %s", err)
	}

	mCacheAge, err := meter.Int64ObservableGauge("txgateway.gasprice.cache.age.seconds")
	if err != nil {
		return fmt.Errorf("creating cache age metric: %s", err)
	}

	if _, err = meter.RegisterCallback(
		func(_ context.Context, obs metric.Observer) error {
			o.mu.Lock()
			defer o.mu.Unlock()
			if o.value == nil {
				return nil
			}
			obs.ObserveInt64(mCacheAge, int64(time.Since(o.fetchedAt).Seconds()), o.mBaseLabels...)
			return nil
		}, []instrument.Asynchronous{mCacheAge}...); err != nil {
		return fmt.Errorf("registering async metric callback: %s", err)
	}

	return nil
}
