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

type watcherMetrics struct {
	mBaseLabels           []attribute.KeyValue
	mReconnectFailures    instrument.Int64Counter
	mDroppedNotifications instrument.Int64Counter
}

func (w *WSWatcher) initMetrics(chain string) error {
	meter := global.MeterProvider().Meter("txgateway")
	w.mBaseLabels = append([]attribute.KeyValue{
		attribute.String("chain", chain),
	}, metrics.BaseAttrs...)

	var err error
	w.mReconnectFailures, err = meter.Int64Counter("txgateway.watcher.reconnect.failures")
	if err != nil {
		return fmt.Errorf("creating reconnect failures metric: %s", err)
	}
	w.mDroppedNotifications, err = meter.Int64Counter("txgateway.watcher.dropped.notifications")
	if err != nil {
		return fmt.Errorf("creating dropped notifications metric: %s", err)
	}

	mPendingSubs, err := meter.Int64ObservableGauge("txgateway.watcher.pending.subscriptions")
	if err != nil {
		return fmt.Errorf("creating pending subscriptions metric: %s", err)
	}

	if _, err = meter.RegisterCallback(
		func(_ context.Context, o metric.Observer) error {
			w.mu.Lock()
			defer w.mu.Unlock()
			o.ObserveInt64(mPendingSubs, int64(len(w.byLocal)+len(w.byServer)), w.mBaseLabels...)
			return nil
		}, []instrument.Asynchronous{mPendingSubs}...); err != nil {
		return fmt.Errorf("registering async metric callback: %s", err)
	}

	return nil
}
