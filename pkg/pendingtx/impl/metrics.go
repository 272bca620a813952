package impl

import (
	"context"
	"fmt"

	"github.com/gatewaynetwork/go-txgateway/pkg/metrics"
	"github.com/gatewaynetwork/go-txgateway/pkg/pendingtx"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/global"
	"go.opentelemetry.io/otel/metric/instrument"
)

func (s *Store) initMetrics() error {
	meter := global.MeterProvider().Meter("txgateway")
	baseLabels := metrics.BaseAttrs

	mPendingCount, err := meter.Int64ObservableGauge("txgateway.pendingtx.live.count")
	if err != nil {
		return fmt.Errorf("creating live count metric: %s", err)
	}

	if _, err = meter.RegisterCallback(
		func(ctx context.Context, obs metric.Observer) error {
			var count int64
			if err := s.sqliteDB.DB.QueryRowContext(ctx,
				`SELECT count(1) FROM pending_txs WHERE status NOT IN (?1, ?2)`,
				string(pendingtx.StatusConfirmed), string(pendingtx.StatusFailed)).Scan(&count); err != nil {
				return fmt.Errorf("counting live pending txs: %s", err)
			}
			obs.ObserveInt64(mPendingCount, count, baseLabels...)
			return nil
		}, []instrument.Asynchronous{mPendingCount}...); err != nil {
		return fmt.Errorf("registering async metric callback: %s", err)
	}

	return nil
}
