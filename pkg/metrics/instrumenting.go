package metrics

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/global"
	"go.opentelemetry.io/otel/metric/instrument"
	"go.opentelemetry.io/otel/metric/unit"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// BaseAttrs contains attributes that should be added in all exported metrics.
var BaseAttrs []attribute.KeyValue

// SetupInstrumentation starts a metric endpoint.
func SetupInstrumentation(prometheusAddr string, serviceName string) error {
	BaseAttrs = []attribute.KeyValue{attribute.String("service_name", serviceName)}

	exporter, err := otelprom.New()
	if err != nil {
		return fmt.Errorf("creating prometheus exporter: %s", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	global.SetMeterProvider(provider)

	http.Handle("/metrics", promhttp.Handler())
	go func() {
		_ = http.ListenAndServe(prometheusAddr, nil)
	}()

	if err := startCollectingRuntimeMetrics(); err != nil {
		return fmt.Errorf("start collecting Go runtime metrics: %s", err)
	}

	return nil
}

func startCollectingRuntimeMetrics() error {
	meter := global.MeterProvider().Meter("runtime")

	uptime, err := meter.Int64ObservableGauge(
		"runtime.uptime",
		instrument.WithUnit(string(unit.Milliseconds)),
		instrument.WithDescription("Milliseconds since application was initialized"),
	)
	if err != nil {
		return fmt.Errorf("creating uptime metric: %s", err)
	}

	goroutines, err := meter.Int64ObservableGauge(
		"process.runtime.go.goroutines",
		instrument.WithDescription("Number of goroutines that currently exist"),
	)
	if err != nil {
		return fmt.Errorf("creating goroutines metric: %s", err)
	}

	startTime := time.Now()
	if _, err := meter.RegisterCallback(
		func(_ context.Context, o metric.Observer) error {
			o.ObserveInt64(uptime, time.Since(startTime).Milliseconds(), BaseAttrs...)
			o.ObserveInt64(goroutines, int64(runtime.NumGoroutine()), BaseAttrs...)
			return nil
		}, []instrument.Asynchronous{uptime, goroutines}...); err != nil {
		return fmt.Errorf("registering async metric callback: %s", err)
	}

	return nil
}
