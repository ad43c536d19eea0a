package metrics

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/global"
	"go.opentelemetry.io/otel/metric/instrument"
	"go.opentelemetry.io/otel/metric/unit"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/aggregation"
)

// BaseAttrs contains attributes that should be added in all exported metrics.
var BaseAttrs []attribute.KeyValue

// SetupInstrumentation installs the Prometheus backed meter provider and serves
// the metrics at addr. The returned server must be shut down by the caller.
func SetupInstrumentation(addr string, serviceName string) (*http.Server, error) {
	BaseAttrs = []attribute.KeyValue{attribute.String("service_name", serviceName)}

	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(
		otelprom.WithRegisterer(registry),
		otelprom.WithAggregationSelector(aggregatorSelector),
	)
	if err != nil {
		return nil, fmt.Errorf("creating prometheus exporter: %s", err)
	}
	global.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter)))

	if err := startCollectingRuntimeMetrics(); err != nil {
		return nil, fmt.Errorf("start collecting Go runtime metrics: %s", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Str("addr", addr).Msg("serving metrics")
		}
	}()

	return server, nil
}

func startCollectingRuntimeMetrics() error {
	meter := global.MeterProvider().Meter("runtime")

	uptime, err := meter.Int64ObservableGauge(
		"runtime.uptime",
		instrument.WithUnit(string(unit.Milliseconds)),
		instrument.WithDescription("Milliseconds since application was initialized"),
	)
	if err != nil {
		return fmt.Errorf("creating runtime uptime: %s", err)
	}
	goroutines, err := meter.Int64ObservableGauge(
		"process.runtime.go.goroutines",
		instrument.WithDescription("Number of goroutines that currently exist"),
	)
	if err != nil {
		return fmt.Errorf("creating runtime goroutines: %s", err)
	}
	heapInuse, err := meter.Int64ObservableGauge(
		"process.runtime.go.mem.heap_inuse",
		instrument.WithUnit(string(unit.Bytes)),
		instrument.WithDescription("Bytes in in-use spans"),
	)
	if err != nil {
		return fmt.Errorf("creating heap in use: %s", err)
	}
	gcCount, err := meter.Int64ObservableCounter(
		"process.runtime.go.gc.count",
		instrument.WithDescription("Number of completed garbage collection cycles"),
	)
	if err != nil {
		return fmt.Errorf("creating gc count: %s", err)
	}

	var (
		startTime    = time.Now()
		lastMemStats time.Time
		memStats     runtime.MemStats
	)
	if _, err := meter.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			if now := time.Now(); now.Sub(lastMemStats) >= 15*time.Second {
				runtime.ReadMemStats(&memStats)
				lastMemStats = now
			}
			o.ObserveInt64(uptime, time.Since(startTime).Milliseconds(), BaseAttrs...)
			o.ObserveInt64(goroutines, int64(runtime.NumGoroutine()), BaseAttrs...)
			o.ObserveInt64(heapInuse, int64(memStats.HeapInuse), BaseAttrs...)
			o.ObserveInt64(gcCount, int64(memStats.NumGC), BaseAttrs...)
			return nil
		}, []instrument.Asynchronous{
			uptime,
			goroutines,
			heapInuse,
			gcCount,
		}...); err != nil {
		return fmt.Errorf("registering callback: %s", err)
	}
	return nil
}

func aggregatorSelector(ik sdkmetric.InstrumentKind) aggregation.Aggregation {
	switch ik {
	case sdkmetric.InstrumentKindCounter, sdkmetric.InstrumentKindUpDownCounter,
		sdkmetric.InstrumentKindObservableCounter, sdkmetric.InstrumentKindObservableUpDownCounter:
		return aggregation.Sum{}
	case sdkmetric.InstrumentKindObservableGauge:
		return aggregation.LastValue{}
	case sdkmetric.InstrumentKindHistogram:
		// Ledger round trips, in milliseconds.
		return aggregation.ExplicitBucketHistogram{
			Boundaries: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}
	}
	panic("unknown instrument kind")
}
