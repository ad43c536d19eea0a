package impl

import (
	"context"
	"fmt"

	"github.com/textileio/go-tradesubmit/pkg/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/global"
	"go.opentelemetry.io/otel/metric/instrument"
)

func (p *Pipeline) initMetrics(chainID int64) error {
	meter := global.MeterProvider().Meter("tradesubmit")
	p.mBaseLabels = append([]attribute.KeyValue{
		attribute.Int64("chain_id", chainID),
	}, metrics.BaseAttrs...)

	var err error
	p.mRecords, err = meter.Int64Counter("tradesubmit.pipeline.records")
	if err != nil {
		return fmt.Errorf("creating records metric: %s", err)
	}
	p.mGasBumps, err = meter.Int64Counter("tradesubmit.pipeline.gas.bumps")
	if err != nil {
		return fmt.Errorf("creating gas bumps metric: %s", err)
	}
	p.mRetries, err = meter.Int64Counter("tradesubmit.pipeline.broadcast.retries")
	if err != nil {
		return fmt.Errorf("creating broadcast retries metric: %s", err)
	}
	p.mResyncs, err = meter.Int64Counter("tradesubmit.pipeline.nonce.resyncs")
	if err != nil {
		return fmt.Errorf("creating nonce resyncs metric: %s", err)
	}

	mInFlight, err := meter.Int64ObservableGauge("tradesubmit.pipeline.inflight")
	if err != nil {
		return fmt.Errorf("creating in-flight metric: %s", err)
	}
	mTracked, err := meter.Int64ObservableGauge("tradesubmit.pipeline.tracked")
	if err != nil {
		return fmt.Errorf("creating tracked records metric: %s", err)
	}
	mSubscribers, err := meter.Int64ObservableGauge("tradesubmit.pipeline.subscribers")
	if err != nil {
		return fmt.Errorf("creating subscribers metric: %s", err)
	}
	if _, err = meter.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			p.mu.Lock()
			tracked := len(p.entries)
			p.mu.Unlock()
			o.ObserveInt64(mInFlight, p.InFlight(), p.mBaseLabels...)
			o.ObserveInt64(mTracked, int64(tracked), p.mBaseLabels...)
			o.ObserveInt64(mSubscribers, p.Subscribers(), p.mBaseLabels...)
			return nil
		}, []instrument.Asynchronous{
			mInFlight,
			mTracked,
			mSubscribers,
		}...); err != nil {
		return fmt.Errorf("registering async metric callback: %s", err)
	}

	return nil
}
