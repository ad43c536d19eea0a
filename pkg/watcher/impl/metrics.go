package impl

import (
	"context"
	"fmt"

	"github.com/textileio/go-tradesubmit/pkg/metrics"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/global"
	"go.opentelemetry.io/otel/metric/instrument"
)

func (w *PollingWatcher) initMetrics() error {
	meter := global.MeterProvider().Meter("tradesubmit")
	w.mBaseLabels = metrics.BaseAttrs

	mActive, err := meter.Int64ObservableGauge("tradesubmit.watcher.active")
	if err != nil {
		return fmt.Errorf("creating active watches metric: %s", err)
	}
	mPolls, err := meter.Int64ObservableCounter("tradesubmit.watcher.polls")
	if err != nil {
		return fmt.Errorf("creating polls metric: %s", err)
	}
	mPollErrors, err := meter.Int64ObservableCounter("tradesubmit.watcher.poll.errors")
	if err != nil {
		return fmt.Errorf("creating poll errors metric: %s", err)
	}
	w.mResults, err = meter.Int64Counter("tradesubmit.watcher.results")
	if err != nil {
		return fmt.Errorf("creating results metric: %s", err)
	}

	if _, err = meter.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(mActive, w.active.Load(), w.mBaseLabels...)
			o.ObserveInt64(mPolls, w.polls.Load(), w.mBaseLabels...)
			o.ObserveInt64(mPollErrors, w.pollErrors.Load(), w.mBaseLabels...)
			return nil
		}, []instrument.Asynchronous{
			mActive,
			mPolls,
			mPollErrors,
		}...); err != nil {
		return fmt.Errorf("registering async metric callback: %s", err)
	}

	return nil
}
