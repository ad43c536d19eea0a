package impl

import (
	"context"
	"fmt"

	"github.com/textileio/go-tradesubmit/pkg/metrics"
	"github.com/textileio/go-tradesubmit/pkg/nonce"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/global"
	"go.opentelemetry.io/otel/metric/instrument"
)

func (a *LocalAllocator) initMetrics(chainID int64) error {
	meter := global.MeterProvider().Meter("tradesubmit")
	a.mBaseLabels = append([]attribute.KeyValue{
		attribute.Int64("chain_id", chainID),
	}, metrics.BaseAttrs...)

	mNonce, err := meter.Int64ObservableGauge("tradesubmit.nonce.next")
	if err != nil {
		return fmt.Errorf("creating nonce metric: %s", err)
	}
	mOutstanding, err := meter.Int64ObservableGauge("tradesubmit.nonce.outstanding")
	if err != nil {
		return fmt.Errorf("creating outstanding nonces metric: %s", err)
	}
	mFailed, err := meter.Int64ObservableGauge("tradesubmit.nonce.failed")
	if err != nil {
		return fmt.Errorf("creating failed nonces metric: %s", err)
	}
	a.mReconciles, err = meter.Int64Counter("tradesubmit.nonce.reconciles")
	if err != nil {
		return fmt.Errorf("creating reconciles metric: %s", err)
	}
	a.mGaps, err = meter.Int64Counter("tradesubmit.nonce.gaps")
	if err != nil {
		return fmt.Errorf("creating gaps metric: %s", err)
	}

	if _, err = meter.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			a.mu.Lock()
			defer a.mu.Unlock()
			for addr, acc := range a.accounts {
				labels := append([]attribute.KeyValue{
					attribute.String("account", addr.Hex()),
				}, a.mBaseLabels...)

				var failed int64
				for _, out := range acc.outstanding {
					if out.Status == nonce.StatusFailed {
						failed++
					}
				}
				o.ObserveInt64(mNonce, int64(acc.next), labels...)
				o.ObserveInt64(mOutstanding, int64(len(acc.outstanding)), labels...)
				o.ObserveInt64(mFailed, failed, labels...)
			}
			return nil
		}, []instrument.Asynchronous{
			mNonce,
			mOutstanding,
			mFailed,
		}...); err != nil {
		return fmt.Errorf("registering async metric callback: %s", err)
	}

	return nil
}
