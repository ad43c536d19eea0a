package impl

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/textileio/go-tradesubmit/pkg/ledger"
	"github.com/textileio/go-tradesubmit/pkg/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/global"
	"go.opentelemetry.io/otel/metric/instrument"
)

// InstrumentedLedger implements an instrumented Ledger.
type InstrumentedLedger struct {
	ledger           ledger.Ledger
	chainID          int64
	callCount        instrument.Int64Counter
	latencyHistogram instrument.Int64Histogram
}

var _ ledger.Ledger = (*InstrumentedLedger)(nil)

// NewInstrumentedLedger creates a new InstrumentedLedger.
func NewInstrumentedLedger(l ledger.Ledger, chainID int64) (*InstrumentedLedger, error) {
	meter := global.MeterProvider().Meter("tradesubmit")
	callCount, err := meter.Int64Counter("tradesubmit.ledger.call.count")
	if err != nil {
		return nil, fmt.Errorf("registering call counter: %s", err)
	}
	latencyHistogram, err := meter.Int64Histogram("tradesubmit.ledger.call.latency")
	if err != nil {
		return nil, fmt.Errorf("registering latency histogram: %s", err)
	}

	return &InstrumentedLedger{
		ledger:           l,
		chainID:          chainID,
		callCount:        callCount,
		latencyHistogram: latencyHistogram,
	}, nil
}

// TransactionCount implements ledger.Ledger.
func (l *InstrumentedLedger) TransactionCount(ctx context.Context, addr common.Address) (uint64, error) {
	start := time.Now()
	nonce, err := l.ledger.TransactionCount(ctx, addr)
	l.record(ctx, "TransactionCount", start, err)
	return nonce, err
}

// ConfirmedTransactionCount implements ledger.Ledger.
func (l *InstrumentedLedger) ConfirmedTransactionCount(ctx context.Context, addr common.Address) (uint64, error) {
	start := time.Now()
	nonce, err := l.ledger.ConfirmedTransactionCount(ctx, addr)
	l.record(ctx, "ConfirmedTransactionCount", start, err)
	return nonce, err
}

// Balance implements ledger.Ledger.
func (l *InstrumentedLedger) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	start := time.Now()
	balance, err := l.ledger.Balance(ctx, addr)
	l.record(ctx, "Balance", start, err)
	return balance, err
}

// FeeLevels implements ledger.Ledger.
func (l *InstrumentedLedger) FeeLevels(ctx context.Context) (ledger.FeeLevels, error) {
	start := time.Now()
	levels, err := l.ledger.FeeLevels(ctx)
	l.record(ctx, "FeeLevels", start, err)
	return levels, err
}

// SendRaw implements ledger.Ledger.
func (l *InstrumentedLedger) SendRaw(ctx context.Context, signed []byte) (common.Hash, error) {
	start := time.Now()
	hash, err := l.ledger.SendRaw(ctx, signed)
	l.record(ctx, "SendRaw", start, err)
	return hash, err
}

// Receipt implements ledger.Ledger. A missing transaction is not counted as a failed call.
func (l *InstrumentedLedger) Receipt(ctx context.Context, hash common.Hash) (ledger.Receipt, error) {
	start := time.Now()
	receipt, err := l.ledger.Receipt(ctx, hash)
	if errors.Is(err, ledger.ErrNotFound) {
		l.record(ctx, "Receipt", start, nil)
	} else {
		l.record(ctx, "Receipt", start, err)
	}
	return receipt, err
}

func (l *InstrumentedLedger) record(ctx context.Context, method string, start time.Time, err error) {
	latency := time.Since(start).Milliseconds()

	attributes := append([]attribute.KeyValue{
		{Key: "method", Value: attribute.StringValue(method)},
		{Key: "success", Value: attribute.BoolValue(err == nil)},
		{Key: "chain_id", Value: attribute.Int64Value(l.chainID)},
	}, metrics.BaseAttrs...)

	l.callCount.Add(ctx, 1, attributes...)
	l.latencyHistogram.Record(ctx, latency, attributes...)
}
