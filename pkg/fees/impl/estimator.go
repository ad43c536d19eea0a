package impl

import (
	"context"
	"fmt"
	"math/big"

	"github.com/rs/zerolog"
	logger "github.com/rs/zerolog/log"
	"github.com/textileio/go-tradesubmit/pkg/fees"
	"github.com/textileio/go-tradesubmit/pkg/ledger"
	"github.com/textileio/go-tradesubmit/pkg/metrics"
	"github.com/textileio/go-tradesubmit/pkg/txn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/global"
	"go.opentelemetry.io/otel/metric/instrument"
)

// Estimator bids a multiple of the median fee observed by the ledger.
type Estimator struct {
	log    zerolog.Logger
	ledger ledger.Ledger
	config *fees.Config

	mBids instrument.Int64Counter
}

var _ fees.Estimator = (*Estimator)(nil)

// NewEstimator returns a new Estimator.
func NewEstimator(l ledger.Ledger, opts ...fees.Option) (*Estimator, error) {
	config := fees.DefaultConfig()
	for _, o := range opts {
		if err := o(config); err != nil {
			return nil, fmt.Errorf("applying option: %s", err)
		}
	}

	meter := global.MeterProvider().Meter("tradesubmit")
	mBids, err := meter.Int64Counter("tradesubmit.fees.bids")
	if err != nil {
		return nil, fmt.Errorf("creating bids counter: %s", err)
	}

	return &Estimator{
		log:    logger.With().Str("component", "fees").Logger(),
		ledger: l,
		config: config,
		mBids:  mBids,
	}, nil
}

// Estimate implements fees.Estimator.
func (e *Estimator) Estimate(ctx context.Context, urgency txn.Urgency, prior *txn.FeeBid) (txn.FeeBid, error) {
	percent, err := e.config.Percent(urgency)
	if err != nil {
		return txn.FeeBid{}, err
	}
	levels, err := e.ledger.FeeLevels(ctx)
	if err != nil {
		return txn.FeeBid{}, fmt.Errorf("get fee levels: %w", err)
	}
	if levels.Normal == nil || levels.Normal.Sign() <= 0 {
		return txn.FeeBid{}, fmt.Errorf("ledger reported no median fee")
	}

	bid := txn.FeeBid{
		GasFeeCap: scale(levels.Normal, percent),
		GasTipCap: new(big.Int),
	}
	if levels.Tip != nil {
		bid.GasTipCap = scale(levels.Tip, percent)
	}

	rebid := prior != nil && prior.GasFeeCap != nil
	if rebid {
		bid = e.rebid(*prior, bid)
	}
	if bid.GasTipCap.Cmp(bid.GasFeeCap) > 0 {
		bid.GasTipCap = new(big.Int).Set(bid.GasFeeCap)
	}

	attrs := append([]attribute.KeyValue{
		attribute.String("urgency", urgency.String()),
		attribute.Bool("rebid", rebid),
		attribute.Bool("capped", bid.GasFeeCap.Cmp(e.config.MaxFeeCap) > 0),
	}, metrics.BaseAttrs...)
	e.mBids.Add(ctx, 1, attrs...)

	if bid.GasFeeCap.Cmp(e.config.MaxFeeCap) > 0 {
		e.log.Warn().
			Str("urgency", urgency.String()).
			Str("required", bid.GasFeeCap.String()).
			Str("max", e.config.MaxFeeCap.String()).
			Msg("fee bid above cap")
		return txn.FeeBid{}, fmt.Errorf("bid %s above cap %s: %w", bid.GasFeeCap, e.config.MaxFeeCap, txn.ErrFeeCapExceeded)
	}

	e.log.Debug().
		Str("urgency", urgency.String()).
		Bool("rebid", rebid).
		Str("fee_cap", bid.GasFeeCap.String()).
		Str("tip_cap", bid.GasTipCap.String()).
		Msg("fee bid estimated")

	return bid, nil
}

// rebid returns max(prior * bump, fresh) for both fee fields, always strictly above prior.
func (e *Estimator) rebid(prior txn.FeeBid, fresh txn.FeeBid) txn.FeeBid {
	feeCap := bump(prior.GasFeeCap, e.config.BumpPercent)
	if fresh.GasFeeCap.Cmp(feeCap) > 0 {
		feeCap = fresh.GasFeeCap
	}

	tip := fresh.GasTipCap
	if prior.GasTipCap != nil {
		if bumped := bump(prior.GasTipCap, e.config.BumpPercent); bumped.Cmp(tip) > 0 {
			tip = bumped
		}
	}

	return txn.FeeBid{
		GasFeeCap: new(big.Int).Set(feeCap),
		GasTipCap: new(big.Int).Set(tip),
	}
}

// bump returns ceil(v * percent / 100), at least v + 1.
func bump(v *big.Int, percent int64) *big.Int {
	n := new(big.Int).Mul(v, big.NewInt(percent))
	n.Add(n, big.NewInt(99))
	n.Div(n, big.NewInt(100))
	if n.Cmp(v) <= 0 {
		n = new(big.Int).Add(v, big.NewInt(1))
	}
	return n
}

func scale(v *big.Int, percent int64) *big.Int {
	n := new(big.Int).Mul(v, big.NewInt(percent))
	return n.Div(n, big.NewInt(100))
}
