package impl

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/textileio/go-tradesubmit/pkg/fees"
	"github.com/textileio/go-tradesubmit/pkg/ledger"
	"github.com/textileio/go-tradesubmit/pkg/txn"
)

const gwei = 1_000_000_000

func TestEstimateTiers(t *testing.T) {
	t.Parallel()

	l := &ledgerMock{levels: levels(100*gwei, 2*gwei)}
	e, err := NewEstimator(l)
	require.NoError(t, err)

	ctx := context.Background()
	slow, err := e.Estimate(ctx, txn.UrgencySlow, nil)
	require.NoError(t, err)
	normal, err := e.Estimate(ctx, txn.UrgencyNormal, nil)
	require.NoError(t, err)
	fast, err := e.Estimate(ctx, txn.UrgencyFast, nil)
	require.NoError(t, err)

	require.Equal(t, big.NewInt(90*gwei), slow.GasFeeCap)
	require.Equal(t, big.NewInt(100*gwei), normal.GasFeeCap)
	require.Equal(t, big.NewInt(150*gwei), fast.GasFeeCap)
	require.Equal(t, big.NewInt(3*gwei), fast.GasTipCap)

	_, err = e.Estimate(ctx, txn.Urgency(7), nil)
	require.ErrorIs(t, err, txn.ErrInvalidRequest)
}

func TestEstimateCustomTiers(t *testing.T) {
	t.Parallel()

	l := &ledgerMock{levels: levels(100*gwei, gwei)}
	e, err := NewEstimator(l, fees.WithTierPercents(50, 120, 200))
	require.NoError(t, err)

	bid, err := e.Estimate(context.Background(), txn.UrgencySlow, nil)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(50*gwei), bid.GasFeeCap)

	_, err = NewEstimator(l, fees.WithTierPercents(150, 100, 90))
	require.Error(t, err)
	_, err = NewEstimator(l, fees.WithBumpPercent(100))
	require.Error(t, err)
	_, err = NewEstimator(l, fees.WithMaxFeeCap(big.NewInt(0)))
	require.Error(t, err)
}

func TestRebidUnderpriced(t *testing.T) {
	t.Parallel()

	// The network median dropped below the rejected bid.
	l := &ledgerMock{levels: levels(8*gwei, gwei)}
	e, err := NewEstimator(l)
	require.NoError(t, err)

	prior := txn.FeeBid{GasFeeCap: big.NewInt(10 * gwei), GasTipCap: big.NewInt(gwei)}
	bid, err := e.Estimate(context.Background(), txn.UrgencyNormal, &prior)
	require.NoError(t, err)
	require.True(t, bid.GasFeeCap.Cmp(big.NewInt(11*gwei)) >= 0)
	require.Equal(t, 1, bid.Cmp(prior))
	require.True(t, bid.GasTipCap.Cmp(prior.GasTipCap) > 0)
}

func TestRebidFollowsFreshEstimate(t *testing.T) {
	t.Parallel()

	l := &ledgerMock{levels: levels(40*gwei, 2*gwei)}
	e, err := NewEstimator(l)
	require.NoError(t, err)

	prior := txn.FeeBid{GasFeeCap: big.NewInt(10 * gwei), GasTipCap: big.NewInt(gwei)}
	bid, err := e.Estimate(context.Background(), txn.UrgencyNormal, &prior)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(40*gwei), bid.GasFeeCap)
	require.Equal(t, big.NewInt(2*gwei), bid.GasTipCap)
}

func TestRebidStrictlyIncreasing(t *testing.T) {
	t.Parallel()

	l := &ledgerMock{levels: levels(1, 0)}
	e, err := NewEstimator(l)
	require.NoError(t, err)

	prior := txn.FeeBid{GasFeeCap: big.NewInt(1), GasTipCap: big.NewInt(0)}
	for i := 0; i < 50; i++ {
		bid, err := e.Estimate(context.Background(), txn.UrgencySlow, &prior)
		require.NoError(t, err)
		require.Equal(t, 1, bid.Cmp(prior))
		require.True(t, bid.GasTipCap.Cmp(bid.GasFeeCap) <= 0)
		prior = bid
	}
}

func TestFeeCapExceeded(t *testing.T) {
	t.Parallel()

	l := &ledgerMock{levels: levels(60*gwei, gwei)}
	e, err := NewEstimator(l, fees.WithMaxFeeCap(big.NewInt(50*gwei)))
	require.NoError(t, err)

	_, err = e.Estimate(context.Background(), txn.UrgencyNormal, nil)
	require.ErrorIs(t, err, txn.ErrFeeCapExceeded)

	// A re-bid that would cross the cap fails too.
	l.levels = levels(10*gwei, gwei)
	prior := txn.FeeBid{GasFeeCap: big.NewInt(48 * gwei), GasTipCap: big.NewInt(gwei)}
	_, err = e.Estimate(context.Background(), txn.UrgencyNormal, &prior)
	require.ErrorIs(t, err, txn.ErrFeeCapExceeded)
}

func levels(normal, tip int64) ledger.FeeLevels {
	return ledger.FeeLevels{
		Slow:   big.NewInt(normal / 2),
		Normal: big.NewInt(normal),
		Fast:   big.NewInt(normal * 2),
		Tip:    big.NewInt(tip),
	}
}

type ledgerMock struct {
	ledger.Ledger
	levels ledger.FeeLevels
}

func (l *ledgerMock) FeeLevels(context.Context) (ledger.FeeLevels, error) {
	return l.levels, nil
}
