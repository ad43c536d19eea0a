package impl

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"github.com/textileio/go-tradesubmit/pkg/ledger"
)

func TestThrottledLedger(t *testing.T) {
	t.Parallel()

	inner := &countingLedger{}
	l, err := NewThrottledLedger(inner, 2, 200*time.Millisecond)
	require.NoError(t, err)
	defer func() { _ = l.Close(context.Background()) }()

	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := l.Balance(ctx, common.Address{})
		require.NoError(t, err)
	}
	require.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	require.Equal(t, 3, inner.calls())

	// Methods have independent buckets.
	start = time.Now()
	_, err = l.FeeLevels(ctx)
	require.NoError(t, err)
	require.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestThrottledLedgerContextCancelled(t *testing.T) {
	t.Parallel()

	inner := &countingLedger{}
	l, err := NewThrottledLedger(inner, 1, time.Minute)
	require.NoError(t, err)
	defer func() { _ = l.Close(context.Background()) }()

	_, err = l.TransactionCount(context.Background(), common.Address{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = l.TransactionCount(ctx, common.Address{})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 1, inner.calls())
}

type countingLedger struct {
	mu sync.Mutex
	n  int
}

func (c *countingLedger) inc() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
}

func (c *countingLedger) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func (c *countingLedger) TransactionCount(context.Context, common.Address) (uint64, error) {
	c.inc()
	return 0, nil
}

func (c *countingLedger) ConfirmedTransactionCount(context.Context, common.Address) (uint64, error) {
	c.inc()
	return 0, nil
}

func (c *countingLedger) Balance(context.Context, common.Address) (*big.Int, error) {
	c.inc()
	return big.NewInt(0), nil
}

func (c *countingLedger) FeeLevels(context.Context) (ledger.FeeLevels, error) {
	c.inc()
	return ledger.FeeLevels{}, nil
}

func (c *countingLedger) SendRaw(context.Context, []byte) (common.Hash, error) {
	c.inc()
	return common.Hash{}, nil
}

func (c *countingLedger) Receipt(context.Context, common.Hash) (ledger.Receipt, error) {
	c.inc()
	return ledger.Receipt{}, ledger.ErrNotFound
}
