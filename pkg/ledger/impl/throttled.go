package impl

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sethvargo/go-limiter"
	"github.com/sethvargo/go-limiter/memorystore"
	"github.com/textileio/go-tradesubmit/pkg/ledger"
)

// ThrottledLedger limits the rate of calls made to the underlying ledger.
// Calls wait for a token instead of failing.
type ThrottledLedger struct {
	ledger ledger.Ledger
	store  limiter.Store
}

var _ ledger.Ledger = (*ThrottledLedger)(nil)

// NewThrottledLedger returns a ledger that allows at most maxCalls per interval for each method.
func NewThrottledLedger(l ledger.Ledger, maxCalls uint64, interval time.Duration) (*ThrottledLedger, error) {
	store, err := memorystore.New(&memorystore.Config{
		Tokens:   maxCalls,
		Interval: interval,
	})
	if err != nil {
		return nil, fmt.Errorf("creating memory store: %s", err)
	}
	return &ThrottledLedger{ledger: l, store: store}, nil
}

// TransactionCount implements ledger.Ledger.
func (t *ThrottledLedger) TransactionCount(ctx context.Context, addr common.Address) (uint64, error) {
	if err := t.wait(ctx, "TransactionCount"); err != nil {
		return 0, err
	}
	return t.ledger.TransactionCount(ctx, addr)
}

// ConfirmedTransactionCount implements ledger.Ledger.
func (t *ThrottledLedger) ConfirmedTransactionCount(ctx context.Context, addr common.Address) (uint64, error) {
	if err := t.wait(ctx, "ConfirmedTransactionCount"); err != nil {
		return 0, err
	}
	return t.ledger.ConfirmedTransactionCount(ctx, addr)
}

// Balance implements ledger.Ledger.
func (t *ThrottledLedger) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	if err := t.wait(ctx, "Balance"); err != nil {
		return nil, err
	}
	return t.ledger.Balance(ctx, addr)
}

// FeeLevels implements ledger.Ledger.
func (t *ThrottledLedger) FeeLevels(ctx context.Context) (ledger.FeeLevels, error) {
	if err := t.wait(ctx, "FeeLevels"); err != nil {
		return ledger.FeeLevels{}, err
	}
	return t.ledger.FeeLevels(ctx)
}

// SendRaw implements ledger.Ledger.
func (t *ThrottledLedger) SendRaw(ctx context.Context, signed []byte) (common.Hash, error) {
	if err := t.wait(ctx, "SendRaw"); err != nil {
		return common.Hash{}, err
	}
	return t.ledger.SendRaw(ctx, signed)
}

// Receipt implements ledger.Ledger.
func (t *ThrottledLedger) Receipt(ctx context.Context, hash common.Hash) (ledger.Receipt, error) {
	if err := t.wait(ctx, "Receipt"); err != nil {
		return ledger.Receipt{}, err
	}
	return t.ledger.Receipt(ctx, hash)
}

// Close releases the limiter store.
func (t *ThrottledLedger) Close(ctx context.Context) error {
	return t.store.Close(ctx)
}

func (t *ThrottledLedger) wait(ctx context.Context, method string) error {
	for {
		_, _, reset, ok, err := t.store.Take(ctx, method)
		if err != nil {
			return fmt.Errorf("taking rate limit token: %s", err)
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Until(time.Unix(0, int64(reset)))):
		}
	}
}
