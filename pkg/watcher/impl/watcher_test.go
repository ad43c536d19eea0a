package impl

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"github.com/textileio/go-tradesubmit/pkg/ledger"
	"github.com/textileio/go-tradesubmit/pkg/txn"
	"github.com/textileio/go-tradesubmit/pkg/watcher"
)

var (
	account = common.HexToAddress("0xb451cee4A42A652Fe77d373BAe66D42fd6B8D8FF")
	hash    = common.HexToHash("0x1234")
)

func TestWatchConfirmedAtDepth(t *testing.T) {
	t.Parallel()

	l := newLedgerMock()
	l.setReceipt(hash, ledger.Receipt{Included: true, BlockNumber: 10, Depth: 1})
	w := newWatcher(t, l, 50*time.Millisecond)

	ch := w.Watch(context.Background(), watcher.Request{
		Account:       account,
		Nonce:         3,
		Hash:          hash,
		RequiredDepth: 3,
		Deadline:      time.Now().Add(time.Hour),
	})

	time.Sleep(50 * time.Millisecond)
	select {
	case <-ch:
		t.Fatal("resolved before reaching the required depth")
	default:
	}

	l.setReceipt(hash, ledger.Receipt{Included: true, BlockNumber: 10, Depth: 3})
	res := receive(t, ch)
	require.Equal(t, txn.StateConfirmed, res.State)
	require.Equal(t, uint64(10), res.BlockNumber)
	require.Equal(t, hash, res.Hash)
}

func TestWatchReverted(t *testing.T) {
	t.Parallel()

	l := newLedgerMock()
	l.setReceipt(hash, ledger.Receipt{Included: true, BlockNumber: 7, Depth: 1, Reverted: true})
	w := newWatcher(t, l, 50*time.Millisecond)

	res := receive(t, w.Watch(context.Background(), watcher.Request{Account: account, Hash: hash}))
	require.Equal(t, txn.StateFailed, res.State)
	require.Equal(t, txn.ReasonReverted, res.Reason)
}

func TestWatchReplaced(t *testing.T) {
	t.Parallel()

	l := newLedgerMock()
	l.setReceipt(hash, ledger.Receipt{Included: false})
	w := newWatcher(t, l, 50*time.Millisecond)

	ch := w.Watch(context.Background(), watcher.Request{
		Account:  account,
		Nonce:    3,
		Hash:     hash,
		Deadline: time.Now().Add(time.Hour),
	})

	// a replacement for nonce 3 got mined, the original hash is gone
	l.setConfirmed(4)
	l.evict(hash)

	res := receive(t, ch)
	require.Equal(t, txn.StateReplaced, res.State)
	require.Equal(t, txn.ReasonReplaced, res.Reason)
}

func TestWatchDroppedNotBeforeDeadline(t *testing.T) {
	t.Parallel()

	l := newLedgerMock()
	l.setReceipt(hash, ledger.Receipt{Included: false})
	grace := 100 * time.Millisecond
	w := newWatcher(t, l, grace)

	deadline := time.Now().Add(300 * time.Millisecond)
	ch := w.Watch(context.Background(), watcher.Request{
		Account:  account,
		Nonce:    3,
		Hash:     hash,
		Deadline: deadline,
	})

	// evicted after the deadline elapsed
	time.Sleep(time.Until(deadline.Add(25 * time.Millisecond)))
	evictedAt := time.Now()
	l.evict(hash)

	res := receive(t, ch)
	require.Equal(t, txn.StateDropped, res.State)
	require.Equal(t, txn.ReasonDropped, res.Reason)
	require.False(t, res.ResolvedAt.Before(deadline))
	require.GreaterOrEqual(t, res.ResolvedAt.Sub(evictedAt), grace)
}

func TestWatchEarlyEvictionWaitsForDeadline(t *testing.T) {
	t.Parallel()

	l := newLedgerMock()
	w := newWatcher(t, l, 10*time.Millisecond)

	deadline := time.Now().Add(300 * time.Millisecond)
	res := receive(t, w.Watch(context.Background(), watcher.Request{
		Account:  account,
		Nonce:    3,
		Hash:     hash,
		Deadline: deadline,
	}))
	require.Equal(t, txn.StateDropped, res.State)
	require.False(t, res.ResolvedAt.Before(deadline))
}

func TestWatchTimeout(t *testing.T) {
	t.Parallel()

	l := newLedgerMock()
	l.setReceipt(hash, ledger.Receipt{Included: false})
	grace := 50 * time.Millisecond
	w := newWatcher(t, l, grace)

	deadline := time.Now().Add(200 * time.Millisecond)
	res := receive(t, w.Watch(context.Background(), watcher.Request{
		Account:  account,
		Nonce:    3,
		Hash:     hash,
		Deadline: deadline,
	}))
	require.Equal(t, txn.StateFailed, res.State)
	require.Equal(t, txn.ReasonTimeout, res.Reason)
	// a known hash gets one grace period past the deadline
	require.False(t, res.ResolvedAt.Before(deadline.Add(grace)))
}

func TestWatchOwnHashIncludedWhileReadingNonce(t *testing.T) {
	t.Parallel()

	l := newLedgerMock()
	l.setReceipt(hash, ledger.Receipt{Included: false})
	// the watched hash gets mined between the receipt and the nonce reads
	l.onCount = func(l *ledgerMock) {
		l.confirmed = 4
		l.receipts[hash] = ledger.Receipt{Included: true, BlockNumber: 12, Depth: 1}
		l.onCount = nil
	}
	w := newWatcher(t, l, 10*time.Millisecond)

	ch := w.Watch(context.Background(), watcher.Request{
		Account:       account,
		Nonce:         3,
		Hash:          hash,
		RequiredDepth: 2,
		Deadline:      time.Now().Add(time.Hour),
	})

	time.Sleep(50 * time.Millisecond)
	select {
	case res := <-ch:
		t.Fatalf("resolved %s before reaching the required depth", res.State)
	default:
	}

	l.setReceipt(hash, ledger.Receipt{Included: true, BlockNumber: 12, Depth: 2})
	res := receive(t, ch)
	require.Equal(t, txn.StateConfirmed, res.State)
	require.Equal(t, uint64(12), res.BlockNumber)
}

func TestWatchLedgerDownResolvesAtDeadline(t *testing.T) {
	t.Parallel()

	l := newLedgerMock()
	l.setReceiptErr(errors.New("connection refused"))
	w := newWatcher(t, l, time.Hour)

	deadline := time.Now().Add(50 * time.Millisecond)
	res := receive(t, w.Watch(context.Background(), watcher.Request{
		Account:  account,
		Nonce:    3,
		Hash:     hash,
		Deadline: deadline,
	}))
	require.Equal(t, txn.StateFailed, res.State)
	require.Equal(t, txn.ReasonTimeout, res.Reason)
	require.False(t, res.ResolvedAt.Before(deadline))
}

func TestWatchLedgerDownAfterEviction(t *testing.T) {
	t.Parallel()

	l := newLedgerMock()
	w := newWatcher(t, l, 10*time.Millisecond)

	deadline := time.Now().Add(150 * time.Millisecond)
	ch := w.Watch(context.Background(), watcher.Request{
		Account:  account,
		Nonce:    3,
		Hash:     hash,
		Deadline: deadline,
	})

	// missing for longer than the grace period before the ledger went down
	time.Sleep(50 * time.Millisecond)
	l.setReceiptErr(errors.New("connection refused"))

	res := receive(t, ch)
	require.Equal(t, txn.StateDropped, res.State)
	require.Equal(t, txn.ReasonDropped, res.Reason)
	require.False(t, res.ResolvedAt.Before(deadline))
}

func TestWatchIncludedPastDeadline(t *testing.T) {
	t.Parallel()

	l := newLedgerMock()
	l.setReceipt(hash, ledger.Receipt{Included: true, BlockNumber: 1, Depth: 1})
	w := newWatcher(t, l, 10*time.Millisecond)

	ch := w.Watch(context.Background(), watcher.Request{
		Account:       account,
		Nonce:         3,
		Hash:          hash,
		RequiredDepth: 2,
		Deadline:      time.Now().Add(20 * time.Millisecond),
	})
	time.Sleep(100 * time.Millisecond)
	l.setReceipt(hash, ledger.Receipt{Included: true, BlockNumber: 1, Depth: 2})

	res := receive(t, ch)
	require.Equal(t, txn.StateConfirmed, res.State)
}

func TestWatchCancelled(t *testing.T) {
	t.Parallel()

	l := newLedgerMock()
	l.setReceipt(hash, ledger.Receipt{Included: false})
	w := newWatcher(t, l, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	ch := w.Watch(ctx, watcher.Request{Account: account, Nonce: 3, Hash: hash, Deadline: time.Now().Add(time.Hour)})
	require.Eventually(t, func() bool { return w.Active() == 1 }, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case _, ok := <-ch:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("watch didn't stop")
	}
	require.Eventually(t, func() bool { return w.Active() == 0 }, time.Second, 10*time.Millisecond)
}

func TestWatcherClose(t *testing.T) {
	t.Parallel()

	l := newLedgerMock()
	l.setReceipt(hash, ledger.Receipt{Included: false})
	w, err := NewPollingWatcher(l, watcher.WithPollInterval(10*time.Millisecond))
	require.NoError(t, err)

	ch := w.Watch(context.Background(), watcher.Request{Account: account, Hash: hash, Deadline: time.Now().Add(time.Hour)})
	w.Close()
	_, ok := <-ch
	require.False(t, ok)

	// watching after close returns a closed channel
	_, ok = <-w.Watch(context.Background(), watcher.Request{Account: account, Hash: hash})
	require.False(t, ok)
}

func TestWatcherOptions(t *testing.T) {
	t.Parallel()

	_, err := NewPollingWatcher(newLedgerMock(), watcher.WithPollInterval(0))
	require.Error(t, err)
	_, err = NewPollingWatcher(newLedgerMock(), watcher.WithRequiredDepth(0))
	require.Error(t, err)
	_, err = NewPollingWatcher(newLedgerMock(), watcher.WithGracePeriod(-time.Second))
	require.Error(t, err)
}

func newWatcher(t *testing.T, l ledger.Ledger, grace time.Duration) *PollingWatcher {
	t.Helper()
	w, err := NewPollingWatcher(l,
		watcher.WithPollInterval(5*time.Millisecond),
		watcher.WithGracePeriod(grace),
	)
	require.NoError(t, err)
	t.Cleanup(w.Close)
	return w
}

func receive(t *testing.T, ch <-chan watcher.Result) watcher.Result {
	t.Helper()
	select {
	case res, ok := <-ch:
		require.True(t, ok)
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("watch didn't resolve")
		return watcher.Result{}
	}
}

type ledgerMock struct {
	ledger.Ledger

	mu         sync.Mutex
	receipts   map[common.Hash]ledger.Receipt
	receiptErr error
	confirmed  uint64
	// onCount runs with mu held when the confirmed count is read.
	onCount func(l *ledgerMock)
}

func newLedgerMock() *ledgerMock {
	return &ledgerMock{receipts: map[common.Hash]ledger.Receipt{}}
}

func (l *ledgerMock) setReceipt(h common.Hash, r ledger.Receipt) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.receipts[h] = r
}

func (l *ledgerMock) evict(h common.Hash) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.receipts, h)
}

func (l *ledgerMock) setReceiptErr(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.receiptErr = err
}

func (l *ledgerMock) setConfirmed(n uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.confirmed = n
}

func (l *ledgerMock) Receipt(_ context.Context, h common.Hash) (ledger.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.receiptErr != nil {
		return ledger.Receipt{}, l.receiptErr
	}
	r, ok := l.receipts[h]
	if !ok {
		return ledger.Receipt{}, ledger.ErrNotFound
	}
	return r, nil
}

func (l *ledgerMock) ConfirmedTransactionCount(context.Context, common.Address) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.onCount != nil {
		l.onCount(l)
	}
	return l.confirmed, nil
}
