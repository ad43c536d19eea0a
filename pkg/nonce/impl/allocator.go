package impl

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	logger "github.com/rs/zerolog/log"
	"github.com/textileio/go-tradesubmit/pkg/ledger"
	"github.com/textileio/go-tradesubmit/pkg/nonce"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/instrument"
)

// LocalAllocator implements a nonce allocator that keeps the counters in memory
// and persists them in a nonce.Store.
type LocalAllocator struct {
	log    zerolog.Logger
	ledger ledger.Ledger
	store  nonce.Store

	mu       sync.Mutex
	accounts map[common.Address]*account

	// metrics
	mBaseLabels []attribute.KeyValue
	mReconciles instrument.Int64Counter
	mGaps       instrument.Int64Counter
}

var _ nonce.Allocator = (*LocalAllocator)(nil)

type account struct {
	// lock is held from Reserve until Release.
	lock chan struct{}

	initMu      sync.Mutex
	initialized bool

	// guarded by LocalAllocator.mu
	next        uint64
	outstanding map[uint64]nonce.Outstanding
}

// NewLocalAllocator creates a new allocator. Accounts found in the store are
// reloaded and reconciled with the ledger.
func NewLocalAllocator(
	ctx context.Context,
	chainID int64,
	l ledger.Ledger,
	store nonce.Store,
) (*LocalAllocator, error) {
	a := &LocalAllocator{
		log: logger.With().
			Str("component", "nonce").
			Int64("chain_id", chainID).
			Logger(),
		ledger:   l,
		store:    store,
		accounts: map[common.Address]*account{},
	}
	if err := a.initMetrics(chainID); err != nil {
		return nil, fmt.Errorf("init metrics: %s", err)
	}

	addrs, err := store.ListAddresses(ctx)
	if err != nil {
		return nil, fmt.Errorf("list stored accounts: %s", err)
	}
	for _, addr := range addrs {
		if _, err := a.initialized(ctx, addr); err != nil {
			return nil, fmt.Errorf("initializing account %s: %s", addr.Hex(), err)
		}
	}

	return a, nil
}

// Reserve implements nonce.Allocator.
func (a *LocalAllocator) Reserve(ctx context.Context, addr common.Address) (nonce.Commit, nonce.Release, uint64, error) {
	acc := a.account(addr)
	select {
	case acc.lock <- struct{}{}:
	case <-ctx.Done():
		return nil, nil, 0, ctx.Err()
	}

	var once sync.Once
	release := func() {
		once.Do(func() { <-acc.lock })
	}

	if _, err := a.initialized(ctx, addr); err != nil {
		release()
		return nil, nil, 0, err
	}

	// A gap may have been closed by the ledger since it was flagged.
	a.mu.Lock()
	flagged := a.gap(acc) != nil
	a.mu.Unlock()
	if flagged {
		if err := a.Reconcile(ctx, addr); err != nil {
			release()
			return nil, nil, 0, err
		}
	}

	a.mu.Lock()
	if gap := a.gap(acc); gap != nil {
		a.mu.Unlock()
		release()
		return nil, nil, 0, fmt.Errorf("account %s has nonce %d unresolved: %w", addr.Hex(), *gap, nonce.ErrNonceGap)
	}
	n := acc.next
	a.mu.Unlock()

	committed := false
	commit := func(hash common.Hash) error {
		a.mu.Lock()
		defer a.mu.Unlock()
		if committed {
			return fmt.Errorf("nonce %d already committed", n)
		}

		o := nonce.Outstanding{
			Address:   addr,
			Nonce:     n,
			Hash:      hash,
			Status:    nonce.StatusPending,
			CreatedAt: time.Now(),
		}
		acc.outstanding[n] = o
		if acc.next < n+1 {
			acc.next = n + 1
		}
		committed = true

		// The transaction is already on the network, persisting must not be
		// interrupted by the caller context.
		if err := a.store.InsertOutstanding(context.Background(), o); err != nil {
			return fmt.Errorf("storing outstanding nonce: %s", err)
		}
		if err := a.store.UpsertNonce(context.Background(), addr, acc.next); err != nil {
			return fmt.Errorf("storing nonce: %s", err)
		}

		a.log.Debug().
			Str("account", addr.Hex()).
			Uint64("nonce", n).
			Str("hash", hash.Hex()).
			Msg("nonce committed")
		return nil
	}

	return commit, release, n, nil
}

// Confirm implements nonce.Allocator.
func (a *LocalAllocator) Confirm(ctx context.Context, addr common.Address, n uint64) error {
	acc, err := a.initialized(ctx, addr)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.consumedBelow(ctx, addr, acc, n+1)
}

// Fail implements nonce.Allocator.
func (a *LocalAllocator) Fail(ctx context.Context, addr common.Address, n uint64) error {
	acc, err := a.initialized(ctx, addr)
	if err != nil {
		return err
	}
	confirmed, err := a.ledger.ConfirmedTransactionCount(ctx, addr)
	if err != nil {
		return fmt.Errorf("get confirmed transaction count: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.consumedBelow(ctx, addr, acc, confirmed); err != nil {
		return err
	}
	if n < confirmed {
		return nil
	}
	o, ok := acc.outstanding[n]
	if !ok {
		return nil
	}
	return a.flag(ctx, acc, o, "transaction failed to confirm")
}

// Abandon implements nonce.Allocator.
func (a *LocalAllocator) Abandon(ctx context.Context, addr common.Address, n uint64) error {
	acc := a.account(addr)
	select {
	case acc.lock <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-acc.lock }()

	if _, err := a.initialized(ctx, addr); err != nil {
		return err
	}
	pending, err := a.ledger.TransactionCount(ctx, addr)
	if err != nil {
		return fmt.Errorf("get transaction count: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := acc.outstanding[n]; !ok {
		return fmt.Errorf("account %s nonce %d: %w", addr.Hex(), n, nonce.ErrNotOutstanding)
	}
	if err := a.store.DeleteOutstanding(ctx, addr, n); err != nil {
		return err
	}
	delete(acc.outstanding, n)

	// Rewind to the first nonce nobody references, but never below the ledger.
	next := pending
	for m := range acc.outstanding {
		if m+1 > next {
			next = m + 1
		}
	}
	if next < acc.next {
		if err := a.store.UpsertNonce(ctx, addr, next); err != nil {
			return err
		}
		a.log.Warn().
			Str("account", addr.Hex()).
			Uint64("from", acc.next).
			Uint64("to", next).
			Msg("nonce counter rewound")
		acc.next = next
	}

	a.log.Info().
		Str("account", addr.Hex()).
		Uint64("nonce", n).
		Msg("nonce abandoned")
	return nil
}

// Reconcile implements nonce.Allocator.
func (a *LocalAllocator) Reconcile(ctx context.Context, addr common.Address) error {
	acc, err := a.initialized(ctx, addr)
	if err != nil {
		return err
	}
	return a.reconcile(ctx, addr, acc)
}

// Outstanding implements nonce.Allocator.
func (a *LocalAllocator) Outstanding(ctx context.Context, addr common.Address) ([]nonce.Outstanding, error) {
	acc, err := a.initialized(ctx, addr)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	list := make([]nonce.Outstanding, 0, len(acc.outstanding))
	for _, o := range acc.outstanding {
		list = append(list, o)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Nonce < list[j].Nonce })
	return list, nil
}

// Next returns the nonce the next reservation of the account would get.
func (a *LocalAllocator) Next(ctx context.Context, addr common.Address) (uint64, error) {
	acc, err := a.initialized(ctx, addr)
	if err != nil {
		return 0, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return acc.next, nil
}

func (a *LocalAllocator) account(addr common.Address) *account {
	a.mu.Lock()
	defer a.mu.Unlock()
	acc, ok := a.accounts[addr]
	if !ok {
		acc = &account{
			lock:        make(chan struct{}, 1),
			outstanding: map[uint64]nonce.Outstanding{},
		}
		a.accounts[addr] = acc
	}
	return acc
}

// initialized returns the account, loading it from the store and reconciling
// it with the ledger the first time.
func (a *LocalAllocator) initialized(ctx context.Context, addr common.Address) (*account, error) {
	acc := a.account(addr)
	acc.initMu.Lock()
	defer acc.initMu.Unlock()
	if acc.initialized {
		return acc, nil
	}

	stored, _, err := a.store.GetNonce(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("get stored nonce: %s", err)
	}
	outstanding, err := a.store.ListOutstanding(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("list outstanding nonces: %s", err)
	}

	a.mu.Lock()
	acc.next = stored
	for _, o := range outstanding {
		acc.outstanding[o.Nonce] = o
	}
	a.mu.Unlock()

	if err := a.reconcile(ctx, addr, acc); err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}
	acc.initialized = true

	a.mu.Lock()
	a.log.Info().
		Str("account", addr.Hex()).
		Uint64("next", acc.next).
		Int("outstanding", len(acc.outstanding)).
		Msg("account initialized")
	a.mu.Unlock()

	return acc, nil
}

func (a *LocalAllocator) reconcile(ctx context.Context, addr common.Address, acc *account) error {
	pending, err := a.ledger.TransactionCount(ctx, addr)
	if err != nil {
		return fmt.Errorf("get transaction count: %w", err)
	}
	confirmed, err := a.ledger.ConfirmedTransactionCount(ctx, addr)
	if err != nil {
		return fmt.Errorf("get confirmed transaction count: %w", err)
	}
	a.mReconciles.Add(ctx, 1, a.mBaseLabels...)

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.consumedBelow(ctx, addr, acc, confirmed); err != nil {
		return err
	}

	// Issued nonces the ledger doesn't know about were lost.
	for n, o := range acc.outstanding {
		if n >= pending && o.Status == nonce.StatusPending {
			if err := a.flag(ctx, acc, o, "transaction unknown to the ledger"); err != nil {
				return err
			}
		}
	}
	// Nonces issued before but not tracked anymore are lost too.
	for n := pending; n < acc.next; n++ {
		if _, ok := acc.outstanding[n]; ok {
			continue
		}
		o := nonce.Outstanding{Address: addr, Nonce: n, Status: nonce.StatusPending, CreatedAt: time.Now()}
		if err := a.flag(ctx, acc, o, "issued nonce not tracked"); err != nil {
			return err
		}
	}

	if pending > acc.next {
		if err := a.store.UpsertNonce(ctx, addr, pending); err != nil {
			return err
		}
		a.log.Info().
			Str("account", addr.Hex()).
			Uint64("from", acc.next).
			Uint64("to", pending).
			Msg("nonce counter moved forward to the ledger")
		acc.next = pending
	}
	return nil
}

// consumedBelow forgets every outstanding nonce lower than n. Must hold a.mu.
func (a *LocalAllocator) consumedBelow(ctx context.Context, addr common.Address, acc *account, n uint64) error {
	if err := a.store.DeleteOutstandingBelow(ctx, addr, n); err != nil {
		return err
	}
	for m := range acc.outstanding {
		if m < n {
			delete(acc.outstanding, m)
		}
	}
	if acc.next < n {
		if err := a.store.UpsertNonce(ctx, addr, n); err != nil {
			return err
		}
		acc.next = n
	}
	return nil
}

// flag marks an outstanding nonce as failed. Must hold a.mu.
func (a *LocalAllocator) flag(ctx context.Context, acc *account, o nonce.Outstanding, why string) error {
	o.Status = nonce.StatusFailed
	if err := a.store.InsertOutstanding(ctx, o); err != nil {
		return err
	}
	acc.outstanding[o.Nonce] = o
	a.mGaps.Add(ctx, 1, a.mBaseLabels...)

	a.log.Warn().
		Str("account", o.Address.Hex()).
		Uint64("nonce", o.Nonce).
		Str("hash", o.Hash.Hex()).
		Msg("nonce gap: " + why)
	return nil
}

// gap returns the lowest failed nonce of the account, if any. Must hold a.mu.
func (a *LocalAllocator) gap(acc *account) *uint64 {
	var lowest *uint64
	for n, o := range acc.outstanding {
		if o.Status != nonce.StatusFailed {
			continue
		}
		if lowest == nil || n < *lowest {
			n := n
			lowest = &n
		}
	}
	return lowest
}
