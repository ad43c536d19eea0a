package impl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	logger "github.com/rs/zerolog/log"
	"github.com/textileio/go-tradesubmit/pkg/ledger"
	"github.com/textileio/go-tradesubmit/pkg/txn"
	"github.com/textileio/go-tradesubmit/pkg/watcher"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/instrument"
	"go.uber.org/atomic"
)

// PollingWatcher resolves transactions by polling the ledger.
type PollingWatcher struct {
	log    zerolog.Logger
	ledger ledger.Ledger
	config *watcher.Config

	wg       sync.WaitGroup
	quit     chan struct{}
	closeMu  sync.Mutex
	isClosed bool

	// metrics
	active      atomic.Int64
	polls       atomic.Int64
	pollErrors  atomic.Int64
	mBaseLabels []attribute.KeyValue
	mResults    instrument.Int64Counter
}

var _ watcher.Watcher = (*PollingWatcher)(nil)

// NewPollingWatcher returns a new PollingWatcher.
func NewPollingWatcher(l ledger.Ledger, opts ...watcher.Option) (*PollingWatcher, error) {
	config := watcher.DefaultConfig()
	for _, o := range opts {
		if err := o(config); err != nil {
			return nil, fmt.Errorf("applying option: %s", err)
		}
	}

	w := &PollingWatcher{
		log:    logger.With().Str("component", "watcher").Logger(),
		ledger: l,
		config: config,
		quit:   make(chan struct{}),
	}
	if err := w.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %s", err)
	}
	return w, nil
}

// Watch implements watcher.Watcher.
func (w *PollingWatcher) Watch(ctx context.Context, req watcher.Request) <-chan watcher.Result {
	ch := make(chan watcher.Result, 1)
	if req.RequiredDepth == 0 {
		req.RequiredDepth = w.config.RequiredDepth
	}

	w.closeMu.Lock()
	if w.isClosed {
		w.closeMu.Unlock()
		close(ch)
		return ch
	}
	w.wg.Add(1)
	w.closeMu.Unlock()

	w.active.Inc()
	go func() {
		defer w.wg.Done()
		defer w.active.Dec()
		defer close(ch)

		res, ok := w.watch(ctx, req)
		if !ok {
			return
		}
		w.mResults.Add(context.Background(), 1, append([]attribute.KeyValue{
			attribute.String("state", string(res.State)),
			attribute.String("reason", string(res.Reason)),
		}, w.mBaseLabels...)...)
		ch <- res
	}()

	return ch
}

// Active returns the number of transactions being watched.
func (w *PollingWatcher) Active() int64 {
	return w.active.Load()
}

// Close stops every watch and waits for them to exit.
func (w *PollingWatcher) Close() {
	w.closeMu.Lock()
	if w.isClosed {
		w.closeMu.Unlock()
		return
	}
	w.isClosed = true
	close(w.quit)
	w.closeMu.Unlock()

	w.wg.Wait()
}

// watchState is the state kept across the polls of one watch.
type watchState struct {
	// missingSince is when the hash was first seen unknown to the ledger.
	missingSince time.Time
	log          zerolog.Logger
	// warn is sampled, a ledger that stays down logs once per period.
	warn zerolog.Logger
}

func (w *PollingWatcher) watch(ctx context.Context, req watcher.Request) (watcher.Result, bool) {
	log := w.log.With().
		Str("account", req.Account.Hex()).
		Uint64("nonce", req.Nonce).
		Str("hash", req.Hash.Hex()).
		Logger()
	log.Debug().Time("deadline", req.Deadline).Msg("watching transaction")

	st := &watchState{
		log:  log,
		warn: log.Sample(&zerolog.BurstSampler{Burst: 1, Period: warnPeriod}),
	}
	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		if res, done := w.poll(ctx, req, st); done {
			log.Info().
				Str("state", string(res.State)).
				Str("reason", string(res.Reason)).
				Msg("transaction resolved")
			return res, true
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			log.Debug().Msg("watch stopped")
			return watcher.Result{}, false
		case <-w.quit:
			return watcher.Result{}, false
		}
	}
}

// warnPeriod is the period of the sampled poll error warnings.
const warnPeriod = time.Minute

// poll applies the resolution rules once.
//
// Past the deadline, a hash unknown to the ledger is Dropped once it has been
// missing for the grace period. A hash still known is given one more grace
// period to be included or evicted before it's Failed with Timeout.
func (w *PollingWatcher) poll(ctx context.Context, req watcher.Request, st *watchState) (watcher.Result, bool) {
	w.polls.Inc()
	now := time.Now()
	result := func(state txn.State, reason txn.Reason, block uint64) (watcher.Result, bool) {
		return watcher.Result{
			Hash:        req.Hash,
			State:       state,
			Reason:      reason,
			BlockNumber: block,
			ResolvedAt:  now,
		}, true
	}

	receipt, err := w.ledger.Receipt(ctx, req.Hash)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		if st.missingSince.IsZero() {
			st.missingSince = now
		}
	case err != nil:
		return w.pollFailed(ctx, req, st, now, fmt.Errorf("polling receipt: %w", err))
	case receipt.Included:
		st.missingSince = time.Time{}
		return w.included(req, receipt, st, now)
	default:
		st.missingSince = time.Time{}
	}

	// Not included: another transaction may have consumed the nonce.
	confirmed, err := w.ledger.ConfirmedTransactionCount(ctx, req.Account)
	if err != nil {
		return w.pollFailed(ctx, req, st, now, fmt.Errorf("polling confirmed transaction count: %w", err))
	}
	if confirmed > req.Nonce {
		// The watched hash may have been included after the receipt was read.
		receipt, err := w.ledger.Receipt(ctx, req.Hash)
		switch {
		case err == nil && receipt.Included:
			return w.included(req, receipt, st, now)
		case err != nil && !errors.Is(err, ledger.ErrNotFound):
			return w.pollFailed(ctx, req, st, now, fmt.Errorf("polling receipt: %w", err))
		}
		return result(txn.StateReplaced, txn.ReasonReplaced, 0)
	}

	if req.Deadline.IsZero() || now.Before(req.Deadline) {
		return watcher.Result{}, false
	}
	if !st.missingSince.IsZero() {
		if now.Sub(st.missingSince) >= w.config.GracePeriod {
			return result(txn.StateDropped, txn.ReasonDropped, 0)
		}
		return watcher.Result{}, false
	}
	if now.Before(req.Deadline.Add(w.config.GracePeriod)) {
		return watcher.Result{}, false
	}
	return result(txn.StateFailed, txn.ReasonTimeout, 0)
}

// included resolves an included transaction once it's deep enough.
func (w *PollingWatcher) included(
	req watcher.Request,
	receipt ledger.Receipt,
	st *watchState,
	now time.Time,
) (watcher.Result, bool) {
	if receipt.Depth < req.RequiredDepth {
		st.log.Debug().
			Uint64("depth", receipt.Depth).
			Uint64("required", req.RequiredDepth).
			Msg("block depth is not enough")
		return watcher.Result{}, false
	}
	res := watcher.Result{
		Hash:        req.Hash,
		State:       txn.StateConfirmed,
		Reason:      txn.ReasonNone,
		BlockNumber: receipt.BlockNumber,
		ResolvedAt:  now,
	}
	if receipt.Reverted {
		res.State, res.Reason = txn.StateFailed, txn.ReasonReverted
	}
	return res, true
}

// pollFailed handles a ledger error. Nothing can be learned from the ledger,
// so past the deadline the watch resolves with what is already known.
func (w *PollingWatcher) pollFailed(
	ctx context.Context,
	req watcher.Request,
	st *watchState,
	now time.Time,
	err error,
) (watcher.Result, bool) {
	w.pollErrors.Inc()
	if ctx.Err() == nil {
		st.warn.Warn().Err(err).Int64("errors", w.pollErrors.Load()).Msg("ledger unavailable")
	}
	if req.Deadline.IsZero() || now.Before(req.Deadline) {
		return watcher.Result{}, false
	}
	res := watcher.Result{
		Hash:       req.Hash,
		State:      txn.StateFailed,
		Reason:     txn.ReasonTimeout,
		ResolvedAt: now,
	}
	if !st.missingSince.IsZero() && now.Sub(st.missingSince) >= w.config.GracePeriod {
		res.State, res.Reason = txn.StateDropped, txn.ReasonDropped
	}
	return res, true
}
