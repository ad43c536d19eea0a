package impl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	logger "github.com/rs/zerolog/log"
	"github.com/textileio/go-tradesubmit/pkg/fees"
	"github.com/textileio/go-tradesubmit/pkg/ledger"
	"github.com/textileio/go-tradesubmit/pkg/nonce"
	"github.com/textileio/go-tradesubmit/pkg/pipeline"
	"github.com/textileio/go-tradesubmit/pkg/txn"
	"github.com/textileio/go-tradesubmit/pkg/watcher"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/instrument"
	"go.uber.org/atomic"
)

// subscriberBuffer is the number of state changes a slow subscriber may lag behind.
const subscriberBuffer = 64

// Pipeline implements pipeline.Pipeline.
type Pipeline struct {
	log       zerolog.Logger
	config    *pipeline.Config
	builder   *txn.Builder
	allocator nonce.Allocator
	estimator fees.Estimator
	ledger    ledger.Ledger
	signer    pipeline.Signer
	watcher   watcher.Watcher
	store     pipeline.Store

	// ctx bounds the background watches.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	entries map[string]*entry

	// metrics
	inflight    atomic.Int64
	subscribers atomic.Int64
	mBaseLabels []attribute.KeyValue
	mRecords    instrument.Int64Counter
	mGasBumps   instrument.Int64Counter
	mRetries    instrument.Int64Counter
	mResyncs    instrument.Int64Counter
}

var _ pipeline.Pipeline = (*Pipeline)(nil)

// entry is the live state of a record.
type entry struct {
	// opMu serializes the operations that broadcast for the record.
	opMu sync.Mutex

	mu      sync.Mutex
	rec     *txn.Record
	// subs maps every subscription to a channel closed when it ends.
	subs    map[chan *txn.Record]chan struct{}
	watches map[int]context.CancelFunc
}

// NewPipeline creates a new pipeline.
func NewPipeline(
	builder *txn.Builder,
	allocator nonce.Allocator,
	estimator fees.Estimator,
	l ledger.Ledger,
	signer pipeline.Signer,
	w watcher.Watcher,
	store pipeline.Store,
	opts ...pipeline.Option,
) (*Pipeline, error) {
	config := pipeline.DefaultConfig()
	for _, o := range opts {
		if err := o(config); err != nil {
			return nil, fmt.Errorf("applying option: %s", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		log: logger.With().
			Str("component", "pipeline").
			Int64("chain_id", builder.ChainID().Int64()).
			Logger(),
		config:    config,
		builder:   builder,
		allocator: allocator,
		estimator: estimator,
		ledger:    l,
		signer:    signer,
		watcher:   w,
		store:     store,
		ctx:       ctx,
		cancel:    cancel,
		entries:   map[string]*entry{},
	}
	if err := p.initMetrics(builder.ChainID().Int64()); err != nil {
		cancel()
		return nil, fmt.Errorf("init metrics: %s", err)
	}
	return p, nil
}

// Submit implements pipeline.Pipeline.
func (p *Pipeline) Submit(ctx context.Context, req txn.TradeRequest) (*txn.Record, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	e, created, err := p.register(ctx, req)
	if err != nil {
		return nil, err
	}
	if !created {
		e.mu.Lock()
		defer e.mu.Unlock()
		if !e.rec.Request.Equal(req) {
			return nil, fmt.Errorf("id %s already used by a different request: %w", req.ID, txn.ErrInvalidRequest)
		}
		return e.rec.Clone(), nil
	}

	e.opMu.Lock()
	defer e.opMu.Unlock()

	p.inflight.Inc()
	defer p.inflight.Dec()

	e.mu.Lock()
	deadline := e.rec.Deadline
	e.mu.Unlock()
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	if _, err := p.send(ctx, e, req); err != nil {
		p.fail(e, err)
		return p.snapshot(e), err
	}

	p.transition(e, func(rec *txn.Record) {
		rec.State = txn.StatePending
	})
	p.watch(e, 0)

	p.log.Info().
		Str("record", req.ID).
		Str("from", req.From.Hex()).
		Msg("trade submitted")

	return p.snapshot(e), nil
}

// SpeedUp implements pipeline.Pipeline.
func (p *Pipeline) SpeedUp(ctx context.Context, id string) (*txn.Record, error) {
	return p.replace(ctx, id, false)
}

// Cancel implements pipeline.Pipeline.
func (p *Pipeline) Cancel(ctx context.Context, id string) (*txn.Record, error) {
	return p.replace(ctx, id, true)
}

// Unwatch implements pipeline.Pipeline.
func (p *Pipeline) Unwatch(ctx context.Context, id string) (*txn.Record, error) {
	e, err := p.entry(ctx, id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.rec.State != txn.StatePending {
		e.mu.Unlock()
		return nil, fmt.Errorf("record %s is %s: %w", id, e.rec.State, pipeline.ErrNotPending)
	}
	for i, stop := range e.watches {
		stop()
		delete(e.watches, i)
	}
	e.mu.Unlock()

	p.transition(e, func(rec *txn.Record) {
		rec.Unwatched = true
	})
	p.log.Info().Str("record", id).Msg("record unwatched")
	return p.snapshot(e), nil
}

// Get implements pipeline.Pipeline.
func (p *Pipeline) Get(ctx context.Context, id string) (*txn.Record, error) {
	p.mu.Lock()
	e, ok := p.entries[id]
	p.mu.Unlock()
	if ok {
		return p.snapshot(e), nil
	}
	return p.store.Get(ctx, id)
}

// Subscribe implements pipeline.Pipeline.
func (p *Pipeline) Subscribe(ctx context.Context, id string) (<-chan *txn.Record, error) {
	e, err := p.entry(ctx, id)
	if err != nil {
		return nil, err
	}

	ch := make(chan *txn.Record, subscriberBuffer)
	e.mu.Lock()
	ch <- e.rec.Clone()
	if e.rec.State.IsTerminal() {
		e.mu.Unlock()
		close(ch)
		return ch, nil
	}
	done := make(chan struct{})
	e.subs[ch] = done
	e.mu.Unlock()

	p.subscribers.Inc()
	go func() {
		defer p.subscribers.Dec()
		select {
		case <-done:
		case <-ctx.Done():
			e.mu.Lock()
			defer e.mu.Unlock()
			if _, ok := e.subs[ch]; ok {
				delete(e.subs, ch)
				close(ch)
			}
		}
	}()
	return ch, nil
}

// Account implements pipeline.Pipeline.
func (p *Pipeline) Account(ctx context.Context, addr common.Address) (txn.Account, error) {
	balance, err := p.ledger.Balance(ctx, addr)
	if err != nil {
		return txn.Account{}, fmt.Errorf("get balance: %w", err)
	}
	count, err := p.ledger.TransactionCount(ctx, addr)
	if err != nil {
		return txn.Account{}, fmt.Errorf("get transaction count: %w", err)
	}
	return txn.Account{Address: addr, Nonce: count, Balance: balance}, nil
}

// Abandon implements pipeline.Pipeline.
func (p *Pipeline) Abandon(ctx context.Context, addr common.Address, n uint64) error {
	return p.allocator.Abandon(ctx, addr, n)
}

// Recover reloads the records that weren't terminal and resumes watching them.
// Records interrupted before reaching the network are failed.
func (p *Pipeline) Recover(ctx context.Context) error {
	recs, err := p.store.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("list open records: %s", err)
	}

	for _, rec := range recs {
		e := newEntry(rec)
		p.mu.Lock()
		if _, ok := p.entries[rec.ID]; ok {
			p.mu.Unlock()
			continue
		}
		p.entries[rec.ID] = e
		p.mu.Unlock()

		switch {
		case rec.State.Sent():
			p.transition(e, func(rec *txn.Record) {
				rec.State = txn.StatePending
			})
			if !rec.Unwatched {
				p.watchAll(e)
			}
		case rec.State == txn.StateSigned:
			// It may have reached the network before the interruption.
			if _, err := p.ledger.Receipt(ctx, rec.Hash); err == nil {
				p.transition(e, func(rec *txn.Record) {
					rec.Attempts = append(rec.Attempts, txn.Attempt{
						Envelope:  rec.Envelope,
						Signature: rec.Signature,
						Hash:      rec.Hash,
						State:     txn.StatePending,
						SentAt:    rec.UpdatedAt,
					})
					rec.State = txn.StatePending
				})
				p.watchAll(e)
				continue
			}
			p.fail(e, errors.New("interrupted before broadcast"))
		default:
			p.fail(e, errors.New("interrupted before broadcast"))
		}
	}

	p.log.Info().Int("records", len(recs)).Msg("open records recovered")
	return nil
}

// InFlight returns the number of submissions between Building and Pending.
func (p *Pipeline) InFlight() int64 {
	return p.inflight.Load()
}

// Subscribers returns the number of open state change subscriptions.
func (p *Pipeline) Subscribers() int64 {
	return p.subscribers.Load()
}

// Close stops every watch. Pending transactions keep their state and are
// resumed by Recover.
func (p *Pipeline) Close() {
	p.cancel()
	p.wg.Wait()
}

// register returns the entry of the request id, creating and persisting it if it's new.
func (p *Pipeline) register(ctx context.Context, req txn.TradeRequest) (*entry, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.entries[req.ID]; ok {
		return e, false, nil
	}
	rec, err := p.store.Get(ctx, req.ID)
	if err == nil {
		return p.track(rec), false, nil
	}
	if !errors.Is(err, pipeline.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("get record: %s", err)
	}

	now := time.Now()
	deadline := req.Deadline
	if deadline == 0 {
		deadline = p.config.DefaultDeadline
	}
	rec = &txn.Record{
		ID:          req.ID,
		Request:     req,
		State:       txn.StateBuilding,
		SubmittedAt: now,
		UpdatedAt:   now,
		Deadline:    now.Add(deadline),
	}
	if err := p.store.Put(ctx, rec); err != nil {
		return nil, false, fmt.Errorf("storing record: %s", err)
	}
	e := newEntry(rec)
	p.entries[req.ID] = e
	p.recordState(rec)
	return e, true, nil
}

// entry returns the live entry of a record, loading it from the store.
func (p *Pipeline) entry(ctx context.Context, id string) (*entry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[id]; ok {
		return e, nil
	}
	rec, err := p.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return p.track(rec), nil
}

// track returns a new entry for a stored record. Only records that can still
// change are kept in memory, terminal ones are served from the store.
// p.mu must be held.
func (p *Pipeline) track(rec *txn.Record) *entry {
	e := newEntry(rec)
	if !rec.State.IsTerminal() {
		p.entries[rec.ID] = e
	}
	return e
}

// untrack drops a terminal entry from memory.
func (p *Pipeline) untrack(e *entry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.entries[e.rec.ID] == e {
		delete(p.entries, e.rec.ID)
	}
}

func newEntry(rec *txn.Record) *entry {
	return &entry{
		rec:     rec,
		subs:    map[chan *txn.Record]chan struct{}{},
		watches: map[int]context.CancelFunc{},
	}
}

func (p *Pipeline) snapshot(e *entry) *txn.Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec.Clone()
}

// transition applies a change to the record, persists it and notifies subscribers.
func (p *Pipeline) transition(e *entry, change func(rec *txn.Record)) {
	if persisted, terminal := p.apply(e, change); persisted && terminal {
		p.untrack(e)
	}
}

func (p *Pipeline) apply(e *entry, change func(rec *txn.Record)) (persisted bool, terminal bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev := e.rec.State
	change(e.rec)
	e.rec.UpdatedAt = time.Now()
	terminal = e.rec.State.IsTerminal()

	persisted = true
	if err := p.store.Put(context.Background(), e.rec); err != nil {
		persisted = false
		p.log.Error().Err(err).Str("record", e.rec.ID).Msg("persisting record")
	}
	if prev != e.rec.State {
		p.recordState(e.rec)
		p.log.Debug().
			Str("record", e.rec.ID).
			Str("from", string(prev)).
			Str("to", string(e.rec.State)).
			Msg("record state changed")
	}

	for ch, done := range e.subs {
		select {
		case ch <- e.rec.Clone():
		default:
			p.log.Warn().Str("record", e.rec.ID).Msg("subscriber lagging, state change skipped")
		}
		if terminal {
			delete(e.subs, ch)
			close(ch)
			close(done)
		}
	}
	return persisted, terminal
}

// fail moves the record to Failed with the reason of err.
func (p *Pipeline) fail(e *entry, err error) {
	reason := reasonOf(err)
	p.transition(e, func(rec *txn.Record) {
		rec.State = txn.StateFailed
		rec.Reason = reason
		rec.Error = err.Error()
	})
	p.log.Warn().
		Err(err).
		Str("record", e.rec.ID).
		Str("reason", string(reason)).
		Msg("record failed")
}

func reasonOf(err error) txn.Reason {
	switch {
	case errors.Is(err, nonce.ErrNonceGap):
		return txn.ReasonNonceGap
	case errors.Is(err, context.DeadlineExceeded):
		return txn.ReasonTimeout
	default:
		return txn.ReasonFromError(err)
	}
}

func (p *Pipeline) recordState(rec *txn.Record) {
	p.mRecords.Add(context.Background(), 1, append([]attribute.KeyValue{
		attribute.String("state", string(rec.State)),
		attribute.String("reason", string(rec.Reason)),
	}, p.mBaseLabels...)...)
}
