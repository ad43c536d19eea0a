package impl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/textileio/go-tradesubmit/pkg/pipeline"
	"github.com/textileio/go-tradesubmit/pkg/txn"
	"github.com/textileio/go-tradesubmit/pkg/watcher"
)

// send reserves a nonce for req, broadcasts the first attempt and commits the nonce.
// Nonce conflicts are resolved by reconciling the allocator and reserving again.
func (p *Pipeline) send(ctx context.Context, e *entry, req txn.TradeRequest) (txn.Attempt, error) {
	account, err := p.Account(ctx, req.From)
	if err != nil {
		return txn.Attempt{}, fmt.Errorf("get account: %s: %w", err, txn.ErrBroadcastFailure)
	}
	if err := txn.Validate(req, account); err != nil {
		return txn.Attempt{}, err
	}

	for conflicts := 0; ; conflicts++ {
		bid, err := p.estimator.Estimate(ctx, req.Urgency, nil)
		if err != nil {
			return txn.Attempt{}, fmt.Errorf("estimating fees: %w", err)
		}

		commit, release, n, err := p.allocator.Reserve(ctx, req.From)
		if err != nil {
			return txn.Attempt{}, fmt.Errorf("reserving nonce: %w", err)
		}

		env, err := p.builder.Build(req, account, n, bid)
		if err != nil {
			release()
			return txn.Attempt{}, err
		}

		attempt, err := p.broadcast(ctx, env, req.Urgency, req.KeyRef, func(a txn.Attempt) {
			p.transition(e, func(rec *txn.Record) {
				rec.Envelope = a.Envelope
				rec.Signature = a.Signature
				rec.Hash = a.Hash
				rec.State = txn.StateSigned
			})
		})
		if errors.Is(err, txn.ErrNonceConflict) && conflicts < p.config.MaxNonceRetries {
			release()
			p.mResyncs.Add(ctx, 1, p.mBaseLabels...)
			p.log.Warn().
				Err(err).
				Str("record", req.ID).
				Uint64("nonce", n).
				Msg("nonce conflict, reconciling")
			if err := p.allocator.Reconcile(ctx, req.From); err != nil {
				return txn.Attempt{}, fmt.Errorf("reconciling nonce: %w", err)
			}
			continue
		}
		if err != nil {
			release()
			return txn.Attempt{}, err
		}

		if err := commit(attempt.Hash); err != nil {
			p.log.Error().Err(err).Str("record", req.ID).Msg("committing nonce")
		}
		release()

		p.transition(e, func(rec *txn.Record) {
			rec.Attempts = append(rec.Attempts, attempt)
			rec.State = txn.StateBroadcast
		})
		return attempt, nil
	}
}

// replace broadcasts a fee bumped replacement or cancellation of a Pending record.
func (p *Pipeline) replace(ctx context.Context, id string, cancel bool) (*txn.Record, error) {
	e, err := p.entry(ctx, id)
	if err != nil {
		return nil, err
	}

	e.opMu.Lock()
	defer e.opMu.Unlock()

	rec := p.snapshot(e)
	if rec.State != txn.StatePending {
		return rec, fmt.Errorf("record %s is %s: %w", id, rec.State, pipeline.ErrNotPending)
	}

	prev := rec.Envelope
	bid, err := p.estimator.Estimate(ctx, rec.Request.Urgency, &prev.Fee)
	if err != nil {
		return rec, fmt.Errorf("estimating fees: %w", err)
	}
	env := p.builder.Replacement(prev, bid)
	if cancel {
		env = p.builder.Cancellation(prev, bid)
	}

	attempt, err := p.broadcast(ctx, env, rec.Request.Urgency, rec.Request.KeyRef, nil)
	if err != nil {
		// The previous attempts are still in flight.
		p.log.Warn().
			Err(err).
			Str("record", id).
			Bool("cancel", cancel).
			Msg("replacement not broadcast")
		return rec, err
	}
	attempt.Cancel = cancel

	var (
		idx       int
		resume    bool
		watchable bool
	)
	p.transition(e, func(rec *txn.Record) {
		rec.Attempts = append(rec.Attempts, attempt)
		idx = len(rec.Attempts) - 1
		watchable = !rec.State.IsTerminal()
		if !watchable {
			return
		}
		rec.Envelope = attempt.Envelope
		rec.Signature = attempt.Signature
		rec.Hash = attempt.Hash
		resume = rec.Unwatched
		rec.Unwatched = false
	})
	p.mGasBumps.Add(ctx, 1, p.mBaseLabels...)

	switch {
	case !watchable:
	case resume:
		p.watchAll(e)
	default:
		p.watch(e, idx)
	}

	p.log.Info().
		Str("record", id).
		Bool("cancel", cancel).
		Str("hash", attempt.Hash.Hex()).
		Str("fee", attempt.Envelope.Fee.String()).
		Msg("replacement broadcast")

	return p.snapshot(e), nil
}

// broadcast signs and sends env. Underpriced envelopes are re-bid and signed again.
// signed, if not nil, is called before every send.
func (p *Pipeline) broadcast(
	ctx context.Context,
	env txn.Envelope,
	urgency txn.Urgency,
	keyRef string,
	signed func(txn.Attempt),
) (txn.Attempt, error) {
	for rebids := 0; ; rebids++ {
		attempt, raw, err := p.sign(ctx, env, keyRef)
		if err != nil {
			return txn.Attempt{}, err
		}
		if signed != nil {
			signed(attempt)
		}

		hash, err := p.sendRaw(ctx, raw)
		if errors.Is(err, txn.ErrUnderpriced) && rebids < p.config.MaxRebids {
			bid, err := p.estimator.Estimate(ctx, urgency, &env.Fee)
			if err != nil {
				return txn.Attempt{}, fmt.Errorf("re-bidding: %w", err)
			}
			p.mGasBumps.Add(ctx, 1, p.mBaseLabels...)
			p.log.Debug().
				Uint64("nonce", env.Nonce).
				Str("prior", env.Fee.String()).
				Str("bid", bid.String()).
				Msg("underpriced, re-bidding")
			env = p.builder.Replacement(env, bid)
			continue
		}
		if errors.Is(err, txn.ErrUnderpriced) {
			return txn.Attempt{}, fmt.Errorf("still underpriced after %d re-bids: %w", rebids, err)
		}
		if err != nil {
			return txn.Attempt{}, err
		}

		if hash != attempt.Hash {
			p.log.Warn().
				Str("signed", attempt.Hash.Hex()).
				Str("ledger", hash.Hex()).
				Msg("ledger reported a different hash")
			attempt.Hash = hash
		}
		attempt.State = txn.StatePending
		attempt.SentAt = time.Now()
		return attempt, nil
	}
}

// sign returns the signed attempt for env and its raw encoding.
func (p *Pipeline) sign(ctx context.Context, env txn.Envelope, keyRef string) (txn.Attempt, []byte, error) {
	sig, err := p.signer.Sign(ctx, env, keyRef)
	if err != nil {
		if errors.Is(err, txn.ErrSignerUnavailable) {
			return txn.Attempt{}, nil, err
		}
		return txn.Attempt{}, nil, fmt.Errorf("signing: %s: %w", err, txn.ErrSignerUnavailable)
	}
	tx, err := env.Seal(sig)
	if err != nil {
		return txn.Attempt{}, nil, fmt.Errorf("sealing: %s: %w", err, txn.ErrSignerUnavailable)
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		return txn.Attempt{}, nil, fmt.Errorf("encoding signed transaction: %s", err)
	}
	return txn.Attempt{
		Envelope:  env,
		Signature: sig,
		Hash:      tx.Hash(),
		State:     txn.StateSigned,
	}, raw, nil
}

// sendRaw sends raw, retrying transient failures with exponential backoff.
func (p *Pipeline) sendRaw(ctx context.Context, raw []byte) (common.Hash, error) {
	backoff := p.config.BroadcastBackoff
	var err error
	for i := 0; i < p.config.BroadcastAttempts; i++ {
		if i > 0 {
			p.mRetries.Add(ctx, 1, p.mBaseLabels...)
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return common.Hash{}, fmt.Errorf("waiting to retry broadcast: %w", ctx.Err())
			case <-timer.C:
			}
			backoff *= 2
			if backoff > p.config.MaxBroadcastBackoff {
				backoff = p.config.MaxBroadcastBackoff
			}
		}

		var hash common.Hash
		hash, err = p.ledger.SendRaw(ctx, raw)
		if err == nil {
			return hash, nil
		}
		if !transient(err) {
			return common.Hash{}, err
		}
		if ctx.Err() != nil {
			return common.Hash{}, fmt.Errorf("broadcasting: %s: %w", err, ctx.Err())
		}
		p.log.Debug().Err(err).Int("attempt", i+1).Msg("broadcast failed")
	}
	if errors.Is(err, txn.ErrBroadcastFailure) {
		return common.Hash{}, fmt.Errorf("after %d attempts: %w", p.config.BroadcastAttempts, err)
	}
	return common.Hash{}, fmt.Errorf("after %d attempts: %s: %w", p.config.BroadcastAttempts, err, txn.ErrBroadcastFailure)
}

func transient(err error) bool {
	return !errors.Is(err, txn.ErrInvalidRequest) &&
		!errors.Is(err, txn.ErrNonceConflict) &&
		!errors.Is(err, txn.ErrUnderpriced)
}

// watch starts watching the attempt idx of the record.
func (p *Pipeline) watch(e *entry, idx int) {
	e.mu.Lock()
	a := e.rec.Attempts[idx]
	req := watcher.Request{
		Account:  e.rec.Request.From,
		Nonce:    a.Envelope.Nonce,
		Hash:     a.Hash,
		Deadline: e.rec.Deadline,
	}
	ctx, cancel := context.WithCancel(p.ctx)
	e.watches[idx] = cancel
	e.mu.Unlock()

	results := p.watcher.Watch(ctx, req)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer cancel()
		res, ok := <-results
		if !ok {
			return
		}
		p.resolve(e, idx, res)
	}()
}

// watchAll watches every attempt without a result.
func (p *Pipeline) watchAll(e *entry) {
	e.mu.Lock()
	var idxs []int
	for i, a := range e.rec.Attempts {
		if _, watched := e.watches[i]; !watched && !a.State.IsTerminal() {
			idxs = append(idxs, i)
		}
	}
	e.mu.Unlock()

	for _, i := range idxs {
		p.watch(e, i)
	}
}

type nonceAction int

const (
	nonceKeep nonceAction = iota
	nonceConfirm
	nonceFail
)

// resolve folds the result of one attempt into the record.
// A confirmed attempt settles the record at once, otherwise every attempt must resolve.
func (p *Pipeline) resolve(e *entry, idx int, res watcher.Result) {
	var (
		action nonceAction
		from   common.Address
		n      uint64
	)
	p.transition(e, func(rec *txn.Record) {
		att := &rec.Attempts[idx]
		att.State = res.State
		att.Reason = res.Reason
		delete(e.watches, idx)
		if rec.State.IsTerminal() {
			return
		}
		from, n = rec.Request.From, att.Envelope.Nonce

		switch {
		case res.State == txn.StateConfirmed:
			rec.FinalHash = res.Hash
			if idx == 0 {
				rec.State = txn.StateConfirmed
			} else {
				rec.State = txn.StateReplaced
				rec.Reason = txn.ReasonReplaced
				if att.Cancel {
					rec.Cancelled = true
					rec.Reason = txn.ReasonCancelled
				}
			}
			action = nonceConfirm
		case res.State == txn.StateFailed && res.Reason == txn.ReasonReverted:
			rec.FinalHash = res.Hash
			rec.State = txn.StateFailed
			rec.Reason = txn.ReasonReverted
			action = nonceConfirm
		default:
			var replaced, dropped, open int
			for _, a := range rec.Attempts {
				switch {
				case a.State == txn.StateReplaced:
					replaced++
				case a.State == txn.StateDropped:
					dropped++
				case !a.State.IsTerminal():
					open++
				}
			}
			if open > 0 {
				return
			}
			switch {
			case replaced > 0:
				rec.State = txn.StateReplaced
				rec.Reason = txn.ReasonReplaced
				action = nonceConfirm
			case dropped == len(rec.Attempts):
				rec.State = txn.StateDropped
				rec.Reason = txn.ReasonDropped
				action = nonceFail
			default:
				rec.State = txn.StateFailed
				rec.Reason = txn.ReasonTimeout
				action = nonceFail
			}
		}

		for i := range rec.Attempts {
			if i != idx && !rec.Attempts[i].State.IsTerminal() {
				rec.Attempts[i].State = txn.StateReplaced
			}
		}
		for i, stop := range e.watches {
			stop()
			delete(e.watches, i)
		}
	})

	ctx := context.Background()
	switch action {
	case nonceConfirm:
		if err := p.allocator.Confirm(ctx, from, n); err != nil {
			p.log.Error().Err(err).Uint64("nonce", n).Msg("confirming nonce")
		}
	case nonceFail:
		if err := p.allocator.Fail(ctx, from, n); err != nil {
			p.log.Error().Err(err).Uint64("nonce", n).Msg("failing nonce")
		}
	}
	if action != nonceKeep {
		rec := p.snapshot(e)
		p.log.Info().
			Str("record", rec.ID).
			Str("state", string(rec.State)).
			Str("reason", string(rec.Reason)).
			Str("final_hash", rec.FinalHash.Hex()).
			Msg("record resolved")
	}
}
