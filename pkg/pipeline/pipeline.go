package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/textileio/go-tradesubmit/pkg/txn"
)

var (
	// ErrRecordNotFound indicates there's no record with the given id.
	ErrRecordNotFound = errors.New("record not found")

	// ErrNotPending indicates the operation requires a Pending record.
	ErrNotPending = errors.New("record is not pending")
)

// Signer is the external signer. The pipeline never handles key material.
type Signer interface {
	// Sign returns the [R || S || V] signature of the envelope signing hash.
	Sign(ctx context.Context, env txn.Envelope, keyRef string) ([]byte, error)
}

// Pipeline signs, broadcasts and tracks trade transactions.
type Pipeline interface {
	// Submit runs the request up to Pending and watches it in the background.
	// Submitting an id that already exists returns the existing record unchanged.
	Submit(ctx context.Context, req txn.TradeRequest) (*txn.Record, error)

	// SpeedUp broadcasts a replacement of a Pending record with a higher fee bid.
	SpeedUp(ctx context.Context, id string) (*txn.Record, error)

	// Cancel broadcasts a fee bumped no-op self transfer with the nonce of a Pending record.
	// It's the only way to cancel a sent transaction, it takes effect only if it gets
	// included before the original.
	Cancel(ctx context.Context, id string) (*txn.Record, error)

	// Unwatch stops watching a Pending record. The transaction is not un-sent.
	Unwatch(ctx context.Context, id string) (*txn.Record, error)

	// Get returns a record.
	Get(ctx context.Context, id string) (*txn.Record, error)

	// Subscribe streams copies of the record on every state change. The channel is
	// closed after the terminal state or when ctx is done.
	Subscribe(ctx context.Context, id string) (<-chan *txn.Record, error)

	// Account returns the ledger view of an account.
	Account(ctx context.Context, addr common.Address) (txn.Account, error)

	// Abandon gives up an unresolved nonce of the account so it stops blocking submissions.
	Abandon(ctx context.Context, addr common.Address, nonce uint64) error
}

// Store persists records.
type Store interface {
	// Get returns ErrRecordNotFound if there's no record with the id.
	Get(ctx context.Context, id string) (*txn.Record, error)
	Put(ctx context.Context, rec *txn.Record) error
	// ListOpen lists the records that aren't in a terminal state.
	ListOpen(ctx context.Context) ([]*txn.Record, error)
}

// Config contains configuration attributes for a pipeline.
type Config struct {
	// BroadcastAttempts bounds the sends of one envelope on transient errors.
	BroadcastAttempts int
	// BroadcastBackoff is the first wait between attempts, doubled after each one.
	BroadcastBackoff    time.Duration
	MaxBroadcastBackoff time.Duration

	// MaxRebids bounds the re-bids on underpriced rejections.
	MaxRebids int
	// MaxNonceRetries bounds the reconciliations on nonce conflicts.
	MaxNonceRetries int

	// DefaultDeadline is used for requests without deadline.
	DefaultDeadline time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		BroadcastAttempts:   5,
		BroadcastBackoff:    250 * time.Millisecond,
		MaxBroadcastBackoff: 5 * time.Second,
		MaxRebids:           5,
		MaxNonceRetries:     3,
		DefaultDeadline:     5 * time.Minute,
	}
}

// Option modifies a configuration attribute.
type Option func(*Config) error

// WithBroadcastRetries sets the attempt bound and backoff of broadcasts.
func WithBroadcastRetries(attempts int, backoff, maxBackoff time.Duration) Option {
	return func(c *Config) error {
		if attempts < 1 {
			return fmt.Errorf("broadcast attempts must be at least 1")
		}
		if backoff <= 0 || maxBackoff < backoff {
			return fmt.Errorf("invalid broadcast backoff %s (max %s)", backoff, maxBackoff)
		}
		c.BroadcastAttempts = attempts
		c.BroadcastBackoff = backoff
		c.MaxBroadcastBackoff = maxBackoff
		return nil
	}
}

// WithMaxRebids sets how many times an underpriced envelope is re-bid.
func WithMaxRebids(n int) Option {
	return func(c *Config) error {
		if n < 0 {
			return fmt.Errorf("max rebids cannot be negative")
		}
		c.MaxRebids = n
		return nil
	}
}

// WithMaxNonceRetries sets how many times a nonce conflict is reconciled.
func WithMaxNonceRetries(n int) Option {
	return func(c *Config) error {
		if n < 0 {
			return fmt.Errorf("max nonce retries cannot be negative")
		}
		c.MaxNonceRetries = n
		return nil
	}
}

// WithDefaultDeadline sets the deadline of requests without one.
func WithDefaultDeadline(d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return fmt.Errorf("default deadline must be positive")
		}
		c.DefaultDeadline = d
		return nil
	}
}
