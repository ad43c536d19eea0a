package watcher

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/textileio/go-tradesubmit/pkg/txn"
)

// Request describes a broadcast transaction to watch.
type Request struct {
	Account common.Address
	Nonce   uint64
	Hash    common.Hash

	// RequiredDepth is the confirmation depth, the watcher default is used when zero.
	RequiredDepth uint64
	// Deadline is when a transaction that isn't included is given up on.
	Deadline time.Time
}

// Result is the terminal state of a watched transaction.
type Result struct {
	Hash        common.Hash
	State       txn.State
	Reason      txn.Reason
	BlockNumber uint64
	ResolvedAt  time.Time
}

// Watcher resolves the terminal state of broadcast transactions.
type Watcher interface {
	// Watch polls the ledger in the background. The returned channel receives exactly
	// one Result and is closed. Cancelling ctx stops watching, the channel is then closed
	// without a result. Stopping doesn't un-send the transaction.
	Watch(ctx context.Context, req Request) <-chan Result
}

// Config contains configuration attributes for a watcher.
type Config struct {
	PollInterval  time.Duration
	GracePeriod   time.Duration
	RequiredDepth uint64
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		PollInterval:  5 * time.Second,
		GracePeriod:   30 * time.Second,
		RequiredDepth: 1,
	}
}

// Option modifies a configuration attribute.
type Option func(*Config) error

// WithPollInterval sets how often the ledger is polled.
func WithPollInterval(interval time.Duration) Option {
	return func(c *Config) error {
		if interval <= 0 {
			return fmt.Errorf("poll interval must be positive")
		}
		c.PollInterval = interval
		return nil
	}
}

// WithGracePeriod sets how long a hash must be unknown to the ledger before it's
// considered dropped.
func WithGracePeriod(grace time.Duration) Option {
	return func(c *Config) error {
		if grace < 0 {
			return fmt.Errorf("grace period cannot be negative")
		}
		c.GracePeriod = grace
		return nil
	}
}

// WithRequiredDepth sets the default confirmation depth.
func WithRequiredDepth(depth uint64) Option {
	return func(c *Config) error {
		if depth == 0 {
			return fmt.Errorf("required depth must be at least 1")
		}
		c.RequiredDepth = depth
		return nil
	}
}
