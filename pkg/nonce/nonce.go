package nonce

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ErrNonceGap indicates that an issued nonce was never confirmed nor replaced.
// The account refuses new reservations until the gap is confirmed or abandoned.
var ErrNonceGap = errors.New("nonce gap")

// ErrNotOutstanding indicates the nonce isn't tracked as issued and unconsumed.
var ErrNotOutstanding = errors.New("nonce is not outstanding")

// ErrClosed indicates the allocator was closed.
var ErrClosed = errors.New("allocator closed")

// Status is the status of an issued nonce.
type Status string

const (
	// StatusPending is a nonce whose transaction was accepted by the network.
	StatusPending Status = "pending"
	// StatusFailed is a nonce whose transaction timed out or was lost by the network.
	StatusFailed Status = "failed"
)

// Outstanding is an issued nonce not yet known to be consumed on chain.
type Outstanding struct {
	Address   common.Address
	Nonce     uint64
	Hash      common.Hash
	Status    Status
	CreatedAt time.Time
}

// Commit registers the hash of the transaction broadcast with the reserved nonce.
// Only committed nonces are consumed, the next reservation gets the following one.
type Commit func(common.Hash) error

// Release frees the account so another caller can reserve.
// It must always be called, committed or not.
type Release func()

// Allocator issues contiguous nonces per account.
type Allocator interface {
	// Reserve blocks until no other reservation for the account is open and returns
	// the next nonce. The caller holds the account until Release is called.
	Reserve(ctx context.Context, addr common.Address) (Commit, Release, uint64, error)

	// Confirm marks every outstanding nonce up to n as consumed.
	Confirm(ctx context.Context, addr common.Address, n uint64) error

	// Fail flags n as never confirmed. It opens a gap if the ledger didn't consume it.
	Fail(ctx context.Context, addr common.Address, n uint64) error

	// Abandon gives up on n. It's the only way to rewind the counter, never below
	// the ledger transaction count.
	Abandon(ctx context.Context, addr common.Address, n uint64) error

	// Reconcile resyncs the account with the ledger, setting the counter to
	// max(internal, ledger) and flagging gaps.
	Reconcile(ctx context.Context, addr common.Address) error

	// Outstanding lists the issued nonces not yet consumed.
	Outstanding(ctx context.Context, addr common.Address) ([]Outstanding, error)
}

// Store persists the allocator state.
type Store interface {
	GetNonce(ctx context.Context, addr common.Address) (uint64, bool, error)
	UpsertNonce(ctx context.Context, addr common.Address, n uint64) error
	ListAddresses(ctx context.Context) ([]common.Address, error)
	ListOutstanding(ctx context.Context, addr common.Address) ([]Outstanding, error)
	InsertOutstanding(ctx context.Context, o Outstanding) error
	UpdateOutstandingStatus(ctx context.Context, addr common.Address, n uint64, status Status) error
	DeleteOutstanding(ctx context.Context, addr common.Address, n uint64) error
	DeleteOutstandingBelow(ctx context.Context, addr common.Address, n uint64) error
}
