package ledger

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ErrNotFound indicates the ledger doesn't know about a transaction hash, neither mined nor in the mempool.
var ErrNotFound = errors.New("transaction not found")

// FeeLevels are the fee levels currently observed in the network, as max fee per gas.
// Normal is the observed median.
type FeeLevels struct {
	Slow   *big.Int
	Normal *big.Int
	Fast   *big.Int
	// Tip is the suggested priority fee per gas.
	Tip *big.Int
}

// Receipt describes the inclusion status of a known transaction.
type Receipt struct {
	Included    bool
	BlockNumber uint64
	// Depth is the number of blocks on top of the inclusion block, counting the inclusion block itself.
	Depth    uint64
	Reverted bool
}

// Ledger is the minimal api the core requires from a chain.
type Ledger interface {
	// TransactionCount returns the next nonce of the account including mempool transactions.
	TransactionCount(ctx context.Context, addr common.Address) (uint64, error)
	// ConfirmedTransactionCount returns the next nonce of the account at the latest block.
	ConfirmedTransactionCount(ctx context.Context, addr common.Address) (uint64, error)
	Balance(ctx context.Context, addr common.Address) (*big.Int, error)
	FeeLevels(ctx context.Context) (FeeLevels, error)
	SendRaw(ctx context.Context, signed []byte) (common.Hash, error)
	// Receipt returns ErrNotFound if the hash is unknown.
	Receipt(ctx context.Context, hash common.Hash) (Receipt, error)
}
