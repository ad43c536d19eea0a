package impl

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/textileio/go-tradesubmit/pkg/ledger"
	"github.com/textileio/go-tradesubmit/pkg/txn"
	"golang.org/x/sync/errgroup"
)

// ChainClient is the subset of an Ethereum client used by the ledger.
// Both *ethclient.Client and *backends.SimulatedBackend satisfy it.
type ChainClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (tx *types.Transaction, isPending bool, err error)
}

// EthLedger is the Ethereum implementation of the Ledger.
type EthLedger struct {
	client ChainClient
}

var _ ledger.Ledger = (*EthLedger)(nil)

// NewEthLedger returns an EthLedger.
func NewEthLedger(client ChainClient) *EthLedger {
	return &EthLedger{client: client}
}

// TransactionCount returns the pending nonce of the account.
func (l *EthLedger) TransactionCount(ctx context.Context, addr common.Address) (uint64, error) {
	nonce, err := l.client.PendingNonceAt(ctx, addr)
	if err != nil {
		return 0, fmt.Errorf("pending nonce at: %s", err)
	}
	return nonce, nil
}

// ConfirmedTransactionCount returns the nonce of the account at the latest block.
func (l *EthLedger) ConfirmedTransactionCount(ctx context.Context, addr common.Address) (uint64, error) {
	nonce, err := l.client.NonceAt(ctx, addr, nil)
	if err != nil {
		return 0, fmt.Errorf("nonce at: %s", err)
	}
	return nonce, nil
}

// Balance returns the balance of the account at the latest block.
func (l *EthLedger) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	balance, err := l.client.BalanceAt(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("balance at: %s", err)
	}
	return balance, nil
}

// FeeLevels derives the fee levels from the latest base fee and the suggested tip.
// Chains without a base fee report the suggested gas price for every level.
func (l *EthLedger) FeeLevels(ctx context.Context) (ledger.FeeLevels, error) {
	var (
		head *types.Header
		tip  *big.Int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		h, err := l.client.HeaderByNumber(gctx, nil)
		if err != nil {
			return fmt.Errorf("get head header: %s", err)
		}
		head = h
		return nil
	})
	g.Go(func() error {
		t, err := l.client.SuggestGasTipCap(gctx)
		if err != nil {
			return fmt.Errorf("suggest gas tip cap: %s", err)
		}
		tip = t
		return nil
	})
	if err := g.Wait(); err != nil {
		return ledger.FeeLevels{}, err
	}

	if head.BaseFee == nil {
		gasPrice, err := l.client.SuggestGasPrice(ctx)
		if err != nil {
			return ledger.FeeLevels{}, fmt.Errorf("suggest gas price: %s", err)
		}
		return ledger.FeeLevels{
			Slow:   new(big.Int).Set(gasPrice),
			Normal: new(big.Int).Set(gasPrice),
			Fast:   new(big.Int).Set(gasPrice),
			Tip:    new(big.Int).Set(gasPrice),
		}, nil
	}

	base := head.BaseFee
	slow := new(big.Int).Add(base, tip)
	normal := new(big.Int).Add(new(big.Int).Mul(base, big.NewInt(2)), tip)
	fast := new(big.Int).Add(new(big.Int).Mul(base, big.NewInt(3)), new(big.Int).Mul(tip, big.NewInt(2)))

	return ledger.FeeLevels{
		Slow:   slow,
		Normal: normal,
		Fast:   fast,
		Tip:    new(big.Int).Set(tip),
	}, nil
}

// SendRaw decodes the signed transaction and sends it to the network.
// Node errors are classified into the transaction error taxonomy.
func (l *EthLedger) SendRaw(ctx context.Context, signed []byte) (common.Hash, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(signed); err != nil {
		return common.Hash{}, fmt.Errorf("decoding signed transaction: %s: %w", err, txn.ErrInvalidRequest)
	}
	if err := l.client.SendTransaction(ctx, tx); err != nil {
		if isAlreadyKnown(err) {
			return tx.Hash(), nil
		}
		return common.Hash{}, ClassifySendError(err)
	}
	return tx.Hash(), nil
}

// Receipt returns the inclusion status of the transaction.
func (l *EthLedger) Receipt(ctx context.Context, hash common.Hash) (ledger.Receipt, error) {
	receipt, err := l.client.TransactionReceipt(ctx, hash)
	if err != nil && !errors.Is(err, ethereum.NotFound) {
		return ledger.Receipt{}, fmt.Errorf("get transaction receipt: %s", err)
	}
	if receipt == nil {
		_, _, err := l.client.TransactionByHash(ctx, hash)
		if errors.Is(err, ethereum.NotFound) {
			return ledger.Receipt{}, ledger.ErrNotFound
		}
		if err != nil {
			return ledger.Receipt{}, fmt.Errorf("get transaction by hash: %s", err)
		}
		return ledger.Receipt{Included: false}, nil
	}

	h, err := l.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return ledger.Receipt{}, fmt.Errorf("get head header: %s", err)
	}
	block := receipt.BlockNumber.Uint64()
	var depth uint64
	if head := h.Number.Uint64(); head >= block {
		depth = head - block + 1
	}

	return ledger.Receipt{
		Included:    true,
		BlockNumber: block,
		Depth:       depth,
		Reverted:    receipt.Status == types.ReceiptStatusFailed,
	}, nil
}

// ClassifySendError wraps a node error with the taxonomy error it belongs to.
func ClassifySendError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "nonce too low"), strings.Contains(msg, "invalid transaction nonce"):
		return fmt.Errorf("sending transaction: %s: %w", err, txn.ErrNonceConflict)
	case strings.Contains(msg, "underpriced"), strings.Contains(msg, "fee too low"),
		strings.Contains(msg, "max fee per gas less than block base fee"):
		return fmt.Errorf("sending transaction: %s: %w", err, txn.ErrUnderpriced)
	case strings.Contains(msg, "insufficient funds"), strings.Contains(msg, "intrinsic gas too low"),
		strings.Contains(msg, "exceeds block gas limit"), strings.Contains(msg, "invalid sender"):
		return fmt.Errorf("sending transaction: %s: %w", err, txn.ErrInvalidRequest)
	default:
		return fmt.Errorf("sending transaction: %s: %w", err, txn.ErrBroadcastFailure)
	}
}

func isAlreadyKnown(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already known") || strings.Contains(msg, "known transaction")
}
