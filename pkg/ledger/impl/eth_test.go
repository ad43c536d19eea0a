package impl

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"github.com/textileio/go-tradesubmit/pkg/ledger"
	"github.com/textileio/go-tradesubmit/pkg/txn"
	"github.com/textileio/go-tradesubmit/tests"
)

func TestEthLedger(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	chain := tests.NewSimulatedChain(t)
	key := chain.CreateAccountWithBalance(t)
	addr := tests.Address(key)
	l := NewEthLedger(chain.Backend)

	balance, err := l.Balance(ctx, addr)
	require.NoError(t, err)
	require.Equal(t, 0, balance.Cmp(big.NewInt(1000000000000000000)))

	count, err := l.TransactionCount(ctx, addr)
	require.NoError(t, err)
	require.Equal(t, uint64(0), count)

	levels, err := l.FeeLevels(ctx)
	require.NoError(t, err)
	require.True(t, levels.Slow.Cmp(levels.Normal) <= 0)
	require.True(t, levels.Normal.Cmp(levels.Fast) <= 0)

	env := txn.Envelope{
		ChainID:  big.NewInt(chain.ChainID),
		From:     addr,
		To:       common.HexToAddress("0x000000000000000000000000000000000000dEaD"),
		Value:    big.NewInt(1),
		Nonce:    count,
		Fee:      txn.FeeBid{GasFeeCap: levels.Normal, GasTipCap: levels.Tip},
		GasLimit: 21000,
	}
	sig, err := crypto.Sign(env.SigningHash().Bytes(), key)
	require.NoError(t, err)
	signed, err := env.Seal(sig)
	require.NoError(t, err)
	raw, err := signed.MarshalBinary()
	require.NoError(t, err)

	hash, err := l.SendRaw(ctx, raw)
	require.NoError(t, err)
	require.Equal(t, signed.Hash(), hash)

	// Known by the node, not included yet.
	receipt, err := l.Receipt(ctx, hash)
	require.NoError(t, err)
	require.False(t, receipt.Included)

	pending, err := l.TransactionCount(ctx, addr)
	require.NoError(t, err)
	require.Equal(t, uint64(1), pending)
	confirmed, err := l.ConfirmedTransactionCount(ctx, addr)
	require.NoError(t, err)
	require.Equal(t, uint64(0), confirmed)

	chain.Backend.Commit()
	receipt, err = l.Receipt(ctx, hash)
	require.NoError(t, err)
	require.True(t, receipt.Included)
	require.Equal(t, uint64(1), receipt.Depth)
	require.False(t, receipt.Reverted)

	chain.CommitBlocks(2)
	receipt, err = l.Receipt(ctx, hash)
	require.NoError(t, err)
	require.Equal(t, uint64(3), receipt.Depth)

	// Sending the same nonce again is a nonce conflict.
	_, err = l.SendRaw(ctx, raw)
	require.ErrorIs(t, err, txn.ErrNonceConflict)

	_, err = l.Receipt(ctx, common.HexToHash("0x01"))
	require.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestEthLedgerSendRawGarbage(t *testing.T) {
	t.Parallel()

	chain := tests.NewSimulatedChain(t)
	l := NewEthLedger(chain.Backend)

	_, err := l.SendRaw(context.Background(), []byte{0x01, 0x02})
	require.ErrorIs(t, err, txn.ErrInvalidRequest)
}

func TestClassifySendError(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		msg  string
		want error
	}{
		{"nonce too low", txn.ErrNonceConflict},
		{"invalid transaction nonce: got 1, want 2", txn.ErrNonceConflict},
		{"replacement transaction underpriced", txn.ErrUnderpriced},
		{"transaction underpriced", txn.ErrUnderpriced},
		{"max fee per gas less than block base fee", txn.ErrUnderpriced},
		{"insufficient funds for gas * price + value", txn.ErrInvalidRequest},
		{"intrinsic gas too low", txn.ErrInvalidRequest},
		{"connection refused", txn.ErrBroadcastFailure},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.msg, func(t *testing.T) {
			t.Parallel()
			err := ClassifySendError(errors.New(tc.msg))
			require.ErrorIs(t, err, tc.want)
			require.Contains(t, err.Error(), tc.msg)
		})
	}
}
