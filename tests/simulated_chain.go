package tests

import (
	"context"
	"crypto/ecdsa"
	"math"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/abi/bind/backends"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

// SimulatedChain is a simulated Ethereum backend with a funded account.
type SimulatedChain struct {
	ChainID int64
	Backend *backends.SimulatedBackend

	// funder info
	FunderPrivateKey   *ecdsa.PrivateKey
	FunderTransactOpts *bind.TransactOpts
}

// NewSimulatedChain creates a new simulated chain.
func NewSimulatedChain(t *testing.T) *SimulatedChain {
	c := &SimulatedChain{
		ChainID: 1337,
	}

	c.bootstrap(t)
	t.Cleanup(func() {
		_ = c.Backend.Close()
	})
	return c
}

func (c *SimulatedChain) bootstrap(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	transactOpts, err := bind.NewKeyedTransactorWithChainID(key, big.NewInt(c.ChainID)) // nolint
	require.NoError(t, err)

	alloc := make(core.GenesisAlloc)
	alloc[transactOpts.From] = core.GenesisAccount{Balance: big.NewInt(math.MaxInt64)}
	backend := backends.NewSimulatedBackend(alloc, 30_000_000)

	c.Backend = backend
	c.FunderPrivateKey = key
	c.FunderTransactOpts = transactOpts
}

// CreateAccountWithBalance creates a new account inside the simulated backend with balance and returns the private key.
func (c *SimulatedChain) CreateAccountWithBalance(t *testing.T) *ecdsa.PrivateKey {
	ctx := context.Background()

	nonce, err := c.Backend.PendingNonceAt(ctx, c.FunderTransactOpts.From)
	require.NoError(t, err)
	tip, err := c.Backend.SuggestGasTipCap(ctx)
	require.NoError(t, err)
	head, err := c.Backend.HeaderByNumber(ctx, nil)
	require.NoError(t, err)

	// generate random key
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	to := crypto.PubkeyToAddress(key.PublicKey)

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(c.ChainID),
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: new(big.Int).Add(new(big.Int).Mul(head.BaseFee, big.NewInt(2)), tip),
		Gas:       21000,
		To:        &to,
		Value:     big.NewInt(1000000000000000000),
	})
	signedTx, err := types.SignTx(tx, types.NewLondonSigner(big.NewInt(c.ChainID)), c.FunderPrivateKey)
	require.NoError(t, err)

	require.NoError(t, c.Backend.SendTransaction(ctx, signedTx))
	c.Backend.Commit()

	receipt, err := c.Backend.TransactionReceipt(ctx, signedTx.Hash())
	require.NoError(t, err)
	require.NotNil(t, receipt)

	return key
}

// Address returns the address of the given key.
func Address(key *ecdsa.PrivateKey) common.Address {
	return crypto.PubkeyToAddress(key.PublicKey)
}

// CommitBlocks mines n empty blocks.
func (c *SimulatedChain) CommitBlocks(n int) {
	for i := 0; i < n; i++ {
		c.Backend.Commit()
	}
}
