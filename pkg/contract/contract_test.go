package contract

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"github.com/textileio/go-tradesubmit/pkg/txn"
)

const futuresABI = `[
	{"type":"function","name":"openPosition","inputs":[],"outputs":[],"stateMutability":"payable"},
	{"type":"function","name":"openLeveraged","inputs":[
		{"name":"market","type":"address"},
		{"name":"leverage","type":"uint8"},
		{"name":"size","type":"uint256"},
		{"name":"long","type":"bool"}
	],"outputs":[],"stateMutability":"payable"}
]`

func TestEncodeCallWithoutInputs(t *testing.T) {
	t.Parallel()

	parsed, err := ParseABI(futuresABI)
	require.NoError(t, err)

	call, err := EncodeCall(parsed, "openPosition")
	require.NoError(t, err)
	require.Empty(t, call.Selector)
	require.Equal(t, crypto.Keccak256([]byte("openPosition()"))[:4], call.Args)
	require.Equal(t, call.Args, call.Data())
}

func TestEncodeCallStrings(t *testing.T) {
	t.Parallel()

	parsed, err := ParseABI(futuresABI)
	require.NoError(t, err)

	market := "0x000000000000000000000000000000000000bEEF"
	call, err := EncodeCallStrings(parsed, "openLeveraged", []string{market, "5", "100000000000000000", "true"})
	require.NoError(t, err)
	require.Equal(t, crypto.Keccak256([]byte("openLeveraged(address,uint8,uint256,bool)"))[:4], call.Selector)
	require.Len(t, call.Args, 4*32)

	expected, err := EncodeCall(parsed, "openLeveraged",
		common.HexToAddress(market), uint8(5), big.NewInt(100000000000000000), true)
	require.NoError(t, err)
	require.Equal(t, expected, call)

	// The call fits a trade request.
	req := txn.TradeRequest{
		From:     common.HexToAddress("0x01"),
		To:       common.HexToAddress("0x02"),
		Selector: call.Selector,
		Args:     call.Args,
	}
	require.NoError(t, txn.Validate(req, txn.Account{}))
}

func TestEncodeCallErrors(t *testing.T) {
	t.Parallel()

	parsed, err := ParseABI(futuresABI)
	require.NoError(t, err)

	_, err = EncodeCall(parsed, "closePosition")
	require.ErrorIs(t, err, txn.ErrInvalidRequest)

	_, err = EncodeCallStrings(parsed, "openLeveraged", []string{"0x01"})
	require.ErrorIs(t, err, txn.ErrInvalidRequest)

	_, err = EncodeCallStrings(parsed, "openLeveraged", []string{"nope", "5", "1", "true"})
	require.ErrorIs(t, err, txn.ErrInvalidRequest)

	_, err = EncodeCallStrings(parsed, "openLeveraged",
		[]string{"0x000000000000000000000000000000000000bEEF", "300", "1", "true"})
	require.ErrorIs(t, err, txn.ErrInvalidRequest)
}

func TestLoadABI(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "abi.json")
	require.NoError(t, os.WriteFile(path, []byte(futuresABI), 0o600))

	parsed, err := LoadABI(path)
	require.NoError(t, err)
	require.Contains(t, parsed.Methods, "openPosition")

	_, err = LoadABI(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}
