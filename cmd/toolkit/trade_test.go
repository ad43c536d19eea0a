package main

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/require"
	"github.com/textileio/go-tradesubmit/pkg/txn"
)

func TestSplitCallData(t *testing.T) {
	t.Parallel()

	account := txn.Account{Address: common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")}
	to := common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

	testCases := []struct {
		name     string
		data     string
		selector string
		args     string
	}{
		{name: "no arguments", data: "0x8d7be70f", selector: "0x", args: "0x8d7be70f"},
		{name: "with arguments", data: "0xa9059cbb0000000000000000000000000000000000000000000000000000000000000001", selector: "0xa9059cbb", args: "0x0000000000000000000000000000000000000000000000000000000000000001"}, // nolint
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			selector, args, err := splitCallData(hexutil.MustDecode(tc.data))
			require.NoError(t, err)
			require.Equal(t, tc.selector, hexutil.Encode(selector))
			require.Equal(t, tc.args, hexutil.Encode(args))

			req := txn.TradeRequest{From: account.Address, To: to, Selector: selector, Args: args}
			require.NoError(t, txn.Validate(req, account))
			require.Equal(t, tc.data, hexutil.Encode(req.Data()))
		})
	}

	_, _, err := splitCallData([]byte{0x8d, 0x7b})
	require.Error(t, err)
}
