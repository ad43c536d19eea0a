package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/spf13/cobra"
	"github.com/textileio/go-tradesubmit/pkg/fees"
	feesimpl "github.com/textileio/go-tradesubmit/pkg/fees/impl"
	ledgerimpl "github.com/textileio/go-tradesubmit/pkg/ledger/impl"
	"github.com/textileio/go-tradesubmit/pkg/txn"
	"github.com/textileio/go-tradesubmit/pkg/wallet"
)

var gasBumpCmd = &cobra.Command{
	Use:   "gasbump <hash>",
	Short: "Bumps the fee of a stuck transaction",
	Long: `Bumps the fee of a stuck transaction sent outside of the trade submitter.
The replacement keeps the nonce of the stuck transaction and outbids it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		privateKey, err := cmd.Flags().GetString("privatekey")
		if err != nil {
			return errors.New("failed to parse privatekey")
		}
		gatewayEndpoint, err := cmd.Flags().GetString("gateway")
		if err != nil {
			return errors.New("failed to parse gateway")
		}
		urgencyFlag, err := cmd.Flags().GetString("urgency")
		if err != nil {
			return errors.New("failed to parse urgency")
		}
		urgency, err := txn.ParseUrgency(urgencyFlag)
		if err != nil {
			return err
		}
		bumpPercent, err := cmd.Flags().GetInt64("bump-percent")
		if err != nil {
			return errors.New("failed to parse bump-percent")
		}
		cancel, err := cmd.Flags().GetBool("cancel")
		if err != nil {
			return errors.New("failed to parse cancel")
		}

		w, err := wallet.NewWallet(privateKey)
		if err != nil {
			return err
		}
		conn, err := ethclient.Dial(gatewayEndpoint)
		if err != nil {
			return fmt.Errorf("failed to connect to ethereum endpoint: %s", err)
		}
		defer conn.Close()

		newTxnHash, err := bumpTxnFee(cmd.Context(), conn, w, common.HexToHash(args[0]), urgency, bumpPercent, cancel)
		if err != nil {
			return fmt.Errorf("bumping txn fee: %s", err)
		}
		fmt.Printf("The new transaction hash is: %s\n", newTxnHash)

		return nil
	},
}

func bumpTxnFee(
	ctx context.Context,
	conn *ethclient.Client,
	w *wallet.Wallet,
	stuckTxnHash common.Hash,
	urgency txn.Urgency,
	bumpPercent int64,
	cancel bool,
) (common.Hash, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	pendingTxn, isPending, err := conn.TransactionByHash(ctx, stuckTxnHash)
	if err != nil {
		return common.Hash{}, fmt.Errorf("get pending txn from the mempool: %s", err)
	}
	if !isPending {
		return common.Hash{}, fmt.Errorf("the transaction hash %s isn't pending", stuckTxnHash)
	}
	if pendingTxn.To() == nil {
		return common.Hash{}, errors.New("contract creations can't be bumped")
	}
	chainID, err := conn.ChainID(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("get chain id: %s", err)
	}
	sender, err := types.Sender(types.LatestSignerForChainID(chainID), pendingTxn)
	if err != nil {
		return common.Hash{}, fmt.Errorf("recovering sender: %s", err)
	}
	if sender != w.Address() {
		return common.Hash{}, fmt.Errorf("transaction sent by %s, key belongs to %s", sender.Hex(), w.Address().Hex())
	}

	l := ledgerimpl.NewEthLedger(conn)
	estimator, err := feesimpl.NewEstimator(l, fees.WithBumpPercent(bumpPercent))
	if err != nil {
		return common.Hash{}, fmt.Errorf("creating estimator: %s", err)
	}

	// Legacy transactions report their gas price as both caps.
	stuck := txn.Envelope{
		ChainID: chainID,
		From:    sender,
		To:      *pendingTxn.To(),
		Value:   pendingTxn.Value(),
		Data:    pendingTxn.Data(),
		Nonce:   pendingTxn.Nonce(),
		Fee: txn.FeeBid{
			GasFeeCap: pendingTxn.GasFeeCap(),
			GasTipCap: pendingTxn.GasTipCap(),
		},
		GasLimit: pendingTxn.Gas(),
	}
	bid, err := estimator.Estimate(ctx, urgency, &stuck.Fee)
	if err != nil {
		return common.Hash{}, fmt.Errorf("estimating replacement fee: %s", err)
	}

	builder := txn.NewBuilder(chainID, stuck.GasLimit)
	next := builder.Replacement(stuck, bid)
	if cancel {
		next = builder.Cancellation(stuck, bid)
	}
	fmt.Printf("Current txn fee: %s\n", stuck.Fee)
	fmt.Printf("**New fee: %s**\n", next.Fee)

	sig, err := w.Sign(next)
	if err != nil {
		return common.Hash{}, err
	}
	signed, err := next.Seal(sig)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sealing replacement: %s", err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return common.Hash{}, fmt.Errorf("encoding replacement: %s", err)
	}

	return l.SendRaw(ctx, raw)
}
