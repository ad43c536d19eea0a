package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
	"github.com/textileio/go-tradesubmit/pkg/wallet"
)

var walletCmd = &cobra.Command{
	Use:   "wallet",
	Short: "Offers wallet utilites",
	Long:  `Offers wallet utilites`,
	Args:  cobra.ExactArgs(1),
}

var walletCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Creates an ETH wallet",
	Long:  `Creates an ETH wallet usable as a signing key of the trade submitter`,
	Args:  cobra.ExactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		filename, err := cmd.Flags().GetString("filename")
		if err != nil {
			return errors.New("failed to parse filename")
		}
		privateKey, err := crypto.GenerateKey()
		if err != nil {
			return fmt.Errorf("generate key: %s", err)
		}

		if err := os.WriteFile(filename, []byte(hexutil.Encode(crypto.FromECDSA(privateKey))[2:]), 0o600); err != nil {
			return fmt.Errorf("writing to file %s: %s", filename, err)
		}
		w := wallet.FromKey(privateKey)

		fmt.Printf("Wallet address %s created\n", w.Address())
		fmt.Printf("Key reference %s\n", w.KeyRef())
		fmt.Printf("Private key saved in %s\n", filename)

		return nil
	},
}

var walletAddressCmd = &cobra.Command{
	Use:   "address",
	Short: "Returns address of ETH wallet",
	Long:  `Returns address and key reference of ETH wallet`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := wallet.NewWallet(args[0])
		if err != nil {
			return fmt.Errorf("decode key: %s", err)
		}

		fmt.Printf("Wallet address %s\n", w.Address())
		fmt.Printf("Key reference %s\n", w.KeyRef())

		return nil
	},
}
