package main

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"
	"github.com/textileio/go-tradesubmit/pkg/contract"
)

var abiCmd = &cobra.Command{
	Use:   "abi",
	Short: "Offers contract ABI utilities",
	Long:  `Offers contract ABI utilities`,
	Args:  cobra.ExactArgs(1),
}

var abiEncodeCmd = &cobra.Command{
	Use:   "encode <method> [args...]",
	Short: "Encodes a contract call",
	Long:  `Encodes a contract call and prints its selector, arguments and call data`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := cmd.Flags().GetString("abi")
		if err != nil || path == "" {
			return errors.New("failed to parse abi")
		}
		contractABI, err := contract.LoadABI(path)
		if err != nil {
			return err
		}
		call, err := contract.EncodeCallStrings(contractABI, args[0], args[1:])
		if err != nil {
			return err
		}

		fmt.Printf("selector: %s\n", hexutil.Encode(call.Selector))
		fmt.Printf("args:     %s\n", hexutil.Encode(call.Args))
		fmt.Printf("data:     %s\n", hexutil.Encode(call.Data()))

		return nil
	},
}
