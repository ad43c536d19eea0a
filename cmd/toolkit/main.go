package main

import (
	"github.com/spf13/cobra"
)

var cliName = "toolkit"

var rootCmd = &cobra.Command{
	Use:   cliName,
	Short: "toolkit is CLI for trade submitter operators",
	Long:  `toolkit is CLI for trade submitter operators executing mundane tasks`,
	Args:  cobra.ExactArgs(0),
}

func main() {
	rootCmd.Execute() //nolint
}

func init() {
	rootCmd.AddCommand(walletCmd)
	rootCmd.AddCommand(abiCmd)
	rootCmd.AddCommand(gasBumpCmd)
	rootCmd.AddCommand(tradeCmd)

	walletCreateCmd.Flags().String("filename", "privatekey.hex", "Filename to store hex representation of private key")
	walletCmd.AddCommand(walletCreateCmd)
	walletCmd.AddCommand(walletAddressCmd)

	abiEncodeCmd.Flags().String("abi", "", "path to the contract ABI JSON file")
	abiCmd.AddCommand(abiEncodeCmd)

	gasBumpCmd.Flags().String("privatekey", "", "the private key that signed the stuck transaction")
	gasBumpCmd.Flags().String("gateway", "", "URL of an Ethereum node API (i.e: Alchemy/Infura)")
	gasBumpCmd.Flags().String("urgency", "fast", "urgency tier of the replacement (slow, normal or fast)")
	gasBumpCmd.Flags().Int64("bump-percent", 110, "minimum increase over the stuck fee caps, in percent")
	gasBumpCmd.Flags().Bool("cancel", false, "replace the stuck transaction with a no-op self transfer")

	tradeCmd.PersistentFlags().String("endpoint", "http://localhost:8080", "URL of the trade submitter API")
	tradeSubmitCmd.Flags().String("id", "", "request id, generated by the server when empty")
	tradeSubmitCmd.Flags().String("from", "", "sending account")
	tradeSubmitCmd.Flags().String("to", "", "destination contract")
	tradeSubmitCmd.Flags().String("method", "", "contract method, encoded by the server with its ABI")
	tradeSubmitCmd.Flags().StringSlice("param", nil, "method parameter, repeatable")
	tradeSubmitCmd.Flags().String("data", "", "hex encoded call data, selector followed by the arguments")
	tradeSubmitCmd.Flags().String("value", "", "value in wei")
	tradeSubmitCmd.Flags().String("urgency", "normal", "urgency tier (slow, normal or fast)")
	tradeSubmitCmd.Flags().String("deadline", "", "deadline, e.g. 5m")
	tradeCmd.AddCommand(tradeSubmitCmd)
	tradeCmd.AddCommand(tradeGetCmd)
	tradeCmd.AddCommand(tradeSpeedUpCmd)
	tradeCmd.AddCommand(tradeCancelCmd)
}
