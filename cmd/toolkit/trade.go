package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"github.com/textileio/go-tradesubmit/internal/router/controllers"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var tradeCmd = &cobra.Command{
	Use:   "trade",
	Short: "Talks to a running trade submitter",
	Long:  `Submits and tracks trades through the HTTP API of a running trade submitter`,
	Args:  cobra.ExactArgs(1),
}

var tradeSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submits a trade",
	Long:  `Submits a trade and prints the resulting record`,
	Args:  cobra.ExactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		id, _ := flags.GetString("id")
		from, _ := flags.GetString("from")
		to, _ := flags.GetString("to")
		method, _ := flags.GetString("method")
		params, _ := flags.GetStringSlice("param")
		data, _ := flags.GetString("data")
		value, _ := flags.GetString("value")
		urgency, _ := flags.GetString("urgency")
		deadline, _ := flags.GetString("deadline")

		if !common.IsHexAddress(from) || !common.IsHexAddress(to) {
			return errors.New("from and to must be hex addresses")
		}
		req := controllers.TradeRequest{
			ID:       id,
			From:     common.HexToAddress(from),
			To:       common.HexToAddress(to),
			Method:   method,
			Params:   params,
			Value:    value,
			Urgency:  urgency,
			Deadline: deadline,
		}
		if data != "" {
			raw, err := hexutil.Decode(data)
			if err != nil {
				return fmt.Errorf("decoding data: %s", err)
			}
			if req.Selector, req.Args, err = splitCallData(raw); err != nil {
				return err
			}
		}

		body, err := json.Marshal(req)
		if err != nil {
			return fmt.Errorf("marshaling request: %s", err)
		}
		return call(cmd, http.MethodPost, "/api/v1/trades", body)
	},
}

var tradeGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Prints the record of a trade",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(cmd, http.MethodGet, "/api/v1/trades/"+url.PathEscape(args[0]), nil)
	},
}

var tradeSpeedUpCmd = &cobra.Command{
	Use:   "speedup <id>",
	Short: "Re-bids a pending trade",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(cmd, http.MethodPost, "/api/v1/trades/"+url.PathEscape(args[0])+"/speedup", nil)
	},
}

var tradeCancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancels a pending trade",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(cmd, http.MethodPost, "/api/v1/trades/"+url.PathEscape(args[0])+"/cancel", nil)
	},
}

// splitCallData splits call data the way contract.EncodeCall shapes a call.
// A bare selector is the whole payload and leaves Selector empty.
func splitCallData(raw []byte) ([]byte, []byte, error) {
	switch {
	case len(raw) < 4:
		return nil, nil, errors.New("data must start with a 4 bytes selector")
	case len(raw) == 4:
		return nil, raw, nil
	default:
		return raw[:4], raw[4:], nil
	}
}

func call(cmd *cobra.Command, method, path string, body []byte) error {
	endpoint, err := cmd.Flags().GetString("endpoint")
	if err != nil {
		return errors.New("failed to parse endpoint")
	}
	req, err := http.NewRequestWithContext(cmd.Context(), method, strings.TrimSuffix(endpoint, "/")+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %s", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %s", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %s", err)
	}
	var pretty bytes.Buffer
	if err := jsonIndent(&pretty, out); err != nil {
		pretty.Reset()
		pretty.Write(out)
	}
	fmt.Println(pretty.String())
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("server replied %s", resp.Status)
	}
	return nil
}

func jsonIndent(dst *bytes.Buffer, src []byte) error {
	var v interface{}
	if err := json.Unmarshal(src, &v); err != nil {
		return err
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	dst.Write(b)
	return nil
}
