package controllers

import (
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"github.com/textileio/go-tradesubmit/pkg/contract"
	"github.com/textileio/go-tradesubmit/pkg/pipeline"
	"github.com/textileio/go-tradesubmit/pkg/txn"
)

// TradeRequest is the body of a trade submission.
//
// The call is either given already encoded, with Selector and Args, or as a
// Method of the configured contract ABI with its Params in string form.
type TradeRequest struct {
	ID       string         `json:"id"`
	From     common.Address `json:"from"`
	KeyRef   string         `json:"key_ref"`
	To       common.Address `json:"to"`
	Selector hexutil.Bytes  `json:"selector"`
	Args     hexutil.Bytes  `json:"args"`
	Method   string         `json:"method"`
	Params   []string       `json:"params"`
	Value    string         `json:"value"`
	Urgency  string         `json:"urgency"`
	GasLimit uint64         `json:"gas_limit"`
	Deadline string         `json:"deadline"`
}

// AccountResponse is the ledger view of an account. Address is checksummed.
type AccountResponse struct {
	Address string `json:"address"`
	Nonce   uint64         `json:"nonce"`
	Balance string         `json:"balance"`
}

// TradeController defines the HTTP handlers for submitting and tracking trades.
type TradeController struct {
	pipeline    pipeline.Pipeline
	contractABI *abi.ABI
}

// NewTradeController creates a new TradeController. contractABI may be nil,
// requests must then carry encoded calls.
func NewTradeController(p pipeline.Pipeline, contractABI *abi.ABI) *TradeController {
	return &TradeController{
		pipeline:    p,
		contractABI: contractABI,
	}
}

// Submit handles POST /api/v1/trades.
func (c *TradeController) Submit(rw http.ResponseWriter, r *http.Request) {
	var body TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		badRequest(rw, fmt.Sprintf("decoding request: %s", err))
		return
	}
	req, err := c.tradeRequest(body)
	if err != nil {
		writeError(rw, r, err, nil)
		return
	}

	rec, err := c.pipeline.Submit(r.Context(), req)
	if err != nil {
		writeError(rw, r, err, rec)
		return
	}
	log.Ctx(r.Context()).Info().
		Str("record", rec.ID).
		Str("hash", rec.Hash.Hex()).
		Msg("trade accepted")
	writeJSON(rw, http.StatusAccepted, rec)
}

// Get handles GET /api/v1/trades/{id}.
func (c *TradeController) Get(rw http.ResponseWriter, r *http.Request) {
	rec, err := c.pipeline.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(rw, r, err, nil)
		return
	}
	writeJSON(rw, http.StatusOK, rec)
}

// SpeedUp handles POST /api/v1/trades/{id}/speedup.
func (c *TradeController) SpeedUp(rw http.ResponseWriter, r *http.Request) {
	rec, err := c.pipeline.SpeedUp(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(rw, r, err, rec)
		return
	}
	writeJSON(rw, http.StatusOK, rec)
}

// Cancel handles POST /api/v1/trades/{id}/cancel.
func (c *TradeController) Cancel(rw http.ResponseWriter, r *http.Request) {
	rec, err := c.pipeline.Cancel(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(rw, r, err, rec)
		return
	}
	writeJSON(rw, http.StatusOK, rec)
}

// Unwatch handles POST /api/v1/trades/{id}/unwatch.
func (c *TradeController) Unwatch(rw http.ResponseWriter, r *http.Request) {
	rec, err := c.pipeline.Unwatch(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(rw, r, err, rec)
		return
	}
	writeJSON(rw, http.StatusOK, rec)
}

// Events handles GET /api/v1/trades/{id}/events, a server-sent events stream
// with the record on every state change. The stream ends after the terminal state.
func (c *TradeController) Events(rw http.ResponseWriter, r *http.Request) {
	flusher, ok := rw.(http.Flusher)
	if !ok {
		writeJSON(rw, http.StatusInternalServerError, map[string]string{"message": "streaming unsupported"})
		return
	}
	updates, err := c.pipeline.Subscribe(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(rw, r, err, nil)
		return
	}

	rw.Header().Set("Content-Type", "text/event-stream")
	rw.Header().Set("Cache-Control", "no-cache")
	rw.Header().Set("Connection", "keep-alive")
	rw.WriteHeader(http.StatusOK)
	flusher.Flush()

	for rec := range updates {
		data, err := json.Marshal(rec)
		if err != nil {
			log.Ctx(r.Context()).Error().Err(err).Msg("encoding record event")
			return
		}
		if _, err := fmt.Fprintf(rw, "event: %s\ndata: %s\n\n", rec.State, data); err != nil {
			return
		}
		flusher.Flush()
	}
}

// Account handles GET /api/v1/accounts/{address}.
func (c *TradeController) Account(rw http.ResponseWriter, r *http.Request) {
	addr := common.HexToAddress(mux.Vars(r)["address"])
	acc, err := c.pipeline.Account(r.Context(), addr)
	if err != nil {
		writeError(rw, r, err, nil)
		return
	}
	writeJSON(rw, http.StatusOK, AccountResponse{
		Address: acc.Address.Hex(),
		Nonce:   acc.Nonce,
		Balance: acc.Balance.String(),
	})
}

// Abandon handles POST /api/v1/accounts/{address}/nonces/{nonce}/abandon.
func (c *TradeController) Abandon(rw http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	addr := common.HexToAddress(vars["address"])
	n, err := strconv.ParseUint(vars["nonce"], 10, 64)
	if err != nil {
		badRequest(rw, "invalid nonce in path")
		return
	}
	if err := c.pipeline.Abandon(r.Context(), addr, n); err != nil {
		writeError(rw, r, err, nil)
		return
	}
	log.Ctx(r.Context()).Warn().
		Str("account", addr.Hex()).
		Uint64("nonce", n).
		Msg("nonce abandoned")
	rw.WriteHeader(http.StatusNoContent)
}

func (c *TradeController) tradeRequest(body TradeRequest) (txn.TradeRequest, error) {
	req := txn.TradeRequest{
		ID:       body.ID,
		From:     body.From,
		KeyRef:   body.KeyRef,
		To:       body.To,
		Selector: body.Selector,
		Args:     body.Args,
		GasLimit: body.GasLimit,
	}

	urgency, err := txn.ParseUrgency(body.Urgency)
	if err != nil {
		return txn.TradeRequest{}, err
	}
	req.Urgency = urgency

	if body.Method != "" {
		if c.contractABI == nil {
			return txn.TradeRequest{}, fmt.Errorf("no contract abi configured for method %s: %w", body.Method, txn.ErrInvalidRequest)
		}
		if len(body.Selector) > 0 || len(body.Args) > 0 {
			return txn.TradeRequest{}, fmt.Errorf("method and encoded call are exclusive: %w", txn.ErrInvalidRequest)
		}
		call, err := contract.EncodeCallStrings(*c.contractABI, body.Method, body.Params)
		if err != nil {
			return txn.TradeRequest{}, err
		}
		req.Selector, req.Args = call.Selector, call.Args
	}

	if body.Value != "" {
		value, ok := new(big.Int).SetString(body.Value, 10)
		if !ok {
			return txn.TradeRequest{}, fmt.Errorf("invalid value %q: %w", body.Value, txn.ErrInvalidRequest)
		}
		req.Value = value
	}
	if body.Deadline != "" {
		deadline, err := time.ParseDuration(body.Deadline)
		if err != nil {
			return txn.TradeRequest{}, fmt.Errorf("invalid deadline %q: %w", body.Deadline, txn.ErrInvalidRequest)
		}
		req.Deadline = deadline
	}
	return req, nil
}
