package controllers

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"
	"github.com/textileio/go-tradesubmit/pkg/contract"
	"github.com/textileio/go-tradesubmit/pkg/nonce"
	"github.com/textileio/go-tradesubmit/pkg/pipeline"
	"github.com/textileio/go-tradesubmit/pkg/txn"
)

var (
	from     = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	exchange = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
)

const futuresABI = `[
	{"type":"function","name":"openPosition","inputs":[],"outputs":[],"stateMutability":"nonpayable"},
	{"type":"function","name":"openLeveraged","inputs":[
		{"name":"market","type":"address"},
		{"name":"leverage","type":"uint8"},
		{"name":"size","type":"uint256"},
		{"name":"long","type":"bool"}
	],"outputs":[],"stateMutability":"nonpayable"}
]`

func TestSubmit(t *testing.T) {
	t.Parallel()

	p := &pipelineMock{}
	router := newRouter(t, p)

	body := fmt.Sprintf(`{
		"id": "t-1",
		"from": "%s",
		"to": "%s",
		"selector": "0x8d7be70f",
		"args": "0x0000000000000000000000000000000000000000000000000000000000000001",
		"value": "1000",
		"urgency": "fast",
		"deadline": "2m"
	}`, from.Hex(), exchange.Hex())
	rr := serve(t, router, http.MethodPost, "/api/v1/trades", body)
	require.Equal(t, http.StatusAccepted, rr.Code)

	require.Len(t, p.submitted, 1)
	req := p.submitted[0]
	require.Equal(t, "t-1", req.ID)
	require.Equal(t, from, req.From)
	require.Equal(t, exchange, req.To)
	require.Equal(t, []byte{0x8d, 0x7b, 0xe7, 0x0f}, []byte(req.Selector))
	require.Len(t, req.Args, 32)
	require.Equal(t, 0, req.Value.Cmp(big.NewInt(1000)))
	require.Equal(t, txn.UrgencyFast, req.Urgency)
	require.Equal(t, "2m0s", req.Deadline.String())

	var rec txn.Record
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rec))
	require.Equal(t, "t-1", rec.ID)
	require.Equal(t, txn.StatePending, rec.State)
}

func TestSubmitABIMethod(t *testing.T) {
	t.Parallel()

	p := &pipelineMock{}
	router := newRouter(t, p)

	body := fmt.Sprintf(`{
		"from": "%s",
		"to": "%s",
		"method": "openLeveraged",
		"params": ["%s", "10", "5000", "true"]
	}`, from.Hex(), exchange.Hex(), exchange.Hex())
	rr := serve(t, router, http.MethodPost, "/api/v1/trades", body)
	require.Equal(t, http.StatusAccepted, rr.Code)

	require.Len(t, p.submitted, 1)
	req := p.submitted[0]
	require.Len(t, req.Selector, txn.SelectorLength)
	require.Len(t, req.Args, 4*32)
	require.Equal(t, txn.UrgencyNormal, req.Urgency)

	rr = serve(t, router, http.MethodPost, "/api/v1/trades", fmt.Sprintf(`{
		"from": "%s",
		"to": "%s",
		"method": "closePosition"
	}`, from.Hex(), exchange.Hex()))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSubmitBadRequests(t *testing.T) {
	t.Parallel()

	p := &pipelineMock{}
	router := newRouter(t, p)

	testCases := []struct {
		name string
		body string
	}{
		{name: "not json", body: `{`},
		{name: "bad value", body: `{"value": "ten"}`},
		{name: "bad deadline", body: `{"deadline": "soon"}`},
		{name: "bad urgency", body: `{"urgency": "asap"}`},
		{name: "method and selector", body: `{"method": "openPosition", "selector": "0x8d7be70f"}`},
	}
	for _, tc := range testCases {
		rr := serve(t, router, http.MethodPost, "/api/v1/trades", tc.body)
		require.Equal(t, http.StatusBadRequest, rr.Code, tc.name)
	}
	require.Empty(t, p.submitted)
}

func TestErrorStatus(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		err    error
		status int
	}{
		{err: txn.ErrInvalidRequest, status: http.StatusBadRequest},
		{err: pipeline.ErrRecordNotFound, status: http.StatusNotFound},
		{err: nonce.ErrNotOutstanding, status: http.StatusNotFound},
		{err: pipeline.ErrNotPending, status: http.StatusConflict},
		{err: nonce.ErrNonceGap, status: http.StatusConflict},
		{err: txn.ErrNonceConflict, status: http.StatusConflict},
		{err: txn.ErrFeeCapExceeded, status: http.StatusUnprocessableEntity},
		{err: txn.ErrSignerUnavailable, status: http.StatusServiceUnavailable},
		{err: txn.ErrBroadcastFailure, status: http.StatusBadGateway},
		{err: fmt.Errorf("boom"), status: http.StatusInternalServerError},
	}
	for _, tc := range testCases {
		wrapped := fmt.Errorf("submitting: %w", tc.err)
		p := &pipelineMock{err: wrapped}
		router := newRouter(t, p)

		rr := serve(t, router, http.MethodPost, "/api/v1/trades/t-1/speedup", "")
		require.Equal(t, tc.status, rr.Code, tc.err.Error())
		require.Contains(t, rr.Body.String(), `"message"`)
	}
}

func TestSubmitFailedRecord(t *testing.T) {
	t.Parallel()

	p := &pipelineMock{err: fmt.Errorf("estimating fees: %w", txn.ErrFeeCapExceeded)}
	router := newRouter(t, p)

	body := fmt.Sprintf(`{"id": "t-1", "from": "%s", "to": "%s"}`, from.Hex(), exchange.Hex())
	rr := serve(t, router, http.MethodPost, "/api/v1/trades", body)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	var got struct {
		Message string `json:"message"`
		Reason  string `json:"reason"`
		ID      string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.Equal(t, "t-1", got.ID)
	require.Equal(t, string(txn.ReasonFeeCapExceeded), got.Reason)
	require.Contains(t, got.Message, "fee cap exceeded")
}

func TestGetAndActions(t *testing.T) {
	t.Parallel()

	p := &pipelineMock{}
	router := newRouter(t, p)

	rr := serve(t, router, http.MethodGet, "/api/v1/trades/t-1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"id":"t-1"`)

	for _, action := range []string{"speedup", "cancel", "unwatch"} {
		rr = serve(t, router, http.MethodPost, "/api/v1/trades/t-1/"+action, "")
		require.Equal(t, http.StatusOK, rr.Code, action)
	}
	require.Equal(t, []string{"speedup", "cancel", "unwatch"}, p.actions)

	p.err = pipeline.ErrRecordNotFound
	rr = serve(t, router, http.MethodGet, "/api/v1/trades/t-2", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestEvents(t *testing.T) {
	t.Parallel()

	p := &pipelineMock{}
	router := newRouter(t, p)

	rr := serve(t, router, http.MethodGet, "/api/v1/trades/t-1/events", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "text/event-stream", rr.Header().Get("Content-Type"))

	events := strings.Split(strings.TrimSpace(rr.Body.String()), "\n\n")
	require.Len(t, events, 2)
	require.True(t, strings.HasPrefix(events[0], "event: pending\ndata: {"))
	require.True(t, strings.HasPrefix(events[1], "event: confirmed\ndata: {"))
}

func TestAccountAndAbandon(t *testing.T) {
	t.Parallel()

	p := &pipelineMock{}
	router := newRouter(t, p)

	rr := serve(t, router, http.MethodGet, "/api/v1/accounts/"+from.Hex(), "")
	require.Equal(t, http.StatusOK, rr.Code)
	exp := fmt.Sprintf(`{"address":"%s","nonce":7,"balance":"1000000000000000000"}`, from.Hex())
	require.JSONEq(t, exp, rr.Body.String())

	rr = serve(t, router, http.MethodPost, "/api/v1/accounts/"+from.Hex()+"/nonces/3/abandon", "")
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Equal(t, []uint64{3}, p.abandoned)

	p.err = fmt.Errorf("abandoning: %w", nonce.ErrNotOutstanding)
	rr = serve(t, router, http.MethodPost, "/api/v1/accounts/"+from.Hex()+"/nonces/4/abandon", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func newRouter(t *testing.T, p pipeline.Pipeline) *mux.Router {
	t.Helper()

	contractABI, err := contract.ParseABI(futuresABI)
	require.NoError(t, err)
	ctrl := NewTradeController(p, &contractABI)

	router := mux.NewRouter()
	router.HandleFunc("/api/v1/trades", ctrl.Submit).Methods(http.MethodPost)
	router.HandleFunc("/api/v1/trades/{id}", ctrl.Get).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/trades/{id}/speedup", ctrl.SpeedUp).Methods(http.MethodPost)
	router.HandleFunc("/api/v1/trades/{id}/cancel", ctrl.Cancel).Methods(http.MethodPost)
	router.HandleFunc("/api/v1/trades/{id}/unwatch", ctrl.Unwatch).Methods(http.MethodPost)
	router.HandleFunc("/api/v1/trades/{id}/events", ctrl.Events).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/accounts/{address}", ctrl.Account).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/accounts/{address}/nonces/{nonce}/abandon", ctrl.Abandon).Methods(http.MethodPost)
	return router
}

func serve(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	req, err := http.NewRequest(method, path, strings.NewReader(body))
	require.NoError(t, err)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

type pipelineMock struct {
	err       error
	submitted []txn.TradeRequest
	actions   []string
	abandoned []uint64
}

var _ pipeline.Pipeline = (*pipelineMock)(nil)

func (p *pipelineMock) record(id string, state txn.State) *txn.Record {
	return &txn.Record{ID: id, State: state}
}

func (p *pipelineMock) Submit(_ context.Context, req txn.TradeRequest) (*txn.Record, error) {
	if p.err != nil {
		rec := p.record(req.ID, txn.StateFailed)
		rec.Reason = txn.ReasonFromError(p.err)
		return rec, p.err
	}
	p.submitted = append(p.submitted, req)
	return p.record(req.ID, txn.StatePending), nil
}

func (p *pipelineMock) action(name, id string) (*txn.Record, error) {
	if p.err != nil {
		return nil, p.err
	}
	p.actions = append(p.actions, name)
	return p.record(id, txn.StatePending), nil
}

func (p *pipelineMock) SpeedUp(_ context.Context, id string) (*txn.Record, error) {
	return p.action("speedup", id)
}

func (p *pipelineMock) Cancel(_ context.Context, id string) (*txn.Record, error) {
	return p.action("cancel", id)
}

func (p *pipelineMock) Unwatch(_ context.Context, id string) (*txn.Record, error) {
	return p.action("unwatch", id)
}

func (p *pipelineMock) Get(_ context.Context, id string) (*txn.Record, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.record(id, txn.StatePending), nil
}

func (p *pipelineMock) Subscribe(_ context.Context, id string) (<-chan *txn.Record, error) {
	if p.err != nil {
		return nil, p.err
	}
	ch := make(chan *txn.Record, 2)
	ch <- p.record(id, txn.StatePending)
	ch <- p.record(id, txn.StateConfirmed)
	close(ch)
	return ch, nil
}

func (p *pipelineMock) Account(_ context.Context, addr common.Address) (txn.Account, error) {
	if p.err != nil {
		return txn.Account{}, p.err
	}
	return txn.Account{
		Address: addr,
		Nonce:   7,
		Balance: big.NewInt(1_000_000_000_000_000_000),
	}, nil
}

func (p *pipelineMock) Abandon(_ context.Context, _ common.Address, n uint64) error {
	if p.err != nil {
		return p.err
	}
	p.abandoned = append(p.abandoned, n)
	return nil
}
