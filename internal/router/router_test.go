package router

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/textileio/go-tradesubmit/internal/router/middlewares"
)

func TestConfiguredRouter(t *testing.T) {
	t.Parallel()

	router, err := ConfiguredRouter(nil, nil, 100, time.Second)
	require.NoError(t, err)
	h := router.Handler()

	testCases := []struct {
		name   string
		method string
		path   string
		status int
	}{
		{name: "health", method: http.MethodGet, path: "/healthz", status: http.StatusOK},
		{name: "version", method: http.MethodGet, path: "/version", status: http.StatusOK},
		{name: "options", method: http.MethodOptions, path: "/api/v1/trades", status: http.StatusOK},
		{name: "invalid address", method: http.MethodGet, path: "/api/v1/accounts/0xnope", status: http.StatusBadRequest},
		// only the OPTIONS catch-all matches a non numeric nonce
		{name: "invalid nonce", method: http.MethodPost, path: "/api/v1/accounts/0x70997970C51812dc3A010C7d01b50e0d17dc79C8/nonces/x/abandon", status: http.StatusMethodNotAllowed}, // nolint
	}
	for _, tc := range testCases {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		require.Equal(t, tc.status, rr.Code, tc.name)
		if tc.method == http.MethodGet {
			require.NotEmpty(t, rr.Header().Get(middlewares.TraceIDHeader), tc.name)
		}
	}
}
