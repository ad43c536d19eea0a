package middlewares

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestLimit1Addr(t *testing.T) {
	t.Parallel()

	type testCase struct {
		name     string
		callRPS  int
		limitRPS int
	}

	tests := []testCase{
		{name: "success", callRPS: 100, limitRPS: 500},
		{name: "block-me", callRPS: 1000, limitRPS: 500},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(tc testCase) func(t *testing.T) {
			return func(t *testing.T) {
				t.Parallel()

				rlcm, err := RateLimitController(RateLimiterConfig{
					MaxRPI:   uint64(tc.limitRPS),
					Interval: time.Second,
				})
				require.NoError(t, err)
				rlc := rlcm(dummyHandler{})

				ctx := context.WithValue(context.Background(), ContextKeyAddress, "0xdeadbeef")
				r, err := http.NewRequestWithContext(ctx, "", "", nil)
				require.NoError(t, err)

				res := httptest.NewRecorder()

				// If callRPS < limitRPS, we never get a 429.
				// If callRPS > limitRPS, we eventually should see a 429.
				assertFunc := require.Eventually
				if tc.callRPS < tc.limitRPS {
					assertFunc = require.Never
				}
				assertFunc(t, func() bool {
					rlc.ServeHTTP(res, r)
					return res.Code == 429
				}, time.Second*5, time.Second/time.Duration(tc.callRPS))
			}
		}(tc))
	}
}

func TestLimit1IP(t *testing.T) {
	t.Parallel()

	type testCase struct {
		name         string
		callRPS      int
		limitRPS     int
		forwardedFor bool
	}

	tests := []testCase{
		{name: "forwarded-success", callRPS: 100, limitRPS: 500, forwardedFor: true},
		{name: "forwarded-block-me", callRPS: 1000, limitRPS: 500, forwardedFor: true},

		{name: "success", callRPS: 100, limitRPS: 500, forwardedFor: false},
		{name: "block-me", callRPS: 1000, limitRPS: 500, forwardedFor: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(tc testCase) func(t *testing.T) {
			return func(t *testing.T) {
				t.Parallel()

				rlcm, err := RateLimitController(RateLimiterConfig{
					MaxRPI:   uint64(tc.limitRPS),
					Interval: time.Second,
				})
				require.NoError(t, err)
				rlc := rlcm(dummyHandler{})

				r, err := http.NewRequestWithContext(context.Background(), "", "", nil)
				require.NoError(t, err)
				if tc.forwardedFor {
					r.Header.Set("X-Forwarded-For", uuid.NewString())
				} else {
					r.RemoteAddr = uuid.NewString() + ":1234"
				}

				res := httptest.NewRecorder()

				assertFunc := require.Eventually
				if tc.callRPS < tc.limitRPS {
					assertFunc = require.Never
				}
				assertFunc(t, func() bool {
					rlc.ServeHTTP(res, r)
					return res.Code == 429
				}, time.Second*5, time.Second/time.Duration(tc.callRPS))
			}
		}(tc))
	}
}

func TestRateLim10Addresses(t *testing.T) {
	t.Parallel()

	// Only allow 150 req per second *per address*.
	rlcm, err := RateLimitController(RateLimiterConfig{
		MaxRPI:   150,
		Interval: time.Second,
	})
	require.NoError(t, err)
	rlc := rlcm(dummyHandler{})

	// 1000 requests spread over 10 addresses never hit the limit of any of them.
	for i := 0; i < 1000; i++ {
		ctx := context.WithValue(context.Background(), ContextKeyAddress, strconv.Itoa(i%10))
		r, err := http.NewRequestWithContext(ctx, "", "", nil)
		require.NoError(t, err)

		res := httptest.NewRecorder()

		rlc.ServeHTTP(res, r)
		require.Equal(t, 200, res.Code)
	}
}

func TestTraceID(t *testing.T) {
	t.Parallel()

	h := TraceID(dummyHandler{})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	res := httptest.NewRecorder()
	h.ServeHTTP(res, r)
	generated := res.Header().Get(TraceIDHeader)
	_, err := uuid.Parse(generated)
	require.NoError(t, err)

	// A client trace id is propagated.
	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(TraceIDHeader, generated)
	res = httptest.NewRecorder()
	h.ServeHTTP(res, r)
	require.Equal(t, generated, res.Header().Get(TraceIDHeader))

	// An invalid one is replaced.
	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(TraceIDHeader, "not-a-uuid")
	res = httptest.NewRecorder()
	h.ServeHTTP(res, r)
	require.NotEqual(t, "not-a-uuid", res.Header().Get(TraceIDHeader))
}

type dummyHandler struct{}

func (dh dummyHandler) ServeHTTP(_ http.ResponseWriter, _ *http.Request) {
}
