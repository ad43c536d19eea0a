package middlewares

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sethvargo/go-limiter/httplimit"
	"github.com/sethvargo/go-limiter/memorystore"
)

// RateLimiterConfig specifies the maximum request per interval, and
// interval length for a rate limiting rule.
type RateLimiterConfig struct {
	MaxRPI   uint64
	Interval time.Duration
}

// RateLimitController creates a new middleware to rate limit requests.
// It applies a priority based rate limiting key for the rate limiting:
// 1. The account address of the path, if present.
// 2. If 1. isn't present, it will use an existing X-Forwarded-For IP included by a load-balancer in the infrastructure.
// 3. If 2. isn't present, it will use the connection remote address.
func RateLimitController(cfg RateLimiterConfig) (mux.MiddlewareFunc, error) {
	keyFunc := func(r *http.Request) (string, error) {
		address, ok := r.Context().Value(ContextKeyAddress).(string)
		if ok && address != "" {
			return address, nil
		}

		ip, err := extractClientIP(r)
		if err != nil {
			return "", fmt.Errorf("extract client ip: %s", err)
		}
		return ip, nil
	}

	store, err := memorystore.New(&memorystore.Config{
		Tokens:   cfg.MaxRPI,
		Interval: cfg.Interval,
	})
	if err != nil {
		return nil, fmt.Errorf("creating memory store: %s", err)
	}
	m, err := httplimit.NewMiddleware(store, keyFunc)
	if err != nil {
		return nil, fmt.Errorf("creating httplimiter: %s", err)
	}
	return m.Handle, nil
}

func extractClientIP(r *http.Request) (string, error) {
	// Use X-Forwarded-For IP if present.
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ip := strings.TrimSpace(strings.Split(xff, ",")[0])
		return ip, nil
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "", fmt.Errorf("getting ip from remote addr: %s", err)
	}
	return ip, nil
}
