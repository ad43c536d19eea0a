package router

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/gorilla/mux"
	"github.com/textileio/go-tradesubmit/internal/router/controllers"
	"github.com/textileio/go-tradesubmit/internal/router/middlewares"
	"github.com/textileio/go-tradesubmit/pkg/pipeline"
)

// ConfiguredRouter returns a fully configured Router that can be used as an http handler.
func ConfiguredRouter(
	p pipeline.Pipeline,
	contractABI *abi.ABI,
	maxRPI uint64,
	rateLimInterval time.Duration,
) (*Router, error) {
	tradeController := controllers.NewTradeController(p, contractABI)
	infraController := controllers.NewInfraController()

	// General router configuration.
	router := NewRouter()
	router.Use(middlewares.CORS, middlewares.TraceID)

	rateLim, err := middlewares.RateLimitController(middlewares.RateLimiterConfig{
		MaxRPI:   maxRPI,
		Interval: rateLimInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("creating rate limit controller middleware: %s", err)
	}

	// Trades.
	router.Post("/api/v1/trades", tradeController.Submit, middlewares.WithLogging, middlewares.OtelHTTP("SubmitTrade"), rateLim)                  // nolint
	router.Get("/api/v1/trades/{id}", tradeController.Get, middlewares.WithLogging, middlewares.OtelHTTP("GetTrade"), rateLim)                     // nolint
	router.Post("/api/v1/trades/{id}/speedup", tradeController.SpeedUp, middlewares.WithLogging, middlewares.OtelHTTP("SpeedUpTrade"), rateLim)   // nolint
	router.Post("/api/v1/trades/{id}/cancel", tradeController.Cancel, middlewares.WithLogging, middlewares.OtelHTTP("CancelTrade"), rateLim)      // nolint
	router.Post("/api/v1/trades/{id}/unwatch", tradeController.Unwatch, middlewares.WithLogging, middlewares.OtelHTTP("UnwatchTrade"), rateLim)   // nolint
	router.Get("/api/v1/trades/{id}/events", tradeController.Events, middlewares.WithLogging, middlewares.OtelHTTP("TradeEvents"), rateLim)      // nolint

	// Accounts.
	router.Get("/api/v1/accounts/{address}", tradeController.Account, middlewares.WithLogging, middlewares.OtelHTTP("GetAccount"), middlewares.RESTAddress, rateLim)                           // nolint
	router.Post("/api/v1/accounts/{address}/nonces/{nonce:[0-9]+}/abandon", tradeController.Abandon, middlewares.WithLogging, middlewares.OtelHTTP("AbandonNonce"), middlewares.RESTAddress, rateLim) // nolint

	router.Get("/version", infraController.Version, middlewares.WithLogging, middlewares.OtelHTTP("Version"), rateLim)

	// Health endpoint configuration.
	router.Get("/healthz", infraController.Health)
	router.Get("/health", infraController.Health)

	return router, nil
}

// Router provides a nice api around mux.Router.
type Router struct {
	r *mux.Router
}

// NewRouter is a Mux HTTP router constructor.
func NewRouter() *Router {
	r := mux.NewRouter()
	r.PathPrefix("/").Methods(http.MethodOptions) // accept OPTIONS on all routes and do nothing
	return &Router{r: r}
}

// Get creates a subroute on the specified URI that only accepts GET. You can provide specific middlewares.
func (r *Router) Get(uri string, f func(http.ResponseWriter, *http.Request), mid ...mux.MiddlewareFunc) {
	sub := r.r.Path(uri).Subrouter()
	sub.HandleFunc("", f).Methods(http.MethodGet)
	sub.Use(mid...)
}

// Post creates a subroute on the specified URI that only accepts POST. You can provide specific middlewares.
func (r *Router) Post(uri string, f func(http.ResponseWriter, *http.Request), mid ...mux.MiddlewareFunc) {
	sub := r.r.Path(uri).Subrouter()
	sub.HandleFunc("", f).Methods(http.MethodPost)
	sub.Use(mid...)
}

// Use adds middlewares to all routes. Should be used when a middleware should be execute all all routes (e.g. CORS).
func (r *Router) Use(mid ...mux.MiddlewareFunc) {
	r.r.Use(mid...)
}

// Handler returns the configured router http handler.
func (r *Router) Handler() http.Handler {
	return r.r
}
