package middlewares

import (
	"net/http"

	"github.com/textileio/go-tradesubmit/pkg/metrics"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
)

// OtelHTTP wraps the handler h with OTEL metrics labeled with the operation name.
func OtelHTTP(operation string) func(h http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		return otelhttp.NewHandler(&labeledHandler{h: h, operation: operation}, operation)
	}
}

type labeledHandler struct {
	h         http.Handler
	operation string
}

func (lh *labeledHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	labeler, _ := otelhttp.LabelerFromContext(r.Context())
	labeler.Add(attribute.String("operation", lh.operation))
	labeler.Add(metrics.BaseAttrs...)
	lh.h.ServeHTTP(rw, r)
}
