package middlewares

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// TraceIDHeader is the header carrying the trace id of a request.
const TraceIDHeader = "Trace-ID"

// TraceID attaches a trace id to the request logger and returns it as a header.
// A valid trace id sent by the client is kept, otherwise a new one is generated.
func TraceID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(TraceIDHeader)
		if _, err := uuid.Parse(traceID); err != nil {
			id, err := uuid.NewRandom()
			if err != nil {
				log.Warn().Err(err).Msg("failed to generate a trace id")
				next.ServeHTTP(w, r)
				return
			}
			traceID = id.String()
		}

		logger := log.With().Str("traceId", traceID).Logger()
		r = r.WithContext(logger.WithContext(r.Context()))
		w.Header().Set(TraceIDHeader, traceID)

		next.ServeHTTP(w, r)
	})
}
