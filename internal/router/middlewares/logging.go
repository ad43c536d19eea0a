package middlewares

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// WithLogging logs requests that didn't succeed.
func WithLogging(h http.Handler) http.Handler {
	handler := func(rw http.ResponseWriter, req *http.Request) {
		loggedRW := &responseWriterLogger{
			ResponseWriter: rw,
			statusCode:     http.StatusOK,
		}
		start := time.Now()
		h.ServeHTTP(loggedRW, req)

		if loggedRW.statusCode >= http.StatusBadRequest {
			log.Ctx(req.Context()).Warn().
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("statusCode", loggedRW.statusCode).
				Dur("elapsed", time.Since(start)).
				Msg("non-2xx status code response")
		}
	}
	return http.HandlerFunc(handler)
}

type responseWriterLogger struct {
	http.ResponseWriter
	statusCode int
}

func (r *responseWriterLogger) WriteHeader(statusCode int) {
	r.ResponseWriter.WriteHeader(statusCode)
	r.statusCode = statusCode
}

// Flush implements http.Flusher so event streams keep working behind the logger.
func (r *responseWriterLogger) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
