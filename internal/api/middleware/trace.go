package middleware

import (
	"log/slog"
	"net/http"
	"regexp"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/taskbid/internal/api/shared"
	"github.com/phrazzld/taskbid/internal/platform/logger"
)

// HeaderTraceID carries the trace ID back to the client.
const HeaderTraceID = "X-Trace-ID"

// Incoming request IDs are reused as trace IDs only when they look sane.
var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9._/-]{1,64}$`)

// NewTraceMiddleware returns middleware that assigns every request a trace
// ID and stores a logger tagged with it in the request context. A request ID
// set by chi's RequestID middleware is reused when present.
func NewTraceMiddleware(log *slog.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if reqID := middleware.GetReqID(ctx); requestIDPattern.MatchString(reqID) {
				ctx = shared.WithTraceID(ctx, reqID)
			} else {
				ctx = shared.SetTraceID(ctx)
			}
			traceID := shared.GetTraceID(ctx)

			reqLog := log.With(slog.String("trace_id", traceID))
			ctx = logger.WithContext(ctx, reqLog)
			w.Header().Set(HeaderTraceID, traceID)

			reqLog.Debug("request started",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr))

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
