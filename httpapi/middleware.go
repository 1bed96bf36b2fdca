package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const HeaderTraceID = "X-Trace-Id"

type traceIDKey struct{}

// TraceID returns the request trace id stored by the trace middleware.
func TraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(traceIDKey{}).(string)
	return value
}

// traceMiddleware keeps an incoming X-Trace-Id or mints one, and echoes it on
// every response.
func traceMiddleware(newID func() string) func(http.Handler) http.Handler {
	if newID == nil {
		newID = uuid.NewString
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			traceID := strings.TrimSpace(r.Header.Get(HeaderTraceID))
			if traceID == "" {
				traceID = newID()
			}
			w.Header().Set(HeaderTraceID, traceID)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), traceIDKey{}, traceID)))
		})
	}
}

func (a *api) requestLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startedAt := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		elapsed := time.Since(startedAt)

		route := routePattern(r)
		a.opts.Metrics.Observe(route, r.Method, wrapped.statusCode, elapsed)
		a.logger.Info("http request",
			"route", route,
			"method", r.Method,
			"status", wrapped.statusCode,
			"duration_ms", elapsed.Milliseconds(),
			"trace_id", TraceID(r.Context()),
		)
	})
}

// routePattern reports the matched chi pattern so metrics stay bounded by
// route rather than raw path.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(p []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(p)
}
