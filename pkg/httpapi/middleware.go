package httpapi

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/keygate/keygate/pkg/observability"
)

// RequestIDHeader is echoed back to callers and attached to every log
// line for the request.
const RequestIDHeader = "X-Request-ID"

// RequestContextMiddleware assigns a request ID and injects the logger
// into the request context.
func RequestContextMiddleware(logger *observability.Logger) mux.MiddlewareFunc {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, requestID)

			ctx := observability.WithRequestID(r.Context(), requestID)
			ctx = observability.WithLogger(ctx, logger)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RoutePathLabel maps a request to its mux route template so metrics
// labels stay low-cardinality.
func RoutePathLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}
