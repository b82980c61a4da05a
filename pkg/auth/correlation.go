package auth

import (
	"net/http"

	"github.com/google/uuid"
)

// CorrelationMiddleware returns an HTTP middleware that ensures every
// request carries a correlation ID. An incoming X-Correlation-ID header is
// honored; otherwise a new UUID is generated. The ID is stored in the
// request context and echoed on the response so clients can reference it
// in bug reports.
//
// The header name is configurable; an empty name uses
// [HeaderCorrelationID]. Run this middleware before [Middleware] so
// authentication warnings carry the correlation ID.
func CorrelationMiddleware(header string) func(http.Handler) http.Handler {
	if header == "" {
		header = HeaderCorrelationID
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			correlationID := r.Header.Get(header)
			if correlationID == "" {
				correlationID = uuid.NewString()
			}

			ctx := ContextWithCorrelationID(r.Context(), correlationID)
			w.Header().Set(header, correlationID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
