package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/triago/triago/infrastructure/service/logger"
)

const CorrelationIDHeader = "X-Correlation-ID"

// CorrelationIDMiddleware ensures every request/response carries a
// correlation ID and stores it in the request context for the logger.
func CorrelationIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cid := r.Header.Get(CorrelationIDHeader)
		if cid == "" {
			cid = uuid.NewString()
		}
		w.Header().Set(CorrelationIDHeader, cid)

		ctx := context.WithValue(r.Context(), logger.CorrelationIDContextKey, cid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
