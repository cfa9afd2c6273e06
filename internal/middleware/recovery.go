package middleware

import (
	"encoding/json"
	"net/http"
	"runtime/debug"

	"github.com/vyrodovalexey/avagate/internal/observability"
)

// Recovery returns a middleware that recovers from panics and answers
// with an INTERNAL rejection body.
func Recovery(logger observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler { //nolint:errorlint // sentinel compared by identity
					panic(rec)
				}

				requestID := observability.RequestIDFromContext(r.Context())
				logger.Error("panic recovered",
					observability.String("path", r.URL.Path),
					observability.String("method", r.Method),
					observability.String("request_id", requestID),
					observability.Any("error", rec),
					observability.String("stack", string(debug.Stack())),
				)

				body, _ := json.Marshal(map[string]string{
					"error":      "INTERNAL",
					"reason":     "panic",
					"request_id": requestID,
				})
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write(body)
			}()

			next.ServeHTTP(w, r)
		})
	}
}
