package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"dw-console-gateway/internal/model"
)

// Recovery turns a handler panic into a 500 envelope instead of tearing
// down the connection. It sits outermost so a panic anywhere in the guard,
// proxy, or handlers still produces a well-formed response.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			recovered := recover()
			if recovered == nil {
				return
			}
			slog.Error("panic recovered",
				"path", r.URL.Path,
				"error", fmt.Sprintf("%v", recovered),
				"stack", string(debug.Stack()))

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_ = jsonEncode(w, model.APIResponse{
				Success: false,
				Error: &model.APIError{
					Code:    "INTERNAL_ERROR",
					Message: "Unexpected server error",
				},
			})
		}()

		next.ServeHTTP(w, r)
	})
}
