package middleware

import (
	"net/http"
	"time"
)

// Timeout bounds the gateway's own JSON endpoints (auth, session, license).
// Proxied routes use StreamingTimeout instead; this handler buffers the
// whole response, which would stall streamed upstream bodies.
func Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	message := `{"success":false,"error":{"code":"REQUEST_TIMEOUT","message":"the gateway gave up waiting on this request"}}`

	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, timeout, message)
	}
}
