package middleware

import (
	"encoding/json"
	"net/http"
)

// jsonEncode writes an envelope from middleware that answers requests the
// handlers never see (guard denials, rate limits, recovered panics).
func jsonEncode(w http.ResponseWriter, value any) error {
	return json.NewEncoder(w).Encode(value)
}
