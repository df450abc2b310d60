// Package httputil centralizes the JSON response envelopes shared by the
// transport handlers and the payment middleware.
package httputil

import (
	"encoding/json"
	"net/http"
	"time"

	"qguard/internal/platform/middleware"
)

// ErrorResponse is the error envelope for every non-2xx JSON response.
type ErrorResponse struct {
	Success             bool      `json:"success"`
	Error               string    `json:"error"`
	ErrorCode           string    `json:"error_code"`
	Timestamp           time.Time `json:"timestamp"`
	RequestID           string    `json:"request_id"`
	PaymentInstructions any       `json:"payment_instructions,omitempty"`
}

// WriteJSON serializes v with the given status. Encoding failures are
// swallowed; headers are already gone by then.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError renders the standard error envelope. instructions may be nil;
// when present (payment challenges) it is embedded verbatim.
func WriteError(w http.ResponseWriter, r *http.Request, status int, code, message string, instructions any) {
	WriteJSON(w, status, ErrorResponse{
		Success:             false,
		Error:               message,
		ErrorCode:           code,
		Timestamp:           time.Now().UTC(),
		RequestID:           middleware.GetRequestID(r.Context()),
		PaymentInstructions: instructions,
	})
}
