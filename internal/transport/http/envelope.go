package httptransport

import (
	"net/http"
	"time"

	"qguard/internal/platform/middleware"
	"qguard/pkg/httputil"
)

// APIResponse is the success envelope for every paid data endpoint.
type APIResponse struct {
	Success    bool      `json:"success"`
	Data       any       `json:"data"`
	Timestamp  time.Time `json:"timestamp"`
	CacheHit   bool      `json:"cache_hit"`
	DataSource string    `json:"data_source"`
	RequestID  string    `json:"request_id"`
}

func writeData(w http.ResponseWriter, r *http.Request, data any, cacheHit bool, source string) {
	httputil.WriteJSON(w, http.StatusOK, APIResponse{
		Success:    true,
		Data:       data,
		Timestamp:  time.Now().UTC(),
		CacheHit:   cacheHit,
		DataSource: source,
		RequestID:  middleware.GetRequestID(r.Context()),
	})
}
