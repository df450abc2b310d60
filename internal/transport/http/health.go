package httptransport

import (
	"net/http"
	"time"

	"qguard/pkg/httputil"
)

type healthStatus struct {
	Status        string    `json:"status"`
	Version       string    `json:"version"`
	Redis         bool      `json:"redis"`
	EthereumRPC   bool      `json:"ethereum_rpc"`
	UptimeSeconds uint64    `json:"uptime_seconds"`
	Timestamp     time.Time `json:"timestamp"`
}

// handleHealth probes both backing systems. The RPC is what the product
// sells, so it alone decides healthy-vs-unhealthy; Redis only distinguishes
// healthy from degraded.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	redisOK := h.cache.Ping(ctx)
	_, err := h.chain.BlockNumber(ctx)
	ethOK := err == nil

	status := "unhealthy"
	switch {
	case redisOK && ethOK:
		status = "healthy"
	case ethOK:
		status = "degraded"
	}

	httputil.WriteJSON(w, http.StatusOK, healthStatus{
		Status:        status,
		Version:       h.version,
		Redis:         redisOK,
		EthereumRPC:   ethOK,
		UptimeSeconds: uint64(h.analytics.Uptime().Seconds()),
		Timestamp:     time.Now().UTC(),
	})
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.analytics.Stats(r.Context()))
}
