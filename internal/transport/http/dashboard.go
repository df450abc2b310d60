package httptransport

import (
	"net/http"
	"time"
)

const (
	dashboardPushInterval = time.Second
	dashboardWriteWait    = 5 * time.Second
)

// handleDashboard upgrades to a websocket and pushes a stats snapshot every
// second until the peer goes away. The read loop exists only to surface
// close frames and answer pings.
func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("dashboard upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(dashboardPushInterval)
	defer ticker.Stop()

	for {
		conn.SetWriteDeadline(time.Now().Add(dashboardWriteWait))
		if err := conn.WriteJSON(h.analytics.Stats(r.Context())); err != nil {
			return
		}

		select {
		case <-done:
			return
		case <-ticker.C:
		}
	}
}
