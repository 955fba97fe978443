package handler

import (
	"net/http"
	"time"
)

// StatusHandler serves the stream status for dashboards.
type StatusHandler struct {
	mode      string
	feed      func() any
	consumers func() map[string]any
}

// NewStatusHandler creates a StatusHandler. feed and consumers may be nil
// when the mode runs without them.
func NewStatusHandler(mode string, feed func() any, consumers func() map[string]any) *StatusHandler {
	return &StatusHandler{mode: mode, feed: feed, consumers: consumers}
}

// GetStatus reports the upstream feed and consumer hub state.
// GET /api/stream/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{
		"mode":      h.mode,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if h.feed != nil {
		out["upstream"] = h.feed()
	}
	if h.consumers != nil {
		out["hub"] = h.consumers()
	}
	writeJSON(w, http.StatusOK, out)
}
