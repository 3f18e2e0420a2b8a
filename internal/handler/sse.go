package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/studycircle/internal/logger"
	"github.com/studycircle/internal/notify"
)

// toastEvent is the SSE payload for one released notification.
type toastEvent struct {
	Notification any             `json:"notification"`
	Priority     notify.Priority `json:"priority"`
	Route        string          `json:"route"`
	Sound        string          `json:"sound,omitempty"`
}

// StreamToasts streams released notifications as server-sent events until the
// surface disconnects. One event per release; the release pacing is done by
// the priority queue, not here.
func (h *BridgeHandler) StreamToasts(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// The stream outlives the server's write timeout; clear the per-request
	// deadline so a quiet connection is not severed mid-stream.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		logger.Errorf("toast stream: clear write deadline: %v", err)
	}

	releases, unsubscribe := h.core.SubscribeToasts()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case rel, ok := <-releases:
			if !ok {
				return
			}
			data, err := json.Marshal(toastEvent{
				Notification: rel.Notification,
				Priority:     rel.Priority,
				Route:        rel.Route,
				Sound:        rel.Sound,
			})
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: toast\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}
