package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"ms-ledger/internal/logger"
)

// Serve streams channel to the client as server-sent events until the
// request is cancelled. A comment line every keepAlive keeps proxies from
// closing idle connections.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, channel string, log *logger.Logger, keepAlive time.Duration) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	events := h.Subscribe(r.Context(), channel)
	log.Info("SSE", fmt.Sprintf("Client subscribed to %s", channel))

	fmt.Fprintf(w, "event: connected\ndata: {\"channel\":%q}\n\n", channel)
	flusher.Flush()

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			log.Info("SSE", fmt.Sprintf("Client left %s", channel))
			return
		case ev, open := <-events:
			if !open {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				log.Error("SSE", fmt.Sprintf("Failed to marshal event %s: %v", ev.ID, err))
				continue
			}
			fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, data)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		}
	}
}
