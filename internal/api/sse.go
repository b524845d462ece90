package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// sseHeartbeat is how often an idle stream gets a comment line so proxies
// keep the connection open
var sseHeartbeat = 15 * time.Second

// sseStream writes server-sent events and flushes after each one
type sseStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEStream(w http.ResponseWriter) (*sseStream, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	return &sseStream{w: w, flusher: flusher}, true
}

func (s *sseStream) open() {
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
}

func (s *sseStream) comment(text string) error {
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseStream) data(payload []byte) error {
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// StreamLogs handles GET /api/v1/logs/stream (SSE)
func (h *Handlers) StreamLogs(w http.ResponseWriter, r *http.Request) {
	stream, ok := newSSEStream(w)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	filter, _, err := parseLogParams(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	subID, entries, err := h.history.Subscribe(filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	defer h.history.Unsubscribe(subID)

	stream.open()
	if err := stream.comment("connected"); err != nil {
		return
	}

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	// Entries a slow reader cannot take are dropped by the subscription
	for {
		var err error
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			err = stream.comment("ping")
		case entry, open := <-entries:
			if !open {
				return
			}
			payload, mErr := json.Marshal(ToLogEntryResponse(entry))
			if mErr != nil {
				continue
			}
			err = stream.data(payload)
		}
		if err != nil {
			h.logger.Debug("Log stream closed by client", "subscription", subID, "error", err)
			return
		}
	}
}
