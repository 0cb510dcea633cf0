package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// sseWriter writes Server-Sent Events in the gateway's own wire format,
// "event:<tag>\ndata:<json>\n\n", flushing after every event so a slow
// consumer still sees incremental progress.
type sseWriter struct {
	w  http.ResponseWriter
	fl http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, bool) {
	fl, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	return &sseWriter{w: w, fl: fl}, true
}

func (s *sseWriter) send(event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event:%s\ndata:%s\n\n", event, payload); err != nil {
		return err
	}
	s.fl.Flush()
	return nil
}

// sendData writes a bare "data: <json>\n\n" event with no event: line,
// matching the OpenAI chat-completions streaming format.
func (s *sseWriter) sendData(data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	s.fl.Flush()
	return nil
}
