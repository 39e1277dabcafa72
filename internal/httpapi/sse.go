package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"vibetunnel/internal/apierr"
	"vibetunnel/internal/castfile"
	"vibetunnel/internal/stream"
)

// handleStream serves GET /api/sessions/{id}/stream: cast records as SSE
// `data:` events, a 30s `:heartbeat` comment, closing after the exit
// record, per spec.md §6.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, apierr.New(apierr.KindFatal, "streaming unsupported by this response writer"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events, unsubscribe := s.watcher.Subscribe(r.Context(), id, s.mgr.StreamOutPath(id))
	defer unsubscribe()

	for {
		var ev stream.Event
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			ev = e
		}
		if ev.IsHeartbeat {
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
			continue
		}
		if ev.IsHeader {
			data, _ := json.Marshal(ev.Header)
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
			continue
		}
		data, _ := json.Marshal(recordToArray(ev.Record))
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}
}

func recordToArray(rec castfile.Record) any {
	if rec.IsExit() {
		return []any{"exit", rec.ExitCode, rec.ExitSessionID}
	}
	var payload string
	switch rec.Kind {
	case "o":
		payload = rec.Output
	case "i":
		payload = rec.Output
	case "r":
		payload = rec.Resize
	}
	return []any{rec.Time, rec.Kind, payload}
}
