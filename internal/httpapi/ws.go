package httpapi

import "net/http"

// handleBuffersWS upgrades to the single /buffers WebSocket endpoint and
// delegates the connection lifecycle to the Buffer Aggregator.
func (s *Server) handleBuffersWS(w http.ResponseWriter, r *http.Request) {
	s.agg.ServeHTTP(w, r)
}
