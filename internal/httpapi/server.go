// Package httpapi implements the HTTP/WS Surface (C10): the REST, SSE,
// and WebSocket endpoints from spec.md §6 binding every other component
// to the wire. Grounded on the teacher's Server type and mux wiring
// (stdlib http.ServeMux with method+pattern routes, auth.Middleware
// wrapping protected routes), generalized from one auth-gated WS
// terminal endpoint to the full session/stream/buffer/remotes surface.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"vibetunnel/internal/apierr"
	"vibetunnel/internal/auth"
	"vibetunnel/internal/buffer"
	"vibetunnel/internal/federation"
	"vibetunnel/internal/manager"
	"vibetunnel/internal/session"
	"vibetunnel/internal/sessionlog"
	"vibetunnel/internal/stream"
)

const apiVersion = "1.0.0"

// Server binds C1-C9 to the HTTP surface.
type Server struct {
	bind string
	port int

	authn   *auth.Authenticator
	mgr     *manager.Manager
	watcher *stream.Watcher
	agg     *buffer.Aggregator

	hqMode   bool
	registry *federation.Registry
	proxy    *federation.Proxy
	wsProxy  *federation.WSProxy

	logs *sessionlog.Ring
}

// Config wires every dependency the Server needs. Registry/Proxy/WSProxy
// are only non-nil in HQ mode. Logs is optional; when nil, /health omits
// the recentErrors field.
type Config struct {
	Bind    string
	Port    int
	Authn   *auth.Authenticator
	Manager *manager.Manager
	Watcher *stream.Watcher
	Agg     *buffer.Aggregator
	Logs    *sessionlog.Ring

	HQMode   bool
	Registry *federation.Registry
	Proxy    *federation.Proxy
	WSProxy  *federation.WSProxy
}

// New constructs a Server from cfg.
func New(cfg Config) *Server {
	return &Server{
		bind: cfg.Bind, port: cfg.Port,
		authn: cfg.Authn, mgr: cfg.Manager, watcher: cfg.Watcher, agg: cfg.Agg,
		hqMode: cfg.HQMode, registry: cfg.Registry, proxy: cfg.Proxy, wsProxy: cfg.WSProxy,
		logs: cfg.Logs,
	}
}

// Handler builds the routed http.Handler, split out from Run for testability.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	protected := http.NewServeMux()
	protected.HandleFunc("GET /api/sessions", s.handleListSessions)
	protected.HandleFunc("POST /api/sessions", s.handleCreateSession)
	protected.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	protected.HandleFunc("DELETE /api/sessions/{id}", s.handleKillSession)
	protected.HandleFunc("DELETE /api/sessions/{id}/cleanup", s.handleCleanupSession)
	protected.HandleFunc("POST /api/cleanup-exited", s.handleCleanupAllExited)
	protected.HandleFunc("POST /api/sessions/{id}/input", s.handleInput)
	protected.HandleFunc("POST /api/sessions/{id}/resize", s.handleResize)
	protected.HandleFunc("GET /api/sessions/{id}/stream", s.handleStream)
	protected.HandleFunc("GET /api/sessions/{id}/buffer", s.handleBuffer)
	protected.HandleFunc("GET /api/sessions/{id}/text", s.handleText)
	protected.HandleFunc("GET /api/sessions/activity", s.handleActivity)
	protected.HandleFunc("GET /api/remotes", s.handleListRemotes)
	protected.HandleFunc("POST /api/remotes/register", s.handleRegisterRemote)
	protected.HandleFunc("DELETE /api/remotes/{id}", s.handleUnregisterRemote)
	protected.HandleFunc("GET /buffers", s.handleBuffersWS)

	mux.Handle("/api/", s.authn.Middleware(protected))
	mux.Handle("/buffers", s.authn.Middleware(protected))

	return mux
}

// Run starts listening and blocks, per spec.md §6.
func (s *Server) Run() error {
	addr := net.JoinHostPort(s.bind, strconv.Itoa(s.port))
	slog.Info("[httpapi] listening", "addr", addr)
	return http.ListenAndServe(addr, s.Handler())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"ok": true, "version": apiVersion}
	if s.logs != nil {
		body["recentErrors"] = s.logs.Recent()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.mgr.List()
	if err != nil {
		writeError(w, err)
		return
	}
	if s.hqMode && s.proxy != nil {
		remote := s.proxy.ListRemoteSessions(r.Context())
		sessions = append(sessions, remote...)
	}
	writeJSON(w, http.StatusOK, sessions)
}

type createSessionRequest struct {
	Command    []string `json:"command"`
	WorkingDir string   `json:"workingDir"`
	Name       string   `json:"name"`
	RemoteID   string   `json:"remoteId"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.Wrap(apierr.KindInvalidInput, err, "decode request body"))
		return
	}
	if req.RemoteID != "" {
		if !s.hqMode {
			writeError(w, apierr.New(apierr.KindInvalidInput, "remoteId requires HQ mode"))
			return
		}
		writeError(w, apierr.New(apierr.KindInvalidInput, "remote-routed session creation is not yet wired to a proxied create"))
		return
	}
	snap, err := s.mgr.Create(manager.CreateSpec{
		Name: req.Name, Command: req.Command, WorkingDir: req.WorkingDir,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"sessionId": snap.ID})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sessions, err := s.mgr.List()
	if err != nil {
		writeError(w, err)
		return
	}
	for _, sn := range sessions {
		if sn.ID == id {
			writeJSON(w, http.StatusOK, sn)
			return
		}
	}
	if s.hqMode && s.proxy != nil {
		if err := s.proxy.ProxySessionRequest(w, r, id); err == nil {
			return
		}
	}
	writeError(w, apierr.New(apierr.KindNotFound, "session not found").WithSession(id))
}

func (s *Server) handleKillSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.mgr.Kill(id, "TERM"); err != nil {
		if s.hqMode && s.proxy != nil && apierr.KindOf(err) == apierr.KindNotFound {
			if err := s.proxy.ProxySessionRequest(w, r, id); err == nil {
				return
			}
		}
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCleanupSession(w http.ResponseWriter, r *http.Request) {
	if err := s.mgr.Cleanup(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCleanupAllExited(w http.ResponseWriter, r *http.Request) {
	n, err := s.mgr.CleanupAllExited()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"cleaned": n})
}

type inputRequest struct {
	Text string `json:"text"`
	Key  string `json:"key"`
}

func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req inputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.Wrap(apierr.KindInvalidInput, err, "decode request body"))
		return
	}
	data := resolveInputBytes(req)
	if data == nil {
		writeError(w, apierr.New(apierr.KindInvalidInput, "unrecognized key").WithSession(id))
		return
	}
	if err := s.mgr.SubmitInput(id, data); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type resizeRequest struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

func (s *Server) handleResize(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req resizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.Wrap(apierr.KindInvalidInput, err, "decode request body"))
		return
	}
	if err := s.mgr.SubmitResize(id, req.Cols, req.Rows); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBuffer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	snap, err := s.mgr.Snapshot(id)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(buffer.EncodePayload(snap))
}

func (s *Server) handleText(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	snap, err := s.mgr.Snapshot(id)
	if err != nil {
		writeError(w, err)
		return
	}
	styled := r.URL.Query().Has("styles")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(renderText(snap, styled)))
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.mgr.List()
	if err != nil {
		writeError(w, err)
		return
	}
	out := make(map[string]session.ActivityStatus, len(sessions))
	for _, sn := range sessions {
		status, err := s.mgr.ReadActivity(sn.ID)
		if err != nil {
			slog.Warn("[httpapi] read activity failed", "session", sn.ID, "error", err)
			status = session.ActivityStatus{Session: sn}
		}
		if status.Session.ID == "" {
			status.Session = sn
		}
		out[sn.ID] = status
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListRemotes(w http.ResponseWriter, r *http.Request) {
	if !s.hqMode || s.registry == nil {
		writeJSON(w, http.StatusOK, []federation.Registration{})
		return
	}
	regs := s.registry.List()
	out := make([]federation.Registration, len(regs))
	for i, reg := range regs {
		out[i] = reg.Public()
	}
	writeJSON(w, http.StatusOK, out)
}

type registerRemoteRequest struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	BaseURL string `json:"baseUrl"`
	Token   string `json:"token"`
}

func (s *Server) handleRegisterRemote(w http.ResponseWriter, r *http.Request) {
	if !s.hqMode || s.registry == nil {
		writeError(w, apierr.New(apierr.KindInvalidInput, "this instance does not run in HQ mode"))
		return
	}
	var req registerRemoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.Wrap(apierr.KindInvalidInput, err, "decode request body"))
		return
	}
	s.registry.Register(req.ID, req.Name, req.BaseURL, req.Token)
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleUnregisterRemote(w http.ResponseWriter, r *http.Request) {
	if !s.hqMode || s.registry == nil {
		writeError(w, apierr.New(apierr.KindInvalidInput, "this instance does not run in HQ mode"))
		return
	}
	s.registry.Unregister(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var apiErr *apierr.Error
	kind := apierr.KindOf(err)
	status := kind.HTTPStatus()
	code := kind.String()
	message := err.Error()
	if errors.As(err, &apiErr) {
		message = apiErr.Message
	}
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}
