package federation

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"vibetunnel/internal/apierr"
	"vibetunnel/internal/session"
)

const fanoutTimeout = 2 * time.Second

// Proxy is the HQ-role's fan-out/forward logic over a Registry.
type Proxy struct {
	registry *Registry
	client   *http.Client
}

// NewProxy constructs a Proxy bound to registry.
func NewProxy(registry *Registry) *Proxy {
	return &Proxy{
		registry: registry,
		client:   &http.Client{Timeout: fanoutTimeout},
	}
}

// ListRemoteSessions concurrently fans GET /api/sessions out to every
// registered remote, merging results and tagging each with source/
// remoteId/remoteName. A remote that times out or errors contributes an
// empty set plus a logged warning rather than failing the whole call,
// per spec.md §4.9's failure semantics.
func (p *Proxy) ListRemoteSessions(ctx context.Context) []session.Snapshot {
	remotes := p.registry.List()
	if len(remotes) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var merged []session.Snapshot

	for _, reg := range remotes {
		wg.Add(1)
		go func(reg Registration) {
			defer wg.Done()
			sessions, err := p.fetchSessions(ctx, reg)
			if err != nil {
				slog.Warn("[federation] sessions fan-out to remote failed", "remote", reg.ID, "error", err)
				return
			}
			ownedIDs := make([]string, 0, len(sessions))
			for i := range sessions {
				sessions[i].Source = session.SourceRemote
				sessions[i].RemoteID = reg.ID
				sessions[i].RemoteName = reg.Name
				sessions[i].RemoteURL = reg.BaseURL
				ownedIDs = append(ownedIDs, sessions[i].ID)
			}
			p.registry.SetOwnedSessions(reg.ID, ownedIDs)

			mu.Lock()
			merged = append(merged, sessions...)
			mu.Unlock()
		}(reg)
	}
	wg.Wait()
	return merged
}

func (p *Proxy) fetchSessions(ctx context.Context, reg Registration) ([]session.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, fanoutTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reg.BaseURL+"/api/sessions", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+reg.BearerToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var sessions []session.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// ProxySessionRequest forwards a session-scoped request to the remote
// that owns sessionID, streaming the response back verbatim (used for
// SSE and binary buffer payloads as well as plain JSON). Returns
// apierr.KindUpstreamUnavailable on timeout or transport error, and
// apierr.KindNotFound if no remote owns sessionID.
func (p *Proxy) ProxySessionRequest(w http.ResponseWriter, r *http.Request, sessionID string) error {
	remoteID, ok := p.registry.OwnerOf(sessionID)
	if !ok {
		return apierr.New(apierr.KindNotFound, "no remote owns this session").WithSession(sessionID)
	}
	reg, ok := p.registry.Get(remoteID)
	if !ok {
		return apierr.New(apierr.KindNotFound, "remote no longer registered").WithSession(sessionID)
	}

	outReq, err := http.NewRequestWithContext(r.Context(), r.Method, reg.BaseURL+r.URL.Path+"?"+r.URL.RawQuery, r.Body)
	if err != nil {
		return apierr.Wrap(apierr.KindUpstreamUnavailable, err, "build proxied request").WithSession(sessionID)
	}
	outReq.Header = r.Header.Clone()
	outReq.Header.Set("Authorization", "Bearer "+reg.BearerToken)

	resp, err := p.client.Do(outReq)
	if err != nil {
		return apierr.Wrap(apierr.KindUpstreamUnavailable, err, "proxy request to remote").WithSession(sessionID)
	}
	defer resp.Body.Close()

	for k, v := range resp.Header {
		w.Header()[k] = v
	}
	w.WriteHeader(resp.StatusCode)
	if f, ok := w.(http.Flusher); ok {
		flushCopy(w, resp.Body, f)
		return nil
	}
	io.Copy(w, resp.Body)
	return nil
}

func flushCopy(w io.Writer, r io.Reader, f http.Flusher) {
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			w.Write(buf[:n])
			f.Flush()
		}
		if err != nil {
			return
		}
	}
}
