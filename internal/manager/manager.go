// Package manager implements the Session Manager (C8): the single
// component that enumerates, creates, and tears down sessions, reaps
// zombies, and translates input/resize submissions into writes on a
// session's stdin/control transports rather than touching the PTY fd
// directly (that stays C3's exclusive responsibility).
package manager

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"vibetunnel/internal/apierr"
	"vibetunnel/internal/buffer"
	"vibetunnel/internal/castfile"
	"vibetunnel/internal/pty"
	"vibetunnel/internal/session"
	"vibetunnel/internal/vt"
)

const zombieReapInterval = 30 * time.Second

// CreateSpec is the input to Create.
type CreateSpec struct {
	Name       string
	Command    []string
	WorkingDir string
	Env        []string
	Cols       int
	Rows       int
	Term       string

	// RemoteID, if set, routes creation to a federated remote instead of
	// spawning locally (spec.md §4.8). Routing is internal/federation's
	// job; Create rejects a non-empty RemoteID with KindInvalidInput.
	RemoteID string
}

type liveSession struct {
	host     *pty.Host
	emulator *vt.Emulator
}

// Manager owns the local Session Store and every live PTY Host on this
// host, and fans out PTY output to the VT emulator and buffer aggregator.
type Manager struct {
	store *session.Store
	agg   *buffer.Aggregator

	mu   sync.RWMutex
	live map[string]*liveSession

	stopReap chan struct{}
	doneReap chan struct{}
}

// New constructs a Manager. agg may be nil if buffer fan-out isn't wired
// (e.g. in tests that have no WS layer).
func New(store *session.Store, agg *buffer.Aggregator) *Manager {
	return &Manager{
		store:    store,
		agg:      agg,
		live:     make(map[string]*liveSession),
		stopReap: make(chan struct{}),
		doneReap: make(chan struct{}),
	}
}

// Start reaps zombies immediately, then every 30s, per spec.md §4.8.
func (m *Manager) Start() {
	m.reapZombies()
	go m.reapLoop()
}

func (m *Manager) Stop() {
	close(m.stopReap)
	<-m.doneReap
}

func (m *Manager) reapLoop() {
	defer close(m.doneReap)
	ticker := time.NewTicker(zombieReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopReap:
			return
		case <-ticker.C:
			m.reapZombies()
		}
	}
}

// reapZombies marks untracked sessions whose pid is no longer alive as
// exited (i.e. nothing in this process is tracking the PTY anymore, e.g.
// after a crash/restart): with the code from the cast file's exit record
// if it has one, otherwise with exit code -1.
func (m *Manager) reapZombies() {
	infos, err := m.store.ListSessions()
	if err != nil {
		slog.Warn("[manager] list sessions for reap failed", "error", err)
		return
	}
	for _, info := range infos {
		if info.Status != session.StatusRunning {
			continue
		}
		m.mu.RLock()
		_, tracked := m.live[info.ID]
		m.mu.RUnlock()
		if tracked {
			continue // this process owns it; its own onExit will fire
		}
		if info.PID != 0 && pty.ProcessAlive(info.PID) {
			continue
		}
		code := -1
		if _, records, err := castfile.ReadAll(m.store.StreamOutPath(info.ID)); err == nil &&
			len(records) > 0 && records[len(records)-1].IsExit() {
			code = records[len(records)-1].ExitCode
		}
		err := m.store.UpdateSession(info.ID, func(i *session.Info) error {
			i.Status = session.StatusExited
			i.ExitCode = &code
			return nil
		})
		if err != nil {
			slog.Warn("[manager] reap zombie failed", "session", info.ID, "error", err)
			continue
		}
		slog.Info("[manager] reaped zombie session", "session", info.ID, "pid", info.PID)
	}
}

// StreamOutPath exposes a session's cast file path for the Stream
// Watcher, which tails it independently of the Manager.
func (m *Manager) StreamOutPath(id string) string {
	return m.store.StreamOutPath(id)
}

// ReadActivity exposes the Activity Monitor's last-written status for a
// session, used by the REST activity endpoint.
func (m *Manager) ReadActivity(id string) (session.ActivityStatus, error) {
	return m.store.ReadActivity(id)
}

// List returns the sessions in the local Session Store. Merging in remote
// sessions is federation's job; callers that are HQ-aware append those
// results after calling List.
func (m *Manager) List() ([]session.Snapshot, error) {
	infos, err := m.store.ListSessions()
	if err != nil {
		return nil, err
	}
	out := make([]session.Snapshot, len(infos))
	for i, info := range infos {
		out[i] = info.ToSnapshot()
	}
	return out, nil
}

// Create spawns a new local PTY session. Remote-routed creation
// (spec.RemoteID set) is federation's responsibility; the Manager
// returns apierr.KindInvalidInput if asked to create a remote session
// directly, since it has no transport to a remote on its own.
func (m *Manager) Create(spec CreateSpec) (session.Snapshot, error) {
	if spec.RemoteID != "" {
		return session.Snapshot{}, apierr.New(apierr.KindInvalidInput, "remote-routed create must go through federation")
	}
	if len(spec.Command) == 0 {
		return session.Snapshot{}, apierr.New(apierr.KindInvalidInput, "command must not be empty")
	}
	cols, rows := spec.Cols, spec.Rows
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}
	term := spec.Term
	if term == "" {
		term = "xterm-256color"
	}

	id := session.GenerateID()
	info := session.Info{
		ID:         id,
		Name:       spec.Name,
		Command:    spec.Command,
		WorkingDir: spec.WorkingDir,
		Status:     session.StatusStarting,
		StartedAt:  time.Now(),
		Term:       term,
		Cols:       cols,
		Rows:       rows,
		Source:     session.SourceLocal,
	}
	if err := m.store.CreateSessionDir(info); err != nil {
		return session.Snapshot{}, err
	}

	host, err := pty.Spawn(m.store, pty.Config{
		SessionID:  id,
		Command:    spec.Command,
		WorkingDir: spec.WorkingDir,
		Env:        spec.Env,
		Cols:       cols,
		Rows:       rows,
		Term:       term,
	})
	if err != nil {
		m.store.UpdateSession(id, func(i *session.Info) error {
			i.Status = session.StatusExited
			code := -1
			i.ExitCode = &code
			return nil
		})
		return session.Snapshot{}, err
	}

	emulator := vt.NewEmulator(cols, rows)
	live := &liveSession{host: host, emulator: emulator}

	m.mu.Lock()
	m.live[id] = live
	m.mu.Unlock()

	host.OnOutput(func(data []byte) {
		emulator.Feed(data)
	})
	if m.agg != nil {
		go func() {
			for range emulator.ChangeSignal() {
				m.agg.Publish(id, emulator.Snapshot())
			}
		}()
	}
	host.OnExit(func(code int) {
		emulator.Close()
		m.store.UpdateSession(id, func(i *session.Info) error {
			i.Status = session.StatusExited
			i.ExitCode = &code
			i.PID = 0
			return nil
		})
		if m.agg != nil {
			m.agg.RemoveSession(id)
		}
		m.mu.Lock()
		delete(m.live, id)
		m.mu.Unlock()
	})

	if err := host.StartTransportPumps(m.store.StdinPath(id), m.store.ControlPath(id)); err != nil {
		slog.Warn("[manager] start transport pumps failed", "session", id, "error", err)
	}

	err = m.store.UpdateSession(id, func(i *session.Info) error {
		i.Status = session.StatusRunning
		i.PID = host.PID()
		return nil
	})
	if err != nil {
		return session.Snapshot{}, err
	}

	info, err = m.store.ReadSession(id)
	if err != nil {
		return session.Snapshot{}, err
	}
	return info.ToSnapshot(), nil
}

// Kill sends signal (default "TERM") to a locally-owned session.
func (m *Manager) Kill(id, signal string) error {
	m.mu.RLock()
	live, ok := m.live[id]
	m.mu.RUnlock()
	if !ok {
		return apierr.New(apierr.KindNotFound, "session not tracked by this process").WithSession(id)
	}
	if signal == "" {
		signal = "TERM"
	}
	return live.host.Kill(signal)
}

// requireRunning returns apierr.KindSessionExited if id has already
// exited, so callers fail fast instead of opening a transport FIFO whose
// read end was closed at exit (which would otherwise block forever).
func (m *Manager) requireRunning(id string) error {
	info, err := m.store.ReadSession(id)
	if err != nil {
		return err
	}
	if info.Status == session.StatusExited {
		return apierr.New(apierr.KindSessionExited, "session has exited").WithSession(id)
	}
	return nil
}

// SubmitInput writes data to a session's stdin transport, per spec.md
// §4.8: the Manager never touches the PTY fd directly.
func (m *Manager) SubmitInput(id string, data []byte) error {
	if err := m.requireRunning(id); err != nil {
		return err
	}
	f, err := os.OpenFile(m.store.StdinPath(id), os.O_WRONLY, 0)
	if err != nil {
		return apierr.Wrap(apierr.KindIOError, err, "open stdin transport").WithSession(id)
	}
	defer f.Close()
	_, err = f.Write(data)
	if err != nil {
		return apierr.Wrap(apierr.KindIOError, err, "write stdin transport").WithSession(id)
	}
	return nil
}

// SubmitResize writes a resize control command to a session's control
// transport. The "cmd" discriminator is required: internal/pty's
// dispatchControl switches on it, and a payload missing it falls through
// to the default/ignored case.
func (m *Manager) SubmitResize(id string, cols, rows int) error {
	line := fmt.Sprintf(`{"cmd":"resize","cols":%d,"rows":%d}`+"\n", cols, rows)
	return m.writeControl(id, line)
}

func (m *Manager) writeControl(id, line string) error {
	if err := m.requireRunning(id); err != nil {
		return err
	}
	f, err := os.OpenFile(m.store.ControlPath(id), os.O_WRONLY, 0)
	if err != nil {
		return apierr.Wrap(apierr.KindIOError, err, "open control transport").WithSession(id)
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		return apierr.Wrap(apierr.KindIOError, err, "write control transport").WithSession(id)
	}
	return nil
}

// Snapshot returns the current VT buffer snapshot for a locally-tracked
// session, used by the REST buffer endpoint as a fallback to the WS feed.
func (m *Manager) Snapshot(id string) (vt.BufferSnapshot, error) {
	m.mu.RLock()
	live, ok := m.live[id]
	m.mu.RUnlock()
	if !ok {
		return vt.BufferSnapshot{}, apierr.New(apierr.KindNotFound, "session not tracked by this process").WithSession(id)
	}
	return live.emulator.Snapshot(), nil
}

// Cleanup removes one exited session's directory.
func (m *Manager) Cleanup(id string) error {
	return m.store.DeleteSession(id)
}

// CleanupAllExited walks every exited session and removes its directory.
func (m *Manager) CleanupAllExited() (int, error) {
	infos, err := m.store.ListSessions()
	if err != nil {
		return 0, err
	}
	var removed int
	for _, info := range infos {
		if info.Status != session.StatusExited {
			continue
		}
		if err := m.store.DeleteSession(info.ID); err != nil {
			slog.Warn("[manager] cleanup exited session failed", "session", info.ID, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}
