package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"vibetunnel/internal/apierr"
)

const (
	sessionJSONFile  = "session.json"
	streamOutFile    = "stream-out"
	stdinFileName    = "stdin"
	controlFileName  = "control"
	activityJSONFile = "activity.json"

	dirPerm  = 0o700
	filePerm = 0o600
)

// Store owns the <control_dir>/<id>/ layout for every session on this
// host. One Store per process; it holds one mutex per session id so
// concurrent readers/writers of the same session.json serialize without
// blocking unrelated sessions.
type Store struct {
	controlDir string

	mu     sync.Mutex // guards locks map only
	locks  map[string]*sync.Mutex
}

// NewStore constructs a Store rooted at controlDir, creating it if absent.
func NewStore(controlDir string) (*Store, error) {
	if err := os.MkdirAll(controlDir, dirPerm); err != nil {
		return nil, apierr.Wrap(apierr.KindFatal, err, "create control dir")
	}
	return &Store{
		controlDir: controlDir,
		locks:      make(map[string]*sync.Mutex),
	}, nil
}

// ControlDir returns the root directory this Store manages.
func (s *Store) ControlDir() string { return s.controlDir }

// Dir returns the SessionDirectory path for id.
func (s *Store) Dir(id string) string { return filepath.Join(s.controlDir, id) }

func (s *Store) sessionJSONPath(id string) string  { return filepath.Join(s.Dir(id), sessionJSONFile) }
func (s *Store) streamOutPath(id string) string    { return filepath.Join(s.Dir(id), streamOutFile) }
func (s *Store) stdinPath(id string) string        { return filepath.Join(s.Dir(id), stdinFileName) }
func (s *Store) controlPath(id string) string      { return filepath.Join(s.Dir(id), controlFileName) }
func (s *Store) activityJSONPath(id string) string { return filepath.Join(s.Dir(id), activityJSONFile) }

// StreamOutPath exposes the cast file path for callers in other packages
// (Cast Writer, Stream Watcher, Activity Monitor).
func (s *Store) StreamOutPath(id string) string { return s.streamOutPath(id) }

// StdinPath exposes the stdin transport path.
func (s *Store) StdinPath(id string) string { return s.stdinPath(id) }

// ControlPath exposes the control transport path.
func (s *Store) ControlPath(id string) string { return s.controlPath(id) }

// ActivityJSONPath exposes the activity.json path.
func (s *Store) ActivityJSONPath(id string) string { return s.activityJSONPath(id) }

func (s *Store) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *Store) dropLock(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, id)
}

// CreateSessionDir builds the SessionDirectory atomically: it stages the
// directory under a hidden temp name, populates session.json and the two
// transport files inside it, then renames the directory into place so
// readers never observe a partially-initialized session. Fails with
// AlreadyExists if id is already present, or IOError on filesystem failure.
func (s *Store) CreateSessionDir(info Info) error {
	finalDir := s.Dir(info.ID)
	if _, err := os.Stat(finalDir); err == nil {
		return apierr.New(apierr.KindAlreadyExists, "session already exists").WithSession(info.ID)
	}

	stagingDir := filepath.Join(s.controlDir, ".tmp-"+info.ID)
	if err := os.RemoveAll(stagingDir); err != nil {
		return apierr.Wrap(apierr.KindIOError, err, "clear staging dir").WithSession(info.ID)
	}
	if err := os.MkdirAll(stagingDir, dirPerm); err != nil {
		return apierr.Wrap(apierr.KindIOError, err, "create staging dir").WithSession(info.ID)
	}

	if err := writeJSONAtomic(filepath.Join(stagingDir, sessionJSONFile), info); err != nil {
		os.RemoveAll(stagingDir)
		return apierr.Wrap(apierr.KindIOError, err, "write session.json").WithSession(info.ID)
	}

	streamOut, err := os.OpenFile(filepath.Join(stagingDir, streamOutFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, filePerm)
	if err != nil {
		os.RemoveAll(stagingDir)
		return apierr.Wrap(apierr.KindIOError, err, "create stream-out").WithSession(info.ID)
	}
	streamOut.Close()

	if err := createTransport(filepath.Join(stagingDir, stdinFileName)); err != nil {
		os.RemoveAll(stagingDir)
		return apierr.Wrap(apierr.KindIOError, err, "create stdin transport").WithSession(info.ID)
	}
	if err := createTransport(filepath.Join(stagingDir, controlFileName)); err != nil {
		os.RemoveAll(stagingDir)
		return apierr.Wrap(apierr.KindIOError, err, "create control transport").WithSession(info.ID)
	}

	if err := os.Rename(stagingDir, finalDir); err != nil {
		os.RemoveAll(stagingDir)
		return apierr.Wrap(apierr.KindIOError, err, "rename session dir into place").WithSession(info.ID)
	}
	return nil
}

// ReadSession parses session.json for id.
func (s *Store) ReadSession(id string) (Info, error) {
	data, err := os.ReadFile(s.sessionJSONPath(id))
	if errors.Is(err, os.ErrNotExist) {
		return Info{}, apierr.New(apierr.KindNotFound, "session not found").WithSession(id)
	}
	if err != nil {
		return Info{}, apierr.Wrap(apierr.KindIOError, err, "read session.json").WithSession(id)
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return Info{}, apierr.Wrap(apierr.KindCorrupt, err, "parse session.json").WithSession(id)
	}
	return info, nil
}

// UpdateSession reads, applies mutator, and atomically writes session.json
// back, all under the per-session lock.
func (s *Store) UpdateSession(id string, mutator func(*Info) error) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	info, err := s.ReadSession(id)
	if err != nil {
		return err
	}
	if err := mutator(&info); err != nil {
		return err
	}
	if err := writeJSONAtomic(s.sessionJSONPath(id), info); err != nil {
		return apierr.Wrap(apierr.KindIOError, err, "write session.json").WithSession(id)
	}
	return nil
}

// ListSessions enumerates subdirectories of the control dir. Missing or
// corrupt entries are skipped and logged, never fatal.
func (s *Store) ListSessions() ([]Info, error) {
	entries, err := os.ReadDir(s.controlDir)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindIOError, err, "list control dir")
	}
	infos := make([]Info, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || filepath.Base(entry.Name())[0] == '.' {
			continue
		}
		info, err := s.ReadSession(entry.Name())
		if err != nil {
			slog.Warn("[session] skipping unreadable session directory", "id", entry.Name(), "error", err)
			continue
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].StartedAt.After(infos[j].StartedAt) })
	return infos, nil
}

// DeleteSession removes the entire SessionDirectory. Refuses if the
// session is still running.
func (s *Store) DeleteSession(id string) error {
	info, err := s.ReadSession(id)
	if err != nil {
		return err
	}
	if info.Status == StatusRunning {
		return apierr.New(apierr.KindInvalidInput, "cannot delete a running session").WithSession(id)
	}
	if err := os.RemoveAll(s.Dir(id)); err != nil {
		return apierr.Wrap(apierr.KindIOError, err, "remove session dir").WithSession(id)
	}
	s.dropLock(id)
	return nil
}

// writeJSONAtomic marshals v, fsyncs it, then renames it into place at
// path so readers never observe a torn write.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePerm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s into place: %w", path, err)
	}
	return nil
}
