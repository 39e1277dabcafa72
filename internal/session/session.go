// Package session implements the on-disk Session Store: atomic
// SessionDirectory creation and the session.json read/update/list/delete
// contract. Only this package and internal/pty (via callbacks routed
// through it) ever touch a session's directory.
package session

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a Session. Transitions are monotonic:
// StatusStarting -> StatusRunning -> StatusExited.
type Status string

const (
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusExited   Status = "exited"
)

// Source distinguishes sessions spawned on this host from ones proxied
// from a federated remote.
type Source string

const (
	SourceLocal  Source = "local"
	SourceRemote Source = "remote"
)

// Info is the Session entity from spec.md §3, serialized verbatim as
// session.json.
type Info struct {
	ID         string   `json:"id"`
	Name       string   `json:"name,omitempty"`
	Command    []string `json:"command"`
	WorkingDir string   `json:"workingDir"`
	PID        int      `json:"pid,omitempty"`
	Status     Status   `json:"status"`
	ExitCode   *int     `json:"exitCode,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	Term       string   `json:"term"`
	Cols       int      `json:"cols"`
	Rows       int      `json:"rows"`

	Source     Source `json:"source,omitempty"`
	RemoteID   string `json:"remoteId,omitempty"`
	RemoteName string `json:"remoteName,omitempty"`
	RemoteURL  string `json:"remoteUrl,omitempty"`
}

// Snapshot is the frontend-safe projection returned by GET /api/sessions
// and GET /api/sessions/:id. It is identical to Info today but kept as a
// distinct type so internal-only fields can be added to Info later
// without changing the wire shape (mirrors the teacher's
// TmuxSession -> SessionSnapshot separation).
type Snapshot struct {
	ID         string    `json:"id"`
	Name       string    `json:"name,omitempty"`
	Command    []string  `json:"command"`
	WorkingDir string    `json:"workingDir"`
	PID        int       `json:"pid,omitempty"`
	Status     Status    `json:"status"`
	ExitCode   *int      `json:"exitCode,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	Term       string    `json:"term"`
	Cols       int       `json:"cols"`
	Rows       int       `json:"rows"`
	Source     Source    `json:"source,omitempty"`
	RemoteID   string    `json:"remoteId,omitempty"`
	RemoteName string    `json:"remoteName,omitempty"`
	RemoteURL  string    `json:"remoteUrl,omitempty"`
}

// ToSnapshot projects Info to its wire-safe Snapshot.
func (i Info) ToSnapshot() Snapshot {
	return Snapshot{
		ID:         i.ID,
		Name:       i.Name,
		Command:    i.Command,
		WorkingDir: i.WorkingDir,
		PID:        i.PID,
		Status:     i.Status,
		ExitCode:   i.ExitCode,
		StartedAt:  i.StartedAt,
		Term:       i.Term,
		Cols:       i.Cols,
		Rows:       i.Rows,
		Source:     i.Source,
		RemoteID:   i.RemoteID,
		RemoteName: i.RemoteName,
		RemoteURL:  i.RemoteURL,
	}
}

// GenerateID produces a new globally-unique session id.
func GenerateID() string {
	return uuid.NewString()
}
