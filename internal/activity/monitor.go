// Package activity implements the Activity Monitor (C7): a single global
// poller that derives isActive from stream-out file growth, deliberately
// using size polling so it works uniformly for sessions any process
// created, not just ones this host's PTY Host is feeding.
package activity

import (
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"vibetunnel/internal/session"
)

const (
	pollInterval    = 100 * time.Millisecond
	quiesceDuration = 500 * time.Millisecond
)

type trackedState struct {
	lastSize   int64
	lastGrowth time.Time
	isActive   bool
}

// Monitor owns one background tick loop shared by every session on this
// host.
type Monitor struct {
	store *session.Store

	mu     sync.Mutex
	states map[string]*trackedState

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Monitor bound to store. Call Start to begin ticking.
func New(store *session.Store) *Monitor {
	return &Monitor{
		store:  store,
		states: make(map[string]*trackedState),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start runs the poll loop until Stop is called.
func (m *Monitor) Start() {
	go m.run()
}

// Stop ends the poll loop and waits for it to exit.
func (m *Monitor) Stop() {
	close(m.stopCh)
	<-m.doneCh
}

func (m *Monitor) run() {
	defer close(m.doneCh)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

func (m *Monitor) tick() {
	sessions, err := m.store.ListSessions()
	if err != nil {
		slog.Warn("[activity] list sessions failed", "error", err)
		return
	}

	now := time.Now()
	seen := make(map[string]struct{}, len(sessions))

	for _, info := range sessions {
		seen[info.ID] = struct{}{}
		m.tickSession(info, now)
	}

	m.mu.Lock()
	for id := range m.states {
		if _, ok := seen[id]; !ok {
			delete(m.states, id)
		}
	}
	m.mu.Unlock()
}

func (m *Monitor) tickSession(info session.Info, now time.Time) {
	fi, err := os.Stat(m.store.StreamOutPath(info.ID))
	if err != nil {
		return
	}
	size := fi.Size()

	m.mu.Lock()
	st, ok := m.states[info.ID]
	if !ok {
		st = &trackedState{lastSize: size, lastGrowth: now}
		m.states[info.ID] = st
	}
	grew := size > st.lastSize
	st.lastSize = size
	if grew {
		st.lastGrowth = now
	}
	wasActive := st.isActive
	nowActive := grew || now.Sub(st.lastGrowth) < quiesceDuration
	st.isActive = nowActive
	lastGrowth := st.lastGrowth
	m.mu.Unlock()

	if nowActive == wasActive && !grew {
		return
	}

	status := session.ActivityStatus{
		IsActive:  nowActive,
		Timestamp: lastGrowth.UnixMilli(),
		Session:   info.ToSnapshot(),
	}
	if err := m.store.WriteActivity(info.ID, status); err != nil {
		slog.Warn("[activity] write activity.json failed", "session", info.ID, "error", err)
		return
	}
	slog.Debug("[activity] updated",
		"session", info.ID,
		"active", nowActive,
		"size", humanize.Bytes(uint64(size)),
	)
}
