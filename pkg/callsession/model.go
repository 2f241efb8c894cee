package callsession

import (
	"sync"
	"time"

	"dialer-realtime/pkg/callevents"
)

// DefaultSessionID is used until a real id is observed.
const DefaultSessionID = "current"

// Snapshot is a point-in-time view of a call session.
type Snapshot struct {
	ID        string
	StartedAt *time.Time
	EndedAt   *time.Time
	State     callevents.SessionState
}

// Model is the local view of one call session. It changes only through
// ApplyStateChange and ApplySnapshot.
type Model struct {
	mu        sync.RWMutex
	id        string
	startedAt *time.Time
	endedAt   *time.Time
	state     callevents.SessionState
	// last is the server time of the last applied timestamped event.
	last callevents.ServerTime
}

func NewModel() *Model {
	return &Model{id: DefaultSessionID, state: callevents.SessionOffline}
}

// ApplyStateChange applies ev when no timestamped event has been applied
// yet, when ev is strictly newer than the last applied one, or when ev has
// no timestamp at all. Events with an equal or older timestamp are dropped.
// Untimestamped events do not move the ordering track. An event without a
// target state keeps the current one.
func (m *Model) ApplyStateChange(ev callevents.SessionStateChanged) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !newer(ev.ServerTime, m.last) {
		return m.snapshotLocked(), false
	}
	if ev.ServerTime.Valid {
		m.last = ev.ServerTime
	}
	if ev.SessionID != "" {
		m.id = ev.SessionID
	}
	if ev.State != "" {
		m.state = ev.State
	}
	return m.snapshotLocked(), true
}

// ApplySnapshot overwrites the model from an authoritative fetch. The
// ordering track is left as is.
func (m *Model) ApplySnapshot(s Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID != "" {
		m.id = s.ID
	}
	m.startedAt = s.StartedAt
	m.endedAt = s.EndedAt
	m.state = s.State
}

func (m *Model) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

// LastServerTime is the ordering value of the last applied timestamped event.
func (m *Model) LastServerTime() callevents.ServerTime {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

func (m *Model) snapshotLocked() Snapshot {
	return Snapshot{ID: m.id, StartedAt: m.startedAt, EndedAt: m.endedAt, State: m.state}
}

// newer is the last-writer-wins rule shared by the session and every
// outbound call.
func newer(t, last callevents.ServerTime) bool {
	if !t.Valid || !last.Valid {
		return true
	}
	return t.After(last)
}
