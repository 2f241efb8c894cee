package callsession

import (
	"maps"
	"sync"
	"time"

	"dialer-realtime/pkg/callevents"
)

// OutboundCall is the reconciled state of one dial attempt.
type OutboundCall struct {
	ID        string
	State     callevents.OutboundCallState
	LeadID    string
	MasterID  string
	StartedAt *time.Time
	EndedAt   *time.Time
	// LastServerTime orders updates for this call only.
	LastServerTime callevents.ServerTime
}

// Registry holds one OutboundCall per call id. Entries are never removed.
type Registry struct {
	mu    sync.RWMutex
	calls map[string]OutboundCall
}

func NewRegistry() *Registry {
	return &Registry{calls: make(map[string]OutboundCall)}
}

// Apply creates the entry for ev.CallID on first sight, otherwise replaces
// it when ev passes the same ordering rule as Model.ApplyStateChange against
// that entry's own track.
func (r *Registry) Apply(ev callevents.OutboundCallChanged) (OutboundCall, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, seen := r.calls[ev.CallID]
	if seen && !newer(ev.ServerTime, cur.LastServerTime) {
		return cur, false
	}
	next := OutboundCall{
		ID:             ev.CallID,
		State:          ev.State,
		LeadID:         ev.LeadID,
		MasterID:       ev.MasterID,
		StartedAt:      ev.StartedAt,
		EndedAt:        ev.EndedAt,
		LastServerTime: cur.LastServerTime,
	}
	if ev.ServerTime.Valid {
		next.LastServerTime = ev.ServerTime
	}
	r.calls[ev.CallID] = next
	return next, true
}

func (r *Registry) Get(id string) (OutboundCall, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.calls[id]
	return c, ok
}

// All returns a copy keyed by call id.
func (r *Registry) All() map[string]OutboundCall {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.calls)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.calls)
}
