package callsession

import (
	"testing"
	"time"

	"dialer-realtime/pkg/callevents"
)

func stateAt(state callevents.SessionState, ts float64) callevents.SessionStateChanged {
	return callevents.SessionStateChanged{SessionID: "s1", State: state, ServerTime: callevents.At(ts)}
}

func permutations(n int) [][]int {
	if n == 1 {
		return [][]int{{0}}
	}
	var out [][]int
	for _, p := range permutations(n - 1) {
		for i := 0; i <= len(p); i++ {
			q := make([]int, 0, n)
			q = append(q, p[:i]...)
			q = append(q, n-1)
			q = append(q, p[i:]...)
			out = append(out, q)
		}
	}
	return out
}

func TestModel_Defaults(t *testing.T) {
	s := NewModel().Snapshot()
	if s.ID != DefaultSessionID || s.State != callevents.SessionOffline {
		t.Fatalf("unexpected defaults %+v", s)
	}
}

func TestModel_FinalStateIsNewestRegardlessOfOrder(t *testing.T) {
	events := []callevents.SessionStateChanged{
		stateAt(callevents.SessionInitializing, 1),
		stateAt(callevents.SessionIdle, 4),
		stateAt(callevents.SessionConnecting, 9),
		stateAt(callevents.SessionPaused, 2),
	}
	for _, order := range permutations(len(events)) {
		m := NewModel()
		for _, i := range order {
			m.ApplyStateChange(events[i])
		}
		if got := m.Snapshot().State; got != callevents.SessionConnecting {
			t.Fatalf("order %v: expected connecting, got %s", order, got)
		}
		if m.LastServerTime() != callevents.At(9) {
			t.Fatalf("order %v: unexpected track %+v", order, m.LastServerTime())
		}
	}
}

func TestModel_DuplicateIsRejected(t *testing.T) {
	m := NewModel()
	ev := stateAt(callevents.SessionConnected, 3)
	if _, ok := m.ApplyStateChange(ev); !ok {
		t.Fatalf("expected first application accepted")
	}
	if _, ok := m.ApplyStateChange(ev); ok {
		t.Fatalf("expected duplicate rejected")
	}
	if m.Snapshot().State != callevents.SessionConnected {
		t.Fatalf("unexpected state %s", m.Snapshot().State)
	}
}

// Equal timestamps are dropped even when the payload differs. A distinct
// update that shares a timestamp is lost; this is the strict ordering rule.
func TestModel_EqualTimestampWithDifferentPayloadIsDropped(t *testing.T) {
	m := NewModel()
	m.ApplyStateChange(stateAt(callevents.SessionConnecting, 5))
	if _, ok := m.ApplyStateChange(stateAt(callevents.SessionConnected, 5)); ok {
		t.Fatalf("expected equal timestamp rejected")
	}
	if m.Snapshot().State != callevents.SessionConnecting {
		t.Fatalf("expected first state kept, got %s", m.Snapshot().State)
	}
}

func TestModel_UntimestampedEventsApplyWithoutMovingTrack(t *testing.T) {
	m := NewModel()
	m.ApplyStateChange(stateAt(callevents.SessionConnecting, 5))

	snap, ok := m.ApplyStateChange(callevents.SessionStateChanged{State: callevents.SessionPaused})
	if !ok || snap.State != callevents.SessionPaused {
		t.Fatalf("expected untimestamped event applied, got %+v ok=%v", snap, ok)
	}
	if snap.ID != "s1" {
		t.Fatalf("expected id kept when event carries none, got %q", snap.ID)
	}
	if m.LastServerTime() != callevents.At(5) {
		t.Fatalf("expected track unchanged, got %+v", m.LastServerTime())
	}
	if _, ok := m.ApplyStateChange(stateAt(callevents.SessionIdle, 4)); ok {
		t.Fatalf("expected older event still rejected")
	}
}

func TestModel_EventWithoutTargetStateKeepsState(t *testing.T) {
	m := NewModel()
	m.ApplyStateChange(stateAt(callevents.SessionConnected, 1))

	snap, ok := m.ApplyStateChange(callevents.SessionStateChanged{SessionID: "s2", ServerTime: callevents.At(2)})
	if !ok || snap.State != callevents.SessionConnected || snap.ID != "s2" {
		t.Fatalf("unexpected snapshot %+v ok=%v", snap, ok)
	}
	if m.LastServerTime() != callevents.At(2) {
		t.Fatalf("expected track moved, got %+v", m.LastServerTime())
	}
}

func TestModel_SnapshotOverwritesWithoutTouchingTrack(t *testing.T) {
	m := NewModel()
	m.ApplyStateChange(stateAt(callevents.SessionConnecting, 5))

	started := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	m.ApplySnapshot(Snapshot{ID: "s9", StartedAt: &started, State: callevents.SessionIdle})

	s := m.Snapshot()
	if s.ID != "s9" || s.State != callevents.SessionIdle || s.StartedAt == nil || !s.StartedAt.Equal(started) {
		t.Fatalf("unexpected snapshot %+v", s)
	}
	if _, ok := m.ApplyStateChange(stateAt(callevents.SessionConnected, 5)); ok {
		t.Fatalf("expected track to survive snapshot")
	}
	if _, ok := m.ApplyStateChange(stateAt(callevents.SessionConnected, 6)); !ok {
		t.Fatalf("expected newer event accepted after snapshot")
	}
}

func TestRegistry_IndependentTracks(t *testing.T) {
	r := NewRegistry()
	r.Apply(callevents.OutboundCallChanged{CallID: "A", State: callevents.CallConnected, ServerTime: callevents.At(10)})

	b, ok := r.Apply(callevents.OutboundCallChanged{CallID: "B", State: callevents.CallDialing, ServerTime: callevents.At(1)})
	if !ok || b.State != callevents.CallDialing {
		t.Fatalf("expected B accepted despite A's newer track, got %+v", b)
	}
	a, _ := r.Get("A")
	if a.State != callevents.CallConnected {
		t.Fatalf("expected A untouched, got %+v", a)
	}
	if r.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", r.Len())
	}
}

func TestRegistry_ReplacesWholeEntryOnAccept(t *testing.T) {
	r := NewRegistry()
	started := time.Now().UTC()
	r.Apply(callevents.OutboundCallChanged{CallID: "1", State: callevents.CallDialing, LeadID: "L", MasterID: "crm", StartedAt: &started, ServerTime: callevents.At(1)})
	got, ok := r.Apply(callevents.OutboundCallChanged{CallID: "1", State: callevents.CallOffline, LeadID: "L", ServerTime: callevents.At(2)})
	if !ok {
		t.Fatalf("expected accepted")
	}
	if got.MasterID != "" || got.StartedAt != nil || got.LastServerTime != callevents.At(2) {
		t.Fatalf("expected entry to mirror the newest event, got %+v", got)
	}

	all := r.All()
	delete(all, "1")
	if _, ok := r.Get("1"); !ok {
		t.Fatalf("All must return a copy")
	}
}
