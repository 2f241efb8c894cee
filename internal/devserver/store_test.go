package devserver

import (
	"errors"
	"testing"
	"time"

	"dialer-realtime/pkg/callevents"
	"dialer-realtime/pkg/callsession"
)

type emitted struct {
	userID string
	ev     callevents.Event
}

func newTestStore(method callsession.LeadSelectionMethod) (*Store, *[]emitted) {
	var out []emitted
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	st := newStore(func() time.Time { return now }, func(uid string, ev callevents.Event) {
		out = append(out, emitted{userID: uid, ev: ev})
	}, DefaultInboundPhone, method)
	st.AddUser(User{ID: "1", Email: "agent@example.com"})
	return st, &out
}

func states(evs []emitted) []callevents.SessionState {
	var out []callevents.SessionState
	for _, e := range evs {
		if sc, ok := e.ev.(callevents.SessionStateChanged); ok {
			out = append(out, sc.State)
		}
	}
	return out
}

func TestStore_CallMeStartsSession(t *testing.T) {
	st, evs := newTestStore(callsession.LeadSelectionList)

	if err := st.Action("1", "current", callsession.ActionCallMe); err != nil {
		t.Fatalf("call_me: %v", err)
	}
	got := states(*evs)
	if len(got) != 2 || got[0] != callevents.SessionInitializing || got[1] != callevents.SessionIdle {
		t.Fatalf("unexpected transitions %v", got)
	}
	view, ok := st.Current("1")
	if !ok || view.ID != 1 || view.State != callevents.SessionIdle || view.StartedAt == nil {
		t.Fatalf("unexpected session %+v", view)
	}
	if sc := (*evs)[1].ev.(callevents.SessionStateChanged); sc.SessionID != "1" || (*evs)[1].userID != "1" {
		t.Fatalf("unexpected event %+v", (*evs)[1])
	}

	if err := st.Action("1", "current", callsession.ActionCallMe); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("expected ErrSessionActive, got %v", err)
	}
	if err := st.Action("2", "current", callsession.ActionCallMe); !errors.Is(err, ErrUnknownUser) {
		t.Fatalf("expected ErrUnknownUser, got %v", err)
	}
}

func TestStore_ActionsRequireLiveSession(t *testing.T) {
	st, _ := newTestStore(callsession.LeadSelectionList)

	if err := st.Action("1", "current", callsession.ActionBeep); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
	_ = st.Action("1", "current", callsession.ActionCallMe)
	if err := st.Action("1", "99", callsession.ActionBeep); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession for a foreign id, got %v", err)
	}
	if err := st.Action("1", "1", callsession.ActionHangup); err != nil {
		t.Fatalf("hangup by id: %v", err)
	}
	if err := st.Action("1", "current", callsession.ActionPauseDialing); !errors.Is(err, ErrSessionOffline) {
		t.Fatalf("expected ErrSessionOffline, got %v", err)
	}
	if view, _ := st.Current("1"); view.EndedAt == nil || view.State != callevents.SessionOffline {
		t.Fatalf("expected ended session, got %+v", view)
	}
}

func TestStore_DialsLeadsInOrder(t *testing.T) {
	st, evs := newTestStore(callsession.LeadSelectionList)
	_ = st.Action("1", "current", callsession.ActionCallMe)

	leads := []callsession.Lead{{MasterID: "m-1"}, {MasterID: "m-2"}}
	if err := st.SubmitLeads("1", "current", leads); err != nil {
		t.Fatalf("submit: %v", err)
	}
	*evs = nil

	if err := st.Action("1", "current", callsession.ActionResumeDialing); err != nil {
		t.Fatalf("resume: %v", err)
	}
	first := (*evs)[0].ev.(callevents.OutboundCallChanged)
	if first.CallID != "1" || first.MasterID != "m-1" || first.State != callevents.CallDialing || first.LeadID == "" {
		t.Fatalf("unexpected first call %+v", first)
	}
	if got := states(*evs); len(got) != 1 || got[0] != callevents.SessionConnecting {
		t.Fatalf("expected connecting, got %v", got)
	}

	if err := st.Answer("1", "current", "1"); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if err := st.Answer("1", "current", "1"); !errors.Is(err, ErrNoActiveCall) {
		t.Fatalf("expected ErrNoActiveCall on re-answer, got %v", err)
	}
	if err := st.Answer("1", "current", "7"); !errors.Is(err, ErrUnknownCall) {
		t.Fatalf("expected ErrUnknownCall, got %v", err)
	}

	*evs = nil
	if err := st.Action("1", "current", callsession.ActionDialNext); err != nil {
		t.Fatalf("dial_next: %v", err)
	}
	ended := (*evs)[0].ev.(callevents.OutboundCallChanged)
	if ended.CallID != "1" || ended.State != callevents.CallOffline || ended.EndedAt == nil {
		t.Fatalf("expected first call ended, got %+v", ended)
	}
	second := (*evs)[1].ev.(callevents.OutboundCallChanged)
	if second.CallID != "2" || second.MasterID != "m-2" {
		t.Fatalf("unexpected second call %+v", second)
	}

	if err := st.Action("1", "current", callsession.ActionDisconnect); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if err := st.Action("1", "current", callsession.ActionDisconnect); !errors.Is(err, ErrNoActiveCall) {
		t.Fatalf("expected ErrNoActiveCall, got %v", err)
	}
}

func TestStore_QueueModeRequestsLeads(t *testing.T) {
	st, evs := newTestStore(callsession.LeadSelectionQueue)
	_ = st.Action("1", "current", callsession.ActionCallMe)
	*evs = nil

	if err := st.Action("1", "current", callsession.ActionDialNext); err != nil {
		t.Fatalf("dial_next: %v", err)
	}
	if _, ok := (*evs)[0].ev.(callevents.LeadRequested); !ok {
		t.Fatalf("expected request_lead first, got %+v", (*evs)[0].ev)
	}
	if got := states(*evs); len(got) != 1 || got[0] != callevents.SessionIdle {
		t.Fatalf("expected idle, got %v", got)
	}

	*evs = nil
	if err := st.SubmitLeads("1", "current", []callsession.Lead{{MasterID: "q-1"}}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	call, ok := (*evs)[0].ev.(callevents.OutboundCallChanged)
	if !ok || call.MasterID != "q-1" {
		t.Fatalf("expected submitted lead dialed at once, got %+v", (*evs)[0].ev)
	}
}

func TestStore_LeadSettings(t *testing.T) {
	st, _ := newTestStore("")
	_ = st.Action("1", "current", callsession.ActionCallMe)

	if view, _ := st.Current("1"); view.LeadSelectionMethod != callsession.LeadSelectionList {
		t.Fatalf("expected list by default, got %s", view.LeadSelectionMethod)
	}
	if err := st.SetLeadSelection("1", "current", "random"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if err := st.SetLeadSelection("1", "1", callsession.LeadSelectionQueue); err != nil {
		t.Fatalf("set method: %v", err)
	}
	if err := st.SubmitLeads("1", "current", nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for no leads, got %v", err)
	}
	_ = st.SubmitLeads("1", "current", []callsession.Lead{{MasterID: "a"}, {MasterID: "b"}})
	if view, _ := st.Current("1"); view.QueuedLeads != 1 || view.LeadSelectionMethod != callsession.LeadSelectionQueue {
		t.Fatalf("expected one lead left queued after auto dial, got %+v", view)
	}
	if err := st.ClearLeads("1", "current"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if view, _ := st.Current("1"); view.QueuedLeads != 0 {
		t.Fatalf("expected empty queue, got %d", view.QueuedLeads)
	}
}

func TestStore_CredentialsRotate(t *testing.T) {
	st, _ := newTestStore(callsession.LeadSelectionList)
	phone, pin, err := st.Credentials("1")
	if err != nil || phone != DefaultInboundPhone || len(pin) != 4 {
		t.Fatalf("unexpected credentials %q %q %v", phone, pin, err)
	}
	if _, _, err := st.Credentials("9"); !errors.Is(err, ErrUnknownUser) {
		t.Fatalf("expected ErrUnknownUser, got %v", err)
	}
}
