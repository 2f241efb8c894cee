package devserver

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strconv"
	"sync"
	"time"

	"dialer-realtime/pkg/callevents"
	"dialer-realtime/pkg/callsession"

	"github.com/google/uuid"
)

var (
	ErrUnknownUser    = errors.New("devserver: unknown user")
	ErrNoSession      = errors.New("devserver: no call session")
	ErrSessionActive  = errors.New("devserver: call session already active")
	ErrSessionOffline = errors.New("devserver: call session is offline")
	ErrNoActiveCall   = errors.New("devserver: no outbound call in progress")
	ErrUnknownCall    = errors.New("devserver: unknown outbound call")
	ErrInvalidInput   = errors.New("devserver: invalid input")
)

// Reasons attached to state_changed events.
const (
	ReasonAgentAnswered = "agent_answered"
	ReasonDialing       = "dialing"
	ReasonLeadAnswered  = "lead_answered"
	ReasonCallEnded     = "call_ended"
	ReasonNoLeads       = "no_leads"
	ReasonPaused        = "paused"
	ReasonHangup        = "hangup"
)

// User is a dialer account known to the dev backend.
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// SessionView is the REST representation of a call session.
type SessionView struct {
	ID                  int64                           `json:"id"`
	StartedAt           *time.Time                      `json:"started_at"`
	EndedAt             *time.Time                      `json:"ended_at"`
	State               callevents.SessionState         `json:"state"`
	LeadSelectionMethod callsession.LeadSelectionMethod `json:"lead_selection_method"`
	QueuedLeads         int                             `json:"queued_leads"`
}

type queuedLead struct {
	id   string
	lead callsession.Lead
}

type outboundCall struct {
	id        string
	leadID    string
	masterID  string
	state     callevents.OutboundCallState
	startedAt *time.Time
	endedAt   *time.Time
}

func (c *outboundCall) event() callevents.OutboundCallChanged {
	return callevents.OutboundCallChanged{
		CallID:    c.id,
		State:     c.state,
		LeadID:    c.leadID,
		MasterID:  c.masterID,
		StartedAt: c.startedAt,
		EndedAt:   c.endedAt,
	}
}

type session struct {
	id        int64
	startedAt *time.Time
	endedAt   *time.Time
	state     callevents.SessionState
	method    callsession.LeadSelectionMethod
	leads     []queuedLead
	active    *outboundCall
	calls     map[string]*outboundCall
}

func (s *session) live() bool { return s.state != callevents.SessionOffline }

func (s *session) view() SessionView {
	return SessionView{
		ID:                  s.id,
		StartedAt:           s.startedAt,
		EndedAt:             s.endedAt,
		State:               s.state,
		LeadSelectionMethod: s.method,
		QueuedLeads:         len(s.leads),
	}
}

// emitFunc receives every event the store produces, in order, while the
// store lock is held.
type emitFunc func(userID string, ev callevents.Event)

// Store simulates the dialer backend: one call session per user, a lead
// queue and the outbound calls placed from it.
type Store struct {
	mu     sync.Mutex
	now    func() time.Time
	emit   emitFunc
	phone  string
	method callsession.LeadSelectionMethod

	users    map[string]User
	sessions map[string]*session
	pins     map[string]string

	nextSession int64
	nextCall    int64
}

func newStore(now func() time.Time, emit emitFunc, phone string, method callsession.LeadSelectionMethod) *Store {
	if !method.Valid() {
		method = callsession.LeadSelectionList
	}
	return &Store{
		now:      now,
		emit:     emit,
		phone:    phone,
		method:   method,
		users:    make(map[string]User),
		sessions: make(map[string]*session),
		pins:     make(map[string]string),
	}
}

func (st *Store) AddUser(u User) {
	st.mu.Lock()
	st.users[u.ID] = u
	st.mu.Unlock()
}

func (st *Store) User(id string) (User, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	u, ok := st.users[id]
	if !ok {
		return User{}, ErrUnknownUser
	}
	return u, nil
}

// Credentials issues a fresh dial-in pin for userID, invalidating the last.
func (st *Store) Credentials(userID string) (phone, pin string, err error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.users[userID]; !ok {
		return "", "", ErrUnknownUser
	}
	pin = fmt.Sprintf("%04d", rand.IntN(10000))
	st.pins[userID] = pin
	return st.phone, pin, nil
}

// Current returns the user's latest session, live or not.
func (st *Store) Current(userID string) (SessionView, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[userID]
	if !ok {
		return SessionView{}, false
	}
	return s.view(), true
}

// Action applies a session control command. id is "current" or the
// session's numeric id.
func (st *Store) Action(userID, id string, action callsession.Action) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if action == callsession.ActionCallMe {
		return st.callMe(userID, id)
	}
	s, err := st.live(userID, id)
	if err != nil {
		return err
	}

	switch action {
	case callsession.ActionBeep:
		return nil
	case callsession.ActionPauseDialing:
		st.setState(userID, s, callevents.SessionPaused, ReasonPaused)
	case callsession.ActionResumeDialing:
		if s.active != nil {
			return nil
		}
		st.dialNext(userID, s)
	case callsession.ActionDialNext:
		st.dialNext(userID, s)
	case callsession.ActionDisconnect:
		if s.active == nil {
			return ErrNoActiveCall
		}
		st.endCall(userID, s)
		st.setState(userID, s, callevents.SessionIdle, ReasonCallEnded)
	case callsession.ActionHangup:
		if s.active != nil {
			st.endCall(userID, s)
		}
		ended := st.stamp()
		s.endedAt = &ended
		st.setState(userID, s, callevents.SessionOffline, ReasonHangup)
	default:
		return fmt.Errorf("%w: action %q", ErrInvalidInput, action)
	}
	return nil
}

// Answer simulates the lead picking up the outbound call callID.
func (st *Store) Answer(userID, id, callID string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, err := st.live(userID, id)
	if err != nil {
		return err
	}
	c, ok := s.calls[callID]
	if !ok {
		return ErrUnknownCall
	}
	if s.active != c || c.state != callevents.CallDialing {
		return ErrNoActiveCall
	}
	c.state = callevents.CallConnected
	st.emit(userID, c.event())
	st.setState(userID, s, callevents.SessionConnected, ReasonLeadAnswered)
	return nil
}

// SubmitLeads appends leads to the queue. A queue-mode session sitting idle
// dials the first one right away.
func (st *Store) SubmitLeads(userID, id string, leads []callsession.Lead) error {
	if len(leads) == 0 {
		return fmt.Errorf("%w: at least one lead is required", ErrInvalidInput)
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	s, err := st.live(userID, id)
	if err != nil {
		return err
	}
	for _, l := range leads {
		s.leads = append(s.leads, queuedLead{id: uuid.NewString(), lead: l})
	}
	if s.method == callsession.LeadSelectionQueue && s.state == callevents.SessionIdle && s.active == nil {
		st.dialNext(userID, s)
	}
	return nil
}

func (st *Store) ClearLeads(userID, id string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, err := st.resolve(userID, id)
	if err != nil {
		return err
	}
	s.leads = nil
	return nil
}

func (st *Store) SetLeadSelection(userID, id string, method callsession.LeadSelectionMethod) error {
	if !method.Valid() {
		return fmt.Errorf("%w: lead selection method %q", ErrInvalidInput, method)
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	s, err := st.resolve(userID, id)
	if err != nil {
		return err
	}
	s.method = method
	return nil
}

func (st *Store) callMe(userID, id string) error {
	if _, ok := st.users[userID]; !ok {
		return ErrUnknownUser
	}
	if s, ok := st.sessions[userID]; ok && s.live() {
		return ErrSessionActive
	}
	if id != "current" {
		return ErrNoSession
	}
	st.nextSession++
	started := st.stamp()
	s := &session{
		id:        st.nextSession,
		startedAt: &started,
		method:    st.method,
		calls:     make(map[string]*outboundCall),
	}
	st.sessions[userID] = s
	st.setState(userID, s, callevents.SessionInitializing, "")
	st.setState(userID, s, callevents.SessionIdle, ReasonAgentAnswered)
	return nil
}

func (st *Store) dialNext(userID string, s *session) {
	if s.active != nil {
		st.endCall(userID, s)
	}
	if len(s.leads) == 0 {
		if s.method == callsession.LeadSelectionQueue {
			st.emit(userID, callevents.LeadRequested{})
		}
		st.setState(userID, s, callevents.SessionIdle, ReasonNoLeads)
		return
	}
	next := s.leads[0]
	s.leads = slices.Delete(s.leads, 0, 1)

	st.nextCall++
	started := st.stamp()
	c := &outboundCall{
		id:        idString(st.nextCall),
		leadID:    next.id,
		masterID:  next.lead.MasterID,
		state:     callevents.CallDialing,
		startedAt: &started,
	}
	s.calls[c.id] = c
	s.active = c
	st.emit(userID, c.event())
	st.setState(userID, s, callevents.SessionConnecting, ReasonDialing)
}

func (st *Store) endCall(userID string, s *session) {
	c := s.active
	s.active = nil
	ended := st.stamp()
	c.state = callevents.CallOffline
	c.endedAt = &ended
	st.emit(userID, c.event())
}

func (st *Store) setState(userID string, s *session, state callevents.SessionState, reason string) {
	s.state = state
	st.emit(userID, callevents.SessionStateChanged{
		SessionID: idString(s.id),
		State:     state,
		Reason:    reason,
	})
}

func (st *Store) resolve(userID, id string) (*session, error) {
	s, ok := st.sessions[userID]
	if !ok {
		return nil, ErrNoSession
	}
	if id != "current" && id != idString(s.id) {
		return nil, ErrNoSession
	}
	return s, nil
}

func (st *Store) live(userID, id string) (*session, error) {
	s, err := st.resolve(userID, id)
	if err != nil {
		return nil, err
	}
	if !s.live() {
		return nil, ErrSessionOffline
	}
	return s, nil
}

func (st *Store) stamp() time.Time {
	return st.now().UTC().Truncate(time.Second)
}

func idString(id int64) string { return strconv.FormatInt(id, 10) }
