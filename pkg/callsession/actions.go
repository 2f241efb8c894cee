package callsession

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"dialer-realtime/pkg/callevents"
)

// Action is a session control command sent as GET call_sessions/{id}/{action}.
type Action string

const (
	ActionHangup        Action = "hangup"
	ActionDisconnect    Action = "disconnect"
	ActionBeep          Action = "beep"
	ActionDialNext      Action = "dial_next"
	ActionCallMe        Action = "call_me"
	ActionResumeDialing Action = "resume_dialing"
	ActionPauseDialing  Action = "pause_dialing"
)

// Actions lists every supported action.
var Actions = []Action{
	ActionHangup, ActionDisconnect, ActionBeep, ActionDialNext,
	ActionCallMe, ActionResumeDialing, ActionPauseDialing,
}

func ParseAction(s string) (Action, error) {
	for _, a := range Actions {
		if string(a) == s {
			return a, nil
		}
	}
	return "", fmt.Errorf("callsession: unknown action %q", s)
}

// LeadSelectionMethod controls how the session picks leads.
type LeadSelectionMethod string

const (
	// LeadSelectionList dials a lead list loaded from a data source.
	LeadSelectionList LeadSelectionMethod = "list"
	// LeadSelectionQueue requests leads in realtime via leadRequested.
	LeadSelectionQueue LeadSelectionMethod = "queue"
)

func (m LeadSelectionMethod) Valid() bool {
	return m == LeadSelectionList || m == LeadSelectionQueue
}

var ErrNoLeads = errors.New("callsession: at least one lead is required")

// Lead is one contact submitted for dialing. MasterID is the contact's id in
// the external system.
type Lead struct {
	MasterID    string `json:"master_id"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Title       string `json:"title"`
	CompanyName string `json:"company_name"`
	Phone       string `json:"phone"`
	Email       string `json:"email"`
}

// Credentials are the one-time dial-in number and pin for starting a session.
type Credentials struct {
	PhoneNumber string
	PIN         string
}

// Send issues action against the current session.
func (s *CallSession) Send(ctx context.Context, action Action) error {
	if s.destroyed.Load() {
		return ErrDestroyed
	}
	return s.api.Do(ctx, http.MethodGet, s.path(string(action)), nil, nil)
}

// EndCallSession hangs up the call session.
func (s *CallSession) EndCallSession(ctx context.Context) error { return s.Send(ctx, ActionHangup) }

// EndOutboundCall hangs up the outbound call currently connected.
func (s *CallSession) EndOutboundCall(ctx context.Context) error {
	return s.Send(ctx, ActionDisconnect)
}

// Beep plays an audible beep, for testing audio and latency.
func (s *CallSession) Beep(ctx context.Context) error { return s.Send(ctx, ActionBeep) }

// DialNext dials the next lead and connects immediately.
func (s *CallSession) DialNext(ctx context.Context) error { return s.Send(ctx, ActionDialNext) }

// CallMe starts a session by calling the user's phone.
func (s *CallSession) CallMe(ctx context.Context) error { return s.Send(ctx, ActionCallMe) }

func (s *CallSession) Resume(ctx context.Context) error { return s.Send(ctx, ActionResumeDialing) }

func (s *CallSession) Pause(ctx context.Context) error { return s.Send(ctx, ActionPauseDialing) }

// Credentials requests one-time dial-in credentials. Each call invalidates
// the previous ones.
func (s *CallSession) Credentials(ctx context.Context) (Credentials, error) {
	if s.destroyed.Load() {
		return Credentials{}, ErrDestroyed
	}
	var resp struct {
		User struct {
			InboundPhone any `json:"inbound_phone"`
			InboundPin   any `json:"inbound_pin"`
		} `json:"user"`
	}
	path := fmt.Sprintf("users/%s/inbound_phone_credentials", url.PathEscape(s.userID))
	if err := s.api.Do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return Credentials{}, err
	}
	phone, err := callevents.ParseID(resp.User.InboundPhone)
	if err != nil {
		return Credentials{}, fmt.Errorf("inbound_phone: %w", err)
	}
	pin, err := callevents.ParseID(resp.User.InboundPin)
	if err != nil {
		return Credentials{}, fmt.Errorf("inbound_pin: %w", err)
	}
	return Credentials{PhoneNumber: phone, PIN: pin}, nil
}

// SubmitLeads queues leads for dialing in the given order.
func (s *CallSession) SubmitLeads(ctx context.Context, leads ...Lead) error {
	if s.destroyed.Load() {
		return ErrDestroyed
	}
	if len(leads) == 0 {
		return ErrNoLeads
	}
	body := map[string]any{"leads": leads}
	return s.api.Do(ctx, http.MethodPost, s.path("leads"), body, nil)
}

// ClearLeads drops every submitted lead.
func (s *CallSession) ClearLeads(ctx context.Context) error {
	if s.destroyed.Load() {
		return ErrDestroyed
	}
	return s.api.Do(ctx, http.MethodDelete, s.path("leads"), nil, nil)
}

func (s *CallSession) SetLeadSelectionMethod(ctx context.Context, method LeadSelectionMethod) error {
	if s.destroyed.Load() {
		return ErrDestroyed
	}
	if !method.Valid() {
		return fmt.Errorf("callsession: invalid lead selection method %q", method)
	}
	body := map[string]any{"call_session": map[string]any{"lead_selection_method": string(method)}}
	return s.api.Do(ctx, http.MethodPut, s.path(""), body, nil)
}

func (s *CallSession) path(action string) string {
	base := "call_sessions/" + url.PathEscape(s.ID())
	if action == "" {
		return base
	}
	return base + "/" + action
}
