// Package callevents turns raw call-channel payloads into typed domain events.
package callevents

import (
	"errors"
	"time"
)

// Kind is the wire discriminator carried in the "event" field.
type Kind string

const (
	KindStateChanged      Kind = "state_changed"
	KindOutboundCallState Kind = "lead_outbound_call_state"
	KindRequestLead       Kind = "request_lead"
)

// FieldEvent is the payload key holding the discriminator.
const FieldEvent = "event"

var (
	ErrUnknownEvent = errors.New("callevents: unknown event")
	ErrMalformed    = errors.New("callevents: malformed payload")
)

// SessionState is the lifecycle state of a call session.
type SessionState string

const (
	SessionInitializing SessionState = "initializing"
	SessionPaused       SessionState = "paused"
	SessionIdle         SessionState = "idle"
	SessionConnecting   SessionState = "connecting"
	SessionConnected    SessionState = "connected"
	SessionOffline      SessionState = "offline"
)

// Known reports whether s is one of the documented states. Unknown states
// are still carried through so newer servers do not break older clients.
func (s SessionState) Known() bool {
	switch s {
	case SessionInitializing, SessionPaused, SessionIdle, SessionConnecting, SessionConnected, SessionOffline:
		return true
	}
	return false
}

// OutboundCallState is the state of one dial attempt.
type OutboundCallState string

const (
	CallDialing   OutboundCallState = "dialing"
	CallConnected OutboundCallState = "connected"
	CallOffline   OutboundCallState = "offline"
)

func (s OutboundCallState) Known() bool {
	switch s {
	case CallDialing, CallConnected, CallOffline:
		return true
	}
	return false
}

// ServerTime is the server-assigned ordering value attached to a realtime
// message. It is not a wall-clock time.
type ServerTime struct {
	Value float64
	Valid bool
}

// At returns a valid ServerTime.
func At(v float64) ServerTime {
	return ServerTime{Value: v, Valid: true}
}

// After reports whether t is strictly later than o. Both must be valid.
func (t ServerTime) After(o ServerTime) bool {
	return t.Valid && o.Valid && t.Value > o.Value
}

// Event is the closed set of call-channel events.
type Event interface {
	Kind() Kind
	Time() ServerTime
	isEvent()
}

// SessionStateChanged reports a call-session lifecycle transition.
type SessionStateChanged struct {
	SessionID  string
	State      SessionState
	Reason     string
	ServerTime ServerTime
}

func (SessionStateChanged) Kind() Kind         { return KindStateChanged }
func (e SessionStateChanged) Time() ServerTime { return e.ServerTime }
func (SessionStateChanged) isEvent()           {}

// OutboundCallChanged reports a state change of one outbound call.
type OutboundCallChanged struct {
	CallID string
	State  OutboundCallState
	LeadID string
	// MasterID is the lead's id in the external system (CRM contact id).
	MasterID   string
	StartedAt  *time.Time
	EndedAt    *time.Time
	ServerTime ServerTime
}

func (OutboundCallChanged) Kind() Kind         { return KindOutboundCallState }
func (e OutboundCallChanged) Time() ServerTime { return e.ServerTime }
func (OutboundCallChanged) isEvent()           {}

// LeadRequested asks the application to submit the next lead.
type LeadRequested struct {
	ServerTime ServerTime
}

func (LeadRequested) Kind() Kind         { return KindRequestLead }
func (e LeadRequested) Time() ServerTime { return e.ServerTime }
func (LeadRequested) isEvent()           {}
