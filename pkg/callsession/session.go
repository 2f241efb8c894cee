// Package callsession keeps a local, reconciled view of a remote call session
// and exposes the actions that control it.
package callsession

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"dialer-realtime/internal/metrics"
	"dialer-realtime/pkg/callevents"
	"dialer-realtime/pkg/dispatch"
	"dialer-realtime/pkg/realtime"
)

// EventName names the events exposed to applications.
type EventName string

const (
	EventStateChanged        EventName = "stateChanged"
	EventOutboundCallChanged EventName = "outboundCallChanged"
	EventLeadRequested       EventName = "leadRequested"
)

var (
	ErrDestroyed    = errors.New("callsession: session destroyed")
	ErrUnknownEvent = errors.New("callsession: unknown event name")
)

// Subscriber is the part of realtime.Connection a session needs.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string, h realtime.Handler)
	Unsubscribe(ctx context.Context, channel string)
}

// Requester sends one REST request. *restapi.Client satisfies it.
type Requester interface {
	Do(ctx context.Context, method, path string, body, out any) error
}

// Observation describes how one decoded event was reconciled.
type Observation struct {
	SessionID string
	Event     callevents.Event
	// EntityID is the session id or outbound call id the event targeted.
	EntityID string
	Outcome  string
}

// Observer receives every reconciliation outcome. It must not block.
type Observer interface {
	Observe(ctx context.Context, o Observation)
}

// Options configures a CallSession.
type Options struct {
	UserID   string
	Realtime Subscriber
	API      Requester
	Observer Observer
	Logger   *slog.Logger
}

// CallSession subscribes to the user's call channel, reconciles incoming
// events into a Model and a Registry, and re-emits accepted changes to
// application listeners.
//
// Messages are processed one at a time. Listeners run on the delivering
// goroutine and may call the read accessors.
type CallSession struct {
	userID  string
	channel string
	rt      Subscriber
	api     Requester
	obs     Observer
	log     *slog.Logger

	model    *Model
	registry *Registry

	internal *dispatch.Dispatcher[callevents.Kind, callevents.Event]
	external *dispatch.Dispatcher[EventName, callevents.Event]

	procMu    sync.Mutex
	destroyed atomic.Bool
	destroy   sync.Once
}

// New builds a session and subscribes to the user's call channel.
func New(ctx context.Context, opts Options) (*CallSession, error) {
	if opts.UserID == "" {
		return nil, errors.New("callsession: user id is required")
	}
	if opts.Realtime == nil {
		return nil, errors.New("callsession: realtime subscriber is required")
	}
	if opts.API == nil {
		return nil, errors.New("callsession: api requester is required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "callsession", "user_id", opts.UserID)

	s := &CallSession{
		userID:   opts.UserID,
		channel:  realtime.ChannelName(opts.UserID),
		rt:       opts.Realtime,
		api:      opts.API,
		obs:      opts.Observer,
		log:      log,
		model:    NewModel(),
		registry: NewRegistry(),
		internal: dispatch.New[callevents.Kind, callevents.Event](log),
		external: dispatch.New[EventName, callevents.Event](log),
	}
	s.initializeEvents()
	s.rt.Subscribe(ctx, s.channel, s.handleMessage)
	return s, nil
}

func (s *CallSession) initializeEvents() {
	_, _ = s.internal.On(callevents.KindStateChanged, s.stateChanged)
	_, _ = s.internal.On(callevents.KindOutboundCallState, s.outboundCallChanged)
	_, _ = s.internal.On(callevents.KindRequestLead, s.leadRequested)
}

// On registers fn for name. The returned id is what Off expects.
func (s *CallSession) On(name EventName, fn func(callevents.Event)) (dispatch.ListenerID, error) {
	switch name {
	case EventStateChanged, EventOutboundCallChanged, EventLeadRequested:
	default:
		return 0, ErrUnknownEvent
	}
	if s.destroyed.Load() {
		return 0, ErrDestroyed
	}
	return s.external.On(name, fn)
}

func (s *CallSession) Off(name EventName, id dispatch.ListenerID) {
	s.external.Off(name, id)
}

// Channel is the realtime channel this session listens on.
func (s *CallSession) Channel() string { return s.channel }

func (s *CallSession) UserID() string { return s.userID }

func (s *CallSession) ID() string { return s.model.Snapshot().ID }

func (s *CallSession) State() callevents.SessionState { return s.model.Snapshot().State }

func (s *CallSession) Snapshot() Snapshot { return s.model.Snapshot() }

// OutboundCalls returns a copy of the registry keyed by call id.
func (s *CallSession) OutboundCalls() map[string]OutboundCall { return s.registry.All() }

func (s *CallSession) OutboundCall(id string) (OutboundCall, bool) { return s.registry.Get(id) }

// Fetch loads the current session from the API and overwrites the local
// view. A response without a session leaves the view unchanged. Events
// delivered while the request is in flight may be overwritten by the
// older snapshot.
func (s *CallSession) Fetch(ctx context.Context) error {
	if s.destroyed.Load() {
		return ErrDestroyed
	}
	var resp struct {
		CallSession map[string]any `json:"call_session"`
	}
	if err := s.api.Do(ctx, http.MethodGet, "call_sessions/current", nil, &resp); err != nil {
		return err
	}
	if resp.CallSession == nil {
		return nil
	}
	snap, err := parseSnapshot(resp.CallSession)
	if err != nil {
		return err
	}
	s.model.ApplySnapshot(snap)
	s.log.Debug("call session fetched", "session_id", snap.ID, "state", snap.State)
	return nil
}

// Destroy unsubscribes from the channel and drops every listener.
// Deliveries that race it are ignored.
func (s *CallSession) Destroy(ctx context.Context) {
	s.destroy.Do(func() {
		s.destroyed.Store(true)
		s.rt.Unsubscribe(ctx, s.channel)
		s.internal.Destroy()
		s.external.Destroy()
	})
}

// handleMessage is the entry point for every message on the channel.
func (s *CallSession) handleMessage(m realtime.Message) {
	if s.destroyed.Load() {
		return
	}
	s.procMu.Lock()
	defer s.procMu.Unlock()
	if s.destroyed.Load() {
		return
	}

	ev, err := callevents.Decode(m.Data)
	if err != nil {
		outcome := metrics.OutcomeInvalid
		if errors.Is(err, callevents.ErrUnknownEvent) {
			outcome = metrics.OutcomeUnknown
		}
		metrics.IncCallEvent("", outcome)
		s.log.Debug("dropping call event", "outcome", outcome, "err", err)
		return
	}
	s.internal.Trigger(ev.Kind(), ev)
}

func (s *CallSession) stateChanged(ev callevents.Event) {
	sc, ok := ev.(callevents.SessionStateChanged)
	if !ok {
		return
	}
	snap, accepted := s.model.ApplyStateChange(sc)
	s.record(ev, snap.ID, accepted)
	if accepted {
		s.external.Trigger(EventStateChanged, sc)
	}
}

func (s *CallSession) outboundCallChanged(ev callevents.Event) {
	oc, ok := ev.(callevents.OutboundCallChanged)
	if !ok {
		return
	}
	_, accepted := s.registry.Apply(oc)
	s.record(ev, oc.CallID, accepted)
	if accepted {
		s.external.Trigger(EventOutboundCallChanged, oc)
	}
}

func (s *CallSession) leadRequested(ev callevents.Event) {
	metrics.IncCallEvent(string(ev.Kind()), metrics.OutcomeRelayed)
	s.observe(Observation{SessionID: s.ID(), Event: ev, Outcome: metrics.OutcomeRelayed})
	s.external.Trigger(EventLeadRequested, ev)
}

func (s *CallSession) record(ev callevents.Event, entityID string, accepted bool) {
	outcome := metrics.OutcomeStale
	if accepted {
		outcome = metrics.OutcomeAccepted
	}
	metrics.IncCallEvent(string(ev.Kind()), outcome)
	s.observe(Observation{SessionID: s.ID(), Event: ev, EntityID: entityID, Outcome: outcome})
}

func (s *CallSession) observe(o Observation) {
	if s.obs == nil {
		return
	}
	s.obs.Observe(context.Background(), o)
}

func parseSnapshot(data map[string]any) (Snapshot, error) {
	id, err := callevents.ParseID(data["id"])
	if err != nil {
		return Snapshot{}, err
	}
	started, err := callevents.ParseDate(data["started_at"])
	if err != nil {
		return Snapshot{}, err
	}
	ended, err := callevents.ParseDate(data["ended_at"])
	if err != nil {
		return Snapshot{}, err
	}
	state, _ := data["state"].(string)
	return Snapshot{
		ID:        id,
		StartedAt: started,
		EndedAt:   ended,
		State:     callevents.SessionState(state),
	}, nil
}
