package journal

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"dialer-realtime/pkg/callevents"
	"dialer-realtime/pkg/callsession"

	"github.com/google/uuid"
)

// Repository is the persistence contract for journal entries.
//
// It MUST be append-only.
type Repository interface {
	Append(ctx context.Context, e Entry) error
	Recent(ctx context.Context, userID string, limit int) ([]Entry, error)
}

// Service journals reconciled call events. It implements
// callsession.Observer; callers treat it as best-effort.
type Service struct {
	repo   Repository
	userID string
	clock  func() time.Time
	log    *slog.Logger
}

func NewService(repo Repository, userID string, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, userID: userID, clock: time.Now, log: log.With("component", "journal")}
}

var ErrInvalidEntry = errors.New("journal: invalid entry")

func (s *Service) Append(ctx context.Context, e Entry) error {
	if s.repo == nil {
		return errors.New("journal: repository not configured")
	}
	if e.UserID == "" || e.Kind == "" {
		return ErrInvalidEntry
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// Observe records one reconciliation outcome. Failures are logged, never
// returned.
func (s *Service) Observe(ctx context.Context, o callsession.Observation) {
	if o.Event == nil {
		return
	}
	e := Entry{
		UserID:    s.userID,
		SessionID: o.SessionID,
		Kind:      string(o.Event.Kind()),
		EntityID:  o.EntityID,
		Outcome:   o.Outcome,
	}
	if ts := o.Event.Time(); ts.Valid {
		v := ts.Value
		e.ServerTime = &v
	}
	if b, err := json.Marshal(callevents.Payload(o.Event)); err == nil {
		e.Payload = string(b)
	}
	if err := s.Append(ctx, e); err != nil {
		s.log.Warn("journal append failed", "kind", e.Kind, "outcome", e.Outcome, "err", err)
	}
}

func (s *Service) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if s.repo == nil {
		return nil, errors.New("journal: repository not configured")
	}
	return s.repo.Recent(ctx, s.userID, limit)
}
