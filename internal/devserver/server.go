// Package devserver simulates the dialer backend for local runs and tests:
// the REST API a call session drives, and the realtime events it pushes back.
package devserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"dialer-realtime/internal/auth"
	"dialer-realtime/pkg/callevents"
	"dialer-realtime/pkg/callsession"
	"dialer-realtime/pkg/logger"
	"dialer-realtime/pkg/realtime"
	"dialer-realtime/pkg/restapi"

	"github.com/gin-gonic/gin"
)

const (
	DefaultInboundPhone = "+15555550100"
	outboxSize          = 1024
)

type Options struct {
	Auth      *auth.Manager
	Publisher Publisher
	// Namespace prefixes every API route. Defaults to api/v1.
	Namespace           string
	Users               []User
	InboundPhone        string
	LeadSelectionMethod callsession.LeadSelectionMethod
	Logger              *slog.Logger
	Now                 func() time.Time
}

type delivery struct {
	channel string
	msg     realtime.Message
}

// Server serves the simulated API. Events produced by requests are queued in
// order and published by Run, so a listener reacting to an event may call
// back into the API without deadlocking the publisher.
type Server struct {
	store  *Store
	auth   *auth.Manager
	pub    Publisher
	ns     string
	log    *slog.Logger
	now    func() time.Time
	outbox chan delivery
	engine *gin.Engine
}

func New(opts Options) (*Server, error) {
	if opts.Auth == nil {
		return nil, errors.New("devserver: auth manager is required")
	}
	if opts.Publisher == nil {
		return nil, errors.New("devserver: publisher is required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	ns := strings.Trim(opts.Namespace, "/")
	if ns == "" {
		ns = restapi.DefaultNamespace
	}
	phone := opts.InboundPhone
	if phone == "" {
		phone = DefaultInboundPhone
	}

	s := &Server{
		auth:   opts.Auth,
		pub:    opts.Publisher,
		ns:     ns,
		log:    log.With("component", "devserver"),
		now:    now,
		outbox: make(chan delivery, outboxSize),
	}
	s.store = newStore(now, s.enqueue, phone, opts.LeadSelectionMethod)
	for _, u := range opts.Users {
		s.store.AddUser(u)
	}
	s.engine = s.routes()
	return s, nil
}

// Store exposes the simulated backend state.
func (s *Server) Store() *Store { return s.store }

// Handler is the HTTP handler serving the API.
func (s *Server) Handler() http.Handler { return s.engine }

// Run publishes queued events until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d := <-s.outbox:
			seq, err := s.pub.Publish(ctx, d.channel, d.msg)
			if err != nil {
				s.log.Error("publish failed", "channel", d.channel, "err", err)
				continue
			}
			s.log.Debug("event published", "channel", d.channel, "event", d.msg.Data[callevents.FieldEvent], "_time", seq)
		}
	}
}

func (s *Server) enqueue(userID string, ev callevents.Event) {
	ch := realtime.ChannelName(userID)
	s.outbox <- delivery{channel: ch, msg: realtime.Message{Channel: ch, Data: callevents.Payload(ev)}}
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(s.log))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/" + s.ns)
	api.Use(auth.RequireAPIToken(s.auth, s.now))
	{
		h := handlers{store: s.store}
		api.GET("/users", h.listUsers)
		api.GET("/users/:user_id/inbound_phone_credentials", h.credentials)

		api.GET("/call_sessions/:id", h.getSession)
		api.PUT("/call_sessions/:id", h.updateSession)
		api.GET("/call_sessions/:id/:action", h.action)
		api.POST("/call_sessions/:id/leads", h.submitLeads)
		api.DELETE("/call_sessions/:id/leads", h.clearLeads)
		api.POST("/call_sessions/:id/outbound_calls/:call_id/answer", h.answer)
	}
	return r
}
