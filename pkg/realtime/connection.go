package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"dialer-realtime/internal/metrics"
)

// ConnectionOptions configures a Connection.
type ConnectionOptions struct {
	// AuthToken is attached to every subscribe request.
	AuthToken string
	// NewTransport builds the bus client. Required.
	NewTransport Factory
	Logger       *slog.Logger
}

type subscription struct {
	channel string
	handler Handler
	active  atomic.Bool
}

func (s *subscription) deliver(m Message) {
	if !s.active.Load() {
		return
	}
	s.handler(m)
}

// Connection keeps at most one subscription per channel and hides transport
// rebuilds from callers.
//
// Transport failures are logged at debug level and swallowed: a caller whose
// subscribe failed simply observes no events.
type Connection struct {
	token        string
	newTransport Factory
	log          *slog.Logger

	mu        sync.Mutex
	transport Transport
	subs      map[string]*subscription
	closed    bool
}

func NewConnection(opts ConnectionOptions) (*Connection, error) {
	if opts.NewTransport == nil {
		return nil, errors.New("realtime: transport factory is required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	c := &Connection{
		token:        opts.AuthToken,
		newTransport: opts.NewTransport,
		log:          log.With("component", "realtime"),
		subs:         make(map[string]*subscription),
	}
	t, err := c.newTransport(c.incoming)
	if err != nil {
		return nil, err
	}
	c.transport = t
	return c, nil
}

// Subscribe registers h for channel unless this connection already holds an
// active subscription for it.
func (c *Connection) Subscribe(ctx context.Context, channel string, h Handler) {
	if h == nil {
		return
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.log.Debug("subscribe after close ignored", "channel", channel)
		return
	}
	if _, ok := c.subs[channel]; ok {
		c.mu.Unlock()
		return
	}
	if c.transport == nil {
		// a previous rebuild failed
		t, err := c.newTransport(c.incoming)
		if err != nil {
			c.mu.Unlock()
			c.log.Debug("transport rebuild failed", "channel", channel, "err", err)
			return
		}
		c.transport = t
	}
	sub := &subscription{channel: channel, handler: h}
	sub.active.Store(true)
	c.subs[channel] = sub
	t := c.transport
	c.mu.Unlock()

	req := EnrichOutbound(Message{Channel: MetaSubscribe, Subscription: channel}, c.token)
	if err := t.Subscribe(ctx, req, c.wrap(sub)); err != nil {
		c.log.Debug("subscribe failed", "channel", channel, "err", err)
		sub.active.Store(false)
		c.mu.Lock()
		if c.subs[channel] == sub {
			delete(c.subs, channel)
		}
		c.mu.Unlock()
	}
}

// Unsubscribe drops the subscription for channel if there is one. The
// handler is invalidated first so deliveries racing the transport call are
// ignored.
func (c *Connection) Unsubscribe(ctx context.Context, channel string) {
	c.mu.Lock()
	sub, ok := c.subs[channel]
	if !ok {
		c.mu.Unlock()
		return
	}
	sub.active.Store(false)
	delete(c.subs, channel)
	t := c.transport
	c.mu.Unlock()

	req := EnrichOutbound(Message{Channel: MetaUnsubscribe, Subscription: channel}, c.token)
	if err := t.Unsubscribe(ctx, req); err != nil {
		c.log.Debug("unsubscribe failed", "channel", channel, "err", err)
	}
}

// Subscribed reports whether channel has an active subscription.
func (c *Connection) Subscribed(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub, ok := c.subs[channel]
	return ok && sub.active.Load()
}

// Channels lists the channels the transport currently has subscribed.
func (c *Connection) Channels() []string {
	c.mu.Lock()
	t := c.transport
	c.mu.Unlock()
	if t == nil {
		return nil
	}
	return t.Channels()
}

// Disconnect tears the transport down when no channels remain or force is
// set, then builds a fresh transport so a later Subscribe works. With
// channels still subscribed and force unset it does nothing.
func (c *Connection) Disconnect(force bool) {
	c.disconnect(force, true)
}

// Close force-disconnects without rebuilding. Later subscribes are ignored.
func (c *Connection) Close() error {
	c.disconnect(true, false)
	return nil
}

func (c *Connection) disconnect(force, rebuild bool) {
	c.mu.Lock()
	if c.closed || c.transport == nil {
		c.mu.Unlock()
		return
	}
	old := c.transport
	if !force && len(old.Channels()) > 0 {
		c.mu.Unlock()
		return
	}
	for ch, sub := range c.subs {
		sub.active.Store(false)
		delete(c.subs, ch)
	}
	c.transport = nil
	if rebuild {
		t, err := c.newTransport(c.incoming)
		if err != nil {
			c.log.Debug("transport rebuild failed", "err", err)
		} else {
			c.transport = t
			metrics.IncTransportRebuild()
		}
	} else {
		c.closed = true
	}
	c.mu.Unlock()

	if err := old.Disconnect(); err != nil {
		c.log.Debug("transport disconnect failed", "err", err)
	}
}

func (c *Connection) wrap(sub *subscription) Handler {
	return func(m Message) {
		m = c.inspect(m)
		sub.deliver(m)
	}
}

// incoming is the meta handler handed to every transport.
func (c *Connection) incoming(m Message) {
	m = c.inspect(m)
	if m.Channel == MetaUnsubscribe && m.Successful {
		c.Disconnect(false)
	}
}

// inspect applies inbound normalization and logs transport errors. Errored
// messages are still delivered: they may carry usable data.
func (c *Connection) inspect(m Message) Message {
	kind := "data"
	if m.IsMeta() {
		kind = "meta"
	}
	metrics.IncMessage(kind)
	m = NormalizeInbound(m)
	if m.Error != "" {
		metrics.IncTransportError(kind)
		c.log.Debug("error from notification server", "channel", m.Channel, "error", m.Error)
	}
	return m
}
