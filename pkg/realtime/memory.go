package realtime

import (
	"context"
	"errors"
	"slices"
	"sync"
)

// MemoryBroker is an in-process bus for tests and local runs. Publish
// delivers synchronously on the caller's goroutine. It is not durable.
type MemoryBroker struct {
	mu         sync.Mutex
	transports map[*MemoryTransport]struct{}
	requests   []Message
	authorize  func(Message) error
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{transports: make(map[*MemoryTransport]struct{})}
}

// Factory returns a transport factory bound to this broker.
func (b *MemoryBroker) Factory() Factory {
	return func(meta Handler) (Transport, error) {
		t := &MemoryTransport{broker: b, meta: meta, handlers: make(map[string]Handler)}
		b.mu.Lock()
		b.transports[t] = struct{}{}
		b.mu.Unlock()
		return t, nil
	}
}

// Publish delivers m to every live transport subscribed to channel. It
// returns the number of receivers.
func (b *MemoryBroker) Publish(_ context.Context, channel string, m Message) (int, error) {
	if m.Channel == "" {
		m.Channel = channel
	}
	b.mu.Lock()
	var hs []Handler
	for t := range b.transports {
		if h, ok := t.handler(channel); ok {
			hs = append(hs, h)
		}
	}
	b.mu.Unlock()

	for _, h := range hs {
		h(m)
	}
	return len(hs), nil
}

// SetAuthorizer installs a check run on every subscribe request. A non-nil
// error fails the subscribe.
func (b *MemoryBroker) SetAuthorizer(fn func(req Message) error) {
	b.mu.Lock()
	b.authorize = fn
	b.mu.Unlock()
}

func (b *MemoryBroker) authorizeSubscribe(req Message) error {
	b.mu.Lock()
	fn := b.authorize
	b.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(req)
}

// Requests returns the outbound /meta frames seen by the broker, in order.
func (b *MemoryBroker) Requests() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.requests)
}

func (b *MemoryBroker) record(m Message) {
	b.mu.Lock()
	b.requests = append(b.requests, m)
	b.mu.Unlock()
}

func (b *MemoryBroker) remove(t *MemoryTransport) {
	b.mu.Lock()
	delete(b.transports, t)
	b.mu.Unlock()
}

// MemoryTransport is one connection to a MemoryBroker. It counts transport
// calls so tests can assert on them.
type MemoryTransport struct {
	broker *MemoryBroker
	meta   Handler

	mu           sync.Mutex
	handlers     map[string]Handler
	disconnected bool

	// FailSubscribe makes the next Subscribe fail.
	FailSubscribe error

	SubscribeCalls   int
	UnsubscribeCalls int
	DisconnectCalls  int
}

var errMemoryDisconnected = errors.New("realtime: memory transport disconnected")

func (t *MemoryTransport) Subscribe(_ context.Context, req Message, h Handler) error {
	t.mu.Lock()
	t.SubscribeCalls++
	if t.disconnected {
		t.mu.Unlock()
		return errMemoryDisconnected
	}
	if err := t.FailSubscribe; err != nil {
		t.FailSubscribe = nil
		t.mu.Unlock()
		return err
	}
	t.mu.Unlock()

	t.broker.record(req)
	if err := t.broker.authorizeSubscribe(req); err != nil {
		return err
	}
	t.mu.Lock()
	t.handlers[req.Subscription] = h
	t.mu.Unlock()
	t.ack(MetaSubscribe, req.Subscription)
	return nil
}

func (t *MemoryTransport) Unsubscribe(_ context.Context, req Message) error {
	t.mu.Lock()
	t.UnsubscribeCalls++
	if t.disconnected {
		t.mu.Unlock()
		return errMemoryDisconnected
	}
	delete(t.handlers, req.Subscription)
	t.mu.Unlock()

	t.broker.record(req)
	t.ack(MetaUnsubscribe, req.Subscription)
	return nil
}

func (t *MemoryTransport) Channels() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.handlers))
	for ch := range t.handlers {
		out = append(out, ch)
	}
	slices.Sort(out)
	return out
}

func (t *MemoryTransport) Disconnect() error {
	t.mu.Lock()
	t.DisconnectCalls++
	t.disconnected = true
	t.handlers = make(map[string]Handler)
	t.mu.Unlock()
	t.broker.remove(t)
	return nil
}

// Disconnected reports whether Disconnect was called.
func (t *MemoryTransport) Disconnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.disconnected
}

func (t *MemoryTransport) handler(channel string) (Handler, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.handlers[channel]
	return h, ok
}

func (t *MemoryTransport) ack(channel, subscription string) {
	if t.meta == nil {
		return
	}
	t.meta(Message{Channel: channel, Successful: true, Subscription: subscription})
}
