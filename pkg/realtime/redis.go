package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/redis/go-redis/v9"
)

var ErrTransportClosed = errors.New("realtime: transport disconnected")

// RedisTransport carries frames over Redis pub/sub. Each frame is a
// JSON-encoded Message published on the Redis channel of the same name.
// Subscribe requests are also published on MetaSubscribe so the backend can
// authorize them from their ext.session_id.
//
// go-redis re-establishes the PubSub connection and its subscriptions on
// network errors; Disconnect is final for an instance.
type RedisTransport struct {
	rdb  redis.UniversalClient
	meta Handler
	log  *slog.Logger

	mu       sync.Mutex
	ps       *redis.PubSub
	handlers map[string]Handler
	closed   bool
}

// RedisFactory returns a Factory producing transports on rdb.
func RedisFactory(rdb redis.UniversalClient, log *slog.Logger) Factory {
	if log == nil {
		log = slog.Default()
	}
	return func(meta Handler) (Transport, error) {
		if rdb == nil {
			return nil, errors.New("realtime: redis client is nil")
		}
		return &RedisTransport{
			rdb:      rdb,
			meta:     meta,
			log:      log.With("transport", "redis"),
			handlers: make(map[string]Handler),
		}, nil
	}
}

func (t *RedisTransport) Subscribe(ctx context.Context, req Message, h Handler) error {
	channel := req.Subscription
	if channel == "" {
		return errors.New("realtime: subscription channel is required")
	}
	if t.isClosed() {
		return ErrTransportClosed
	}
	if _, err := PublishRedis(ctx, t.rdb, MetaSubscribe, req); err != nil {
		return fmt.Errorf("publish subscribe request: %w", err)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTransportClosed
	}
	t.handlers[channel] = h
	var err error
	if t.ps == nil {
		ps := t.rdb.Subscribe(ctx, channel)
		// wait for the confirmation so publishes that follow are not lost
		if _, err = ps.Receive(ctx); err != nil {
			_ = ps.Close()
		} else {
			t.ps = ps
			go t.loop(ps.Channel())
		}
	} else {
		err = t.ps.Subscribe(ctx, channel)
	}
	if err != nil {
		delete(t.handlers, channel)
		t.mu.Unlock()
		return fmt.Errorf("redis subscribe %s: %w", channel, err)
	}
	t.mu.Unlock()

	t.ack(MetaSubscribe, channel)
	return nil
}

func (t *RedisTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *RedisTransport) Unsubscribe(ctx context.Context, req Message) error {
	channel := req.Subscription
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTransportClosed
	}
	if _, ok := t.handlers[channel]; !ok || t.ps == nil {
		t.mu.Unlock()
		return nil
	}
	delete(t.handlers, channel)
	err := t.ps.Unsubscribe(ctx, channel)
	t.mu.Unlock()
	if err != nil {
		return fmt.Errorf("redis unsubscribe %s: %w", channel, err)
	}

	t.ack(MetaUnsubscribe, channel)
	return nil
}

func (t *RedisTransport) Channels() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.handlers))
	for ch := range t.handlers {
		out = append(out, ch)
	}
	slices.Sort(out)
	return out
}

func (t *RedisTransport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.handlers = make(map[string]Handler)
	if t.ps == nil {
		return nil
	}
	err := t.ps.Close()
	t.ps = nil
	return err
}

func (t *RedisTransport) loop(msgs <-chan *redis.Message) {
	for rm := range msgs {
		var m Message
		if err := json.Unmarshal([]byte(rm.Payload), &m); err != nil {
			t.log.Debug("dropping undecodable frame", "channel", rm.Channel, "err", err)
			continue
		}
		if m.Channel == "" {
			m.Channel = rm.Channel
		}
		t.mu.Lock()
		h, ok := t.handlers[rm.Channel]
		t.mu.Unlock()
		if ok {
			h(m)
		}
	}
}

func (t *RedisTransport) ack(channel, subscription string) {
	if t.meta == nil {
		return
	}
	t.meta(Message{Channel: channel, Successful: true, Subscription: subscription})
}

// PublishRedis encodes m and publishes it on channel. It returns the number
// of Redis subscribers that received it.
func PublishRedis(ctx context.Context, rdb redis.UniversalClient, channel string, m Message) (int64, error) {
	if rdb == nil {
		return 0, errors.New("realtime: redis client is nil")
	}
	if m.Channel == "" {
		m.Channel = channel
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return 0, fmt.Errorf("encode frame: %w", err)
	}
	return rdb.Publish(ctx, channel, payload).Result()
}
