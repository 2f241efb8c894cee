package devserver

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"sync"

	"dialer-realtime/pkg/realtime"
	"dialer-realtime/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// DefaultSequenceKey holds the Redis counter behind ext._time.
const DefaultSequenceKey = "dialer:dev:seq"

// Publisher pushes a frame onto the bus, stamping ext._time with a value
// strictly greater than any it stamped before.
type Publisher interface {
	Publish(ctx context.Context, channel string, m realtime.Message) (int64, error)
}

// MemoryPublisher publishes on an in-process broker.
type MemoryPublisher struct {
	broker *realtime.MemoryBroker

	mu  sync.Mutex
	seq int64
}

func NewMemoryPublisher(b *realtime.MemoryBroker) *MemoryPublisher {
	return &MemoryPublisher{broker: b}
}

// Publish delivers synchronously. Frames from concurrent callers are
// serialized so delivery order matches stamp order.
func (p *MemoryPublisher) Publish(ctx context.Context, channel string, m realtime.Message) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	m.Ext = stamped(m.Ext, p.seq)
	if _, err := p.broker.Publish(ctx, channel, m); err != nil {
		return 0, err
	}
	return p.seq, nil
}

// RedisPublisher publishes through Redis, sequenced by a shared counter so
// several dev backends on one Redis still produce one ordering.
type RedisPublisher struct {
	rdb    redis.Scripter
	seqKey string
}

func NewRedisPublisher(rdb redis.Scripter, seqKey string) *RedisPublisher {
	if seqKey == "" {
		seqKey = DefaultSequenceKey
	}
	return &RedisPublisher{rdb: rdb, seqKey: seqKey}
}

func (p *RedisPublisher) Publish(ctx context.Context, channel string, m realtime.Message) (int64, error) {
	if m.Channel == "" {
		m.Channel = channel
	}
	frame, err := json.Marshal(m)
	if err != nil {
		return 0, fmt.Errorf("encode frame: %w", err)
	}
	seq, _, err := utils.PublishSequenced(ctx, p.rdb, p.seqKey, channel, frame)
	if err != nil {
		return 0, fmt.Errorf("publish %s: %w", channel, err)
	}
	return seq, nil
}

func stamped(ext map[string]any, seq int64) map[string]any {
	out := make(map[string]any, len(ext)+1)
	maps.Copy(out, ext)
	out[realtime.ExtTime] = float64(seq)
	return out
}
