package utils

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig controls redis client behavior.
// Keep it config-driven; defaults should be safe and conservative.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// Basic timeouts
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Pool tuning
	PoolSize        int
	MinIdleConns    int
	PoolTimeout     time.Duration
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration

	PingTimeout time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	out := c
	if out.DialTimeout <= 0 {
		out.DialTimeout = 3 * time.Second
	}
	// -1 means no read deadline in go-redis and is kept as is
	if out.ReadTimeout == 0 {
		out.ReadTimeout = 2 * time.Second
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 2 * time.Second
	}
	if out.PoolSize <= 0 {
		out.PoolSize = 10
	}
	if out.MinIdleConns < 0 {
		out.MinIdleConns = 0
	}
	if out.PoolTimeout <= 0 {
		out.PoolTimeout = 4 * time.Second
	}
	if out.ConnMaxIdleTime <= 0 {
		out.ConnMaxIdleTime = 5 * time.Minute
	}
	if out.ConnMaxLifetime <= 0 {
		out.ConnMaxLifetime = 30 * time.Minute
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 2 * time.Second
	}
	return out
}

// OpenRedis initializes a Redis client and validates connectivity via PING.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	cfg = cfg.withDefaults()
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		Password:        cfg.Password,
		DB:              cfg.DB,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		PoolTimeout:     cfg.PoolTimeout,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

var sequencedPublishScript = redis.NewScript(`
-- KEYS[1] = sequence key
-- ARGV[1] = channel
-- ARGV[2] = JSON frame
--
-- Returns {sequence, receivers}. The sequence is written to ext._time.
local seq = redis.call('INCR', KEYS[1])
local frame = cjson.decode(ARGV[2])
if type(frame.ext) ~= 'table' then
  frame.ext = {}
end
frame.ext._time = seq
local n = redis.call('PUBLISH', ARGV[1], cjson.encode(frame))
return {seq, n}
`)

// PublishSequenced stamps frame with the next value of seqKey as ext._time
// and publishes it on channel in one atomic step, so publish order and
// sequence order agree across publishers sharing seqKey.
//
// frame must be a JSON object.
func PublishSequenced(ctx context.Context, rdb redis.Scripter, seqKey, channel string, frame []byte) (seq int64, receivers int64, err error) {
	if rdb == nil {
		return 0, 0, fmt.Errorf("redis client is nil")
	}
	if seqKey == "" || channel == "" {
		return 0, 0, fmt.Errorf("sequence key and channel are required")
	}
	res, err := sequencedPublishScript.Run(ctx, rdb, []string{seqKey}, channel, string(frame)).Int64Slice()
	if err != nil {
		return 0, 0, err
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("unexpected script result %v", res)
	}
	return res[0], res[1], nil
}
