package utils

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestOpenRedis_PingsServer(t *testing.T) {
	mr := miniredis.RunT(t)

	rdb, err := OpenRedis(context.Background(), RedisConfig{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rdb.Close()

	if _, err := OpenRedis(context.Background(), RedisConfig{}); err == nil {
		t.Fatalf("expected error without addr")
	}
}

func TestOpenRedis_FailsWhenUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	if _, err := OpenRedis(context.Background(), RedisConfig{Addr: addr, PingTimeout: 200 * time.Millisecond}); err == nil {
		t.Fatalf("expected ping failure")
	}
}

func TestPublishSequenced_StampsIncreasingTime(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	ctx := context.Background()

	sub := rdb.Subscribe(ctx, "/users/1/call")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	for want := int64(1); want <= 2; want++ {
		seq, n, err := PublishSequenced(ctx, rdb, "seq:test", "/users/1/call", []byte(`{"channel":"/users/1/call","data":{"event":"request_lead"}}`))
		if err != nil {
			t.Fatalf("publish: %v", err)
		}
		if seq != want || n != 1 {
			t.Fatalf("expected seq=%d receivers=1, got %d %d", want, seq, n)
		}
	}

	for want := 1.0; want <= 2; want++ {
		select {
		case msg := <-sub.Channel():
			var frame struct {
				Data map[string]any `json:"data"`
				Ext  map[string]any `json:"ext"`
			}
			if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if frame.Ext["_time"] != want || frame.Data["event"] != "request_lead" {
				t.Fatalf("unexpected frame %s", msg.Payload)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("frame %v not delivered", want)
		}
	}
}

func TestPublishSequenced_ValidatesInput(t *testing.T) {
	if _, _, err := PublishSequenced(context.Background(), nil, "k", "c", []byte(`{}`)); err == nil {
		t.Fatalf("expected error for nil client")
	}
}
