package devserver

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"dialer-realtime/internal/auth"
	"dialer-realtime/internal/config"
	"dialer-realtime/internal/metrics"
	"dialer-realtime/pkg/logger"
	"dialer-realtime/pkg/realtime"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestMemoryPublisher_StampsIncreasingTime(t *testing.T) {
	broker := realtime.NewMemoryBroker()
	tr, _ := broker.Factory()(nil)
	var got []realtime.Message
	_ = tr.Subscribe(context.Background(), realtime.Message{Subscription: "/users/1/call"}, func(m realtime.Message) {
		got = append(got, m)
	})

	p := NewMemoryPublisher(broker)
	in := realtime.Message{Data: map[string]any{"event": "request_lead"}, Ext: map[string]any{"x": "y"}}
	for want := int64(1); want <= 2; want++ {
		seq, err := p.Publish(context.Background(), "/users/1/call", in)
		if err != nil || seq != want {
			t.Fatalf("expected seq %d, got %d %v", want, seq, err)
		}
	}
	if len(got) != 2 || got[0].Ext[realtime.ExtTime] != float64(1) || got[1].Ext[realtime.ExtTime] != float64(2) {
		t.Fatalf("unexpected frames %+v", got)
	}
	if got[1].Ext["x"] != "y" || len(in.Ext) != 1 {
		t.Fatalf("expected ext copied, not mutated")
	}
}

func TestRedisPublisher_DeliversThroughRedisTransport(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	conn, err := realtime.NewConnection(realtime.ConnectionOptions{
		AuthToken:    "tok",
		NewTransport: realtime.RedisFactory(rdb, logger.Discard()),
		Logger:       logger.Discard(),
	})
	if err != nil {
		t.Fatalf("connection: %v", err)
	}
	defer conn.Close()

	frames := make(chan realtime.Message, 4)
	conn.Subscribe(context.Background(), "/users/1/call", func(m realtime.Message) { frames <- m })

	p := NewRedisPublisher(rdb, "")
	for i := 0; i < 2; i++ {
		if _, err := p.Publish(context.Background(), "/users/1/call", realtime.Message{Data: map[string]any{"event": "request_lead"}}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	for want := 1.0; want <= 2; want++ {
		select {
		case m := <-frames:
			if m.Data[realtime.DataTime] != want || m.Channel != "/users/1/call" {
				t.Fatalf("unexpected frame %+v", m)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("frame %v not delivered", want)
		}
	}
	if v, _ := mr.Get(DefaultSequenceKey); v != "2" {
		t.Fatalf("expected sequence key at 2, got %q", v)
	}
}

func TestWatchSubscribes_CountsRejections(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	m, _ := auth.NewManager(config.AuthConfig{JWTSecret: "dev-secret"})
	srv, err := New(Options{Auth: m, Publisher: NewRedisPublisher(rdb, ""), Logger: logger.Discard()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.WatchSubscribes(ctx, rdb) }()
	require.Eventually(t, func() bool {
		n, _ := rdb.PubSubNumSub(context.Background(), realtime.MetaSubscribe).Result()
		return n[realtime.MetaSubscribe] == 1
	}, 2*time.Second, 10*time.Millisecond)

	rejected := metrics.SubscribeAuthorizationsTotal.WithLabelValues("rejected")
	before := testutil.ToFloat64(rejected)

	req, _ := json.Marshal(realtime.Message{Channel: realtime.MetaSubscribe, Subscription: "/users/1/call"})
	if err := rdb.Publish(context.Background(), realtime.MetaSubscribe, req).Err(); err != nil {
		t.Fatalf("publish: %v", err)
	}
	require.Eventually(t, func() bool { return testutil.ToFloat64(rejected) == before+1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("watch: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("watcher did not stop")
	}
}
