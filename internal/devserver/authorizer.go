package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"dialer-realtime/internal/metrics"
	"dialer-realtime/pkg/realtime"

	"github.com/redis/go-redis/v9"
)

var ErrSubscribeDenied = errors.New("devserver: subscribe denied")

// AuthorizeSubscribe checks a /meta/subscribe request: the token in
// ext.session_id must verify and belong to the channel's user.
func (s *Server) AuthorizeSubscribe(req realtime.Message) error {
	err := s.authorizeSubscribe(req)
	metrics.IncSubscribeAuthorization(err == nil)
	if err != nil {
		s.log.Warn("subscribe rejected", "channel", req.Subscription, "err", err)
	}
	return err
}

func (s *Server) authorizeSubscribe(req realtime.Message) error {
	tok, _ := req.Ext[realtime.ExtSessionID].(string)
	if tok == "" {
		return fmt.Errorf("%w: missing token", ErrSubscribeDenied)
	}
	claims, err := s.auth.Verify(tok, s.now())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSubscribeDenied, err)
	}
	if req.Subscription != realtime.ChannelName(claims.UserID) {
		return fmt.Errorf("%w: channel %s does not belong to user %s", ErrSubscribeDenied, req.Subscription, claims.UserID)
	}
	return nil
}

// WatchSubscribes audits subscribe requests published on Redis until ctx is
// done. Redis cannot refuse a subscription, so rejections are only logged
// and counted.
func (s *Server) WatchSubscribes(ctx context.Context, rdb redis.UniversalClient) error {
	ps := rdb.Subscribe(ctx, realtime.MetaSubscribe)
	defer ps.Close()
	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", realtime.MetaSubscribe, err)
	}

	msgs := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case rm, ok := <-msgs:
			if !ok {
				return nil
			}
			var req realtime.Message
			if err := json.Unmarshal([]byte(rm.Payload), &req); err != nil {
				s.log.Debug("dropping undecodable subscribe request", "err", err)
				continue
			}
			_ = s.AuthorizeSubscribe(req)
		}
	}
}
