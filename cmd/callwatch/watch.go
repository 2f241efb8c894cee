package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"dialer-realtime/internal/config"
	"dialer-realtime/internal/journal"
	"dialer-realtime/pkg/callevents"
	"dialer-realtime/pkg/callsdk"
	"dialer-realtime/pkg/callsession"
	"dialer-realtime/pkg/realtime"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const timeLayout = time.RFC3339

func newWatchCmd() *cobra.Command {
	var embedded bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print every accepted call-session change as a JSON line",
		Long: `watch fetches the current call session and follows the user's realtime
channel until interrupted. With --embedded it starts a simulated backend on an
in-process bus and watches that instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runWatch(cmd.Context(), cfg, embedded, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&embedded, "embedded", false, "run against an in-process simulated backend")
	return cmd
}

func runWatch(ctx context.Context, cfg config.Config, embedded bool, out io.Writer) error {
	log := newLogger(cfg)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	var transport realtime.Factory
	switch {
	case embedded:
		dev, err := startEmbedded(ctx, g, cfg, log)
		if err != nil {
			return err
		}
		cfg.API.Host, cfg.API.Token = dev.host, dev.token
		transport = dev.broker.Factory()
	case cfg.RedisEnabled():
		rdb, err := openRedis(ctx, cfg)
		if err != nil {
			return err
		}
		defer rdb.Close()
		transport = realtime.RedisFactory(rdb, log)
	default:
		return errors.New("watch needs REDIS_HOST for the realtime bus, or --embedded")
	}
	if err := cfg.RequireClient(); err != nil {
		return err
	}

	client, err := callsdk.New(callsdk.Options{
		Host:      cfg.API.Host,
		Namespace: cfg.API.Namespace,
		AuthToken: cfg.API.Token,
		Transport: transport,
		Timeout:   cfg.API.Timeout,
		Logger:    log,
	})
	if err != nil {
		return err
	}
	defer func() { _ = client.Destroy(context.Background()) }()

	user, err := client.CurrentUser(ctx)
	if err != nil {
		return fmt.Errorf("current user: %w", err)
	}
	repo, closeJournal, err := openJournal(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeJournal()
	j := journal.NewService(repo, user.ID, log)
	client.SetObserver(j)

	session, err := client.Fetch(ctx)
	if err != nil {
		return err
	}
	if session.ID() != callsession.DefaultSessionID {
		method := callsession.LeadSelectionMethod(cfg.API.LeadSelectionMethod)
		if err := session.SetLeadSelectionMethod(ctx, method); err != nil {
			log.Warn("lead selection method not applied", "method", method, "err", err)
		}
	}

	p := &eventPrinter{w: out}
	p.snapshot(session.Snapshot())
	for _, name := range []callsession.EventName{
		callsession.EventStateChanged,
		callsession.EventOutboundCallChanged,
		callsession.EventLeadRequested,
	} {
		if _, err := session.On(name, p.listener(name)); err != nil {
			return err
		}
	}

	if cfg.App.StatusPort > 0 {
		ln, err := net.Listen("tcp", cfg.StatusAddr())
		if err != nil {
			return fmt.Errorf("status listen: %w", err)
		}
		g.Go(func() error {
			return serveHTTP(ctx, log, "status server", ln, statusRouter(log, client, j))
		})
	}

	log.Info("watching call session", "user_id", user.ID, "channel", session.Channel())
	g.Go(func() error {
		<-ctx.Done()
		return nil
	})
	return g.Wait()
}

// eventPrinter writes one JSON object per line. Listeners run on the
// delivering goroutine, so writes are serialized.
type eventPrinter struct {
	mu sync.Mutex
	w  io.Writer
}

type printedEvent struct {
	Event      string         `json:"event"`
	ServerTime *float64       `json:"server_time,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

func (p *eventPrinter) listener(name callsession.EventName) func(callevents.Event) {
	return func(ev callevents.Event) {
		line := printedEvent{Event: string(name), Data: callevents.Payload(ev)}
		if ts := ev.Time(); ts.Valid {
			v := ts.Value
			line.ServerTime = &v
		}
		p.write(line)
	}
}

func (p *eventPrinter) snapshot(s callsession.Snapshot) {
	data := map[string]any{"id": s.ID, "state": string(s.State)}
	if s.StartedAt != nil {
		data["started_at"] = s.StartedAt.UTC().Format(timeLayout)
	}
	if s.EndedAt != nil {
		data["ended_at"] = s.EndedAt.UTC().Format(timeLayout)
	}
	p.write(printedEvent{Event: "snapshot", Data: data})
}

func (p *eventPrinter) write(v printedEvent) {
	b, err := json.Marshal(v)
	if err != nil {
		slog.Default().Debug("event not printable", "event", v.Event, "err", err)
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = p.w.Write(append(b, '\n'))
}
