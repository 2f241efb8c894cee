package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"dialer-realtime/internal/auth"
	"dialer-realtime/internal/config"
	"dialer-realtime/internal/devserver"
	"dialer-realtime/pkg/callsession"
	"dialer-realtime/pkg/realtime"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newDevServerCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "devserver",
		Short: "Run the simulated dialer backend",
		Long: `devserver serves the dialer REST API and publishes realtime events for
every state change. Events go through Redis when REDIS_HOST is set; without
it only clients in this process could receive them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Dev.Port = port
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			return runDevServer(cmd.Context(), cfg)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (DEV_PORT)")
	return cmd
}

func runDevServer(ctx context.Context, cfg config.Config) error {
	if err := cfg.RequireDevServer(); err != nil {
		return err
	}
	log := newLogger(cfg)
	g, ctx := errgroup.WithContext(ctx)

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		return fmt.Errorf("auth init: %w", err)
	}

	opts := devOptions(cfg, authManager, log)
	if cfg.RedisEnabled() {
		rdb, err := openRedis(ctx, cfg)
		if err != nil {
			return err
		}
		defer rdb.Close()
		opts.Publisher = devserver.NewRedisPublisher(rdb, devserver.DefaultSequenceKey)
		srv, err := devserver.New(opts)
		if err != nil {
			return err
		}
		g.Go(func() error { return srv.WatchSubscribes(ctx, rdb) })
		return serveDev(ctx, g, cfg, log, srv)
	}

	log.Warn("REDIS_HOST not set; events stay in this process")
	broker := realtime.NewMemoryBroker()
	opts.Publisher = devserver.NewMemoryPublisher(broker)
	srv, err := devserver.New(opts)
	if err != nil {
		return err
	}
	broker.SetAuthorizer(srv.AuthorizeSubscribe)
	return serveDev(ctx, g, cfg, log, srv)
}

func serveDev(ctx context.Context, g *errgroup.Group, cfg config.Config, log *slog.Logger, srv *devserver.Server) error {
	ln, err := net.Listen("tcp", cfg.DevAddr())
	if err != nil {
		return fmt.Errorf("dev server listen: %w", err)
	}
	g.Go(func() error { return srv.Run(ctx) })
	g.Go(func() error { return serveHTTP(ctx, log, "dev server", ln, srv.Handler()) })
	return g.Wait()
}

func devOptions(cfg config.Config, m *auth.Manager, log *slog.Logger) devserver.Options {
	return devserver.Options{
		Auth:                m,
		Namespace:           cfg.API.Namespace,
		Users:               []devserver.User{{ID: cfg.Dev.UserID, Email: "dev@example.com", FirstName: "Dev", LastName: "Agent"}},
		LeadSelectionMethod: callsession.LeadSelectionMethod(cfg.API.LeadSelectionMethod),
		Logger:              log,
	}
}

type embeddedBackend struct {
	host   string
	token  string
	broker *realtime.MemoryBroker
}

// startEmbedded runs a simulated backend on loopback and an in-process bus,
// supervised by g. A missing JWT secret is replaced by a random one.
func startEmbedded(ctx context.Context, g *errgroup.Group, cfg config.Config, log *slog.Logger) (embeddedBackend, error) {
	if cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = uuid.NewString()
	}
	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		return embeddedBackend{}, fmt.Errorf("auth init: %w", err)
	}

	broker := realtime.NewMemoryBroker()
	opts := devOptions(cfg, authManager, log)
	opts.Publisher = devserver.NewMemoryPublisher(broker)
	srv, err := devserver.New(opts)
	if err != nil {
		return embeddedBackend{}, err
	}
	broker.SetAuthorizer(srv.AuthorizeSubscribe)

	token, err := authManager.Issue(time.Now(), cfg.Dev.UserID, "dev@example.com")
	if err != nil {
		return embeddedBackend{}, err
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return embeddedBackend{}, fmt.Errorf("embedded listen: %w", err)
	}
	g.Go(func() error { return srv.Run(ctx) })
	g.Go(func() error { return serveHTTP(ctx, log, "embedded backend", ln, srv.Handler()) })

	return embeddedBackend{host: "http://" + ln.Addr().String(), token: token, broker: broker}, nil
}
