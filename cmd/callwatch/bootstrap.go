package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"dialer-realtime/internal/config"
	"dialer-realtime/internal/journal"
	"dialer-realtime/pkg/logger"
	"dialer-realtime/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 20 * time.Second

func addPersistentFlags(root *cobra.Command) {
	f := root.PersistentFlags()
	f.String("env", "", "app environment (APP_ENV)")
	f.Bool("debug", false, "debug logging (DEBUG)")
	f.String("host", "", "dialer API host (API_HOST)")
	f.String("namespace", "", "dialer API namespace (API_NAMESPACE)")
	f.String("token", "", "dialer API token (API_TOKEN)")
	f.String("redis-host", "", "redis host for the realtime bus (REDIS_HOST)")
	f.Int("redis-port", 0, "redis port (REDIS_PORT)")
	f.Int("status-port", 0, "status server port, 0 disables it (STATUS_PORT)")
}

// loadConfig reads the environment, then applies flags the user set.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	applyFlags(cmd, &cfg)
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("env") {
		cfg.App.Env, _ = f.GetString("env")
	}
	if f.Changed("debug") {
		cfg.App.Debug, _ = f.GetBool("debug")
	}
	if f.Changed("host") {
		cfg.API.Host, _ = f.GetString("host")
	}
	if f.Changed("namespace") {
		cfg.API.Namespace, _ = f.GetString("namespace")
	}
	if f.Changed("token") {
		cfg.API.Token, _ = f.GetString("token")
	}
	if f.Changed("redis-host") {
		cfg.Redis.Host, _ = f.GetString("redis-host")
	}
	if f.Changed("redis-port") {
		cfg.Redis.Port, _ = f.GetInt("redis-port")
	}
	if f.Changed("status-port") {
		cfg.App.StatusPort, _ = f.GetInt("status-port")
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	log := logger.New(cfg.App.Env, cfg.DebugLogging())
	slog.SetDefault(log)
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	return log
}

func openRedis(ctx context.Context, cfg config.Config) (*redis.Client, error) {
	rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		return nil, fmt.Errorf("redis init: %w", err)
	}
	return rdb, nil
}

// openJournal returns a Postgres-backed repository when a database is
// configured and an in-memory one otherwise. close is never nil.
func openJournal(ctx context.Context, cfg config.Config, log *slog.Logger) (journal.Repository, func(), error) {
	if !cfg.JournalEnabled() {
		log.Debug("journal kept in memory")
		return journal.NewMemoryRepo(), func() {}, nil
	}
	db, err := utils.OpenPostgres(ctx, cfg.PostgresDSN(), utils.PostgresOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("postgres init: %w", err)
	}
	repo := journal.NewPostgresRepo(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return repo, func() { _ = db.Close() }, nil
}

// serveHTTP runs h on ln until ctx is done, then shuts down gracefully.
func serveHTTP(ctx context.Context, log *slog.Logger, name string, ln net.Listener, h http.Handler) error {
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(name+" listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%s shutdown: %w", name, err)
	}
	return nil
}
