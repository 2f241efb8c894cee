package utils

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
)

// DefaultApplicationName tags journal connections in pg_stat_activity.
const DefaultApplicationName = "callwatch-journal"

// PostgresOptions sizes the journal's connection pool. The journal writes
// one row per reconciled event, so a handful of connections is plenty.
type PostgresOptions struct {
	ApplicationName string
	MaxConns        int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

func (o PostgresOptions) withDefaults() PostgresOptions {
	if o.ApplicationName == "" {
		o.ApplicationName = DefaultApplicationName
	}
	if o.MaxConns <= 0 {
		o.MaxConns = 4
	}
	if o.ConnMaxLifetime <= 0 {
		o.ConnMaxLifetime = 30 * time.Minute
	}
	if o.ConnMaxIdleTime <= 0 {
		o.ConnMaxIdleTime = 5 * time.Minute
	}
	if o.PingTimeout <= 0 {
		o.PingTimeout = 5 * time.Second
	}
	return o
}

// parsePostgresConfig reads dsn with pgx and sets application_name unless
// the dsn already carries one.
func parsePostgresConfig(dsn string, opts PostgresOptions) (*pgx.ConnConfig, error) {
	cc, err := pgx.ParseConfig(dsn)
	if err != nil {
		// the parse error may echo the dsn, which holds the password
		return nil, fmt.Errorf("postgres: invalid dsn")
	}
	if cc.RuntimeParams == nil {
		cc.RuntimeParams = map[string]string{}
	}
	if _, ok := cc.RuntimeParams["application_name"]; !ok {
		cc.RuntimeParams["application_name"] = opts.ApplicationName
	}
	return cc, nil
}

// OpenPostgres opens the journal database through pgx and pings it.
// dsn must not be logged.
func OpenPostgres(ctx context.Context, dsn string, opts PostgresOptions) (*sql.DB, error) {
	opts = opts.withDefaults()
	cc, err := parsePostgresConfig(dsn, opts)
	if err != nil {
		return nil, err
	}

	db := stdlib.OpenDB(*cc)
	db.SetMaxOpenConns(opts.MaxConns)
	db.SetMaxIdleConns(opts.MaxConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	db.SetConnMaxIdleTime(opts.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, opts.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return db, nil
}

// TxBeginner is satisfied by *sql.DB and *sql.Conn.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// WithTx runs fn in one transaction, committing only when fn returns nil.
// A panic in fn rolls back and is re-raised.
func WithTx(ctx context.Context, db TxBeginner, opts *sql.TxOptions, fn func(context.Context, *sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	return fn(ctx, tx)
}
