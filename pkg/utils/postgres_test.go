package utils

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestPostgresOptions_Defaults(t *testing.T) {
	got := PostgresOptions{}.withDefaults()
	if got.MaxConns != 4 || got.ApplicationName != DefaultApplicationName {
		t.Fatalf("unexpected defaults %+v", got)
	}
	if got.PingTimeout != 5*time.Second || got.ConnMaxLifetime != 30*time.Minute {
		t.Fatalf("unexpected timeouts %+v", got)
	}
}

func TestParsePostgresConfig_SetsApplicationName(t *testing.T) {
	opts := PostgresOptions{}.withDefaults()
	cc, err := parsePostgresConfig("postgres://dialer:secret@db:5432/journal?sslmode=disable", opts)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cc.RuntimeParams["application_name"] != DefaultApplicationName || cc.Database != "journal" {
		t.Fatalf("unexpected config %+v", cc.RuntimeParams)
	}

	cc, err = parsePostgresConfig("postgres://dialer:secret@db/journal?application_name=ops", opts)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cc.RuntimeParams["application_name"] != "ops" {
		t.Fatalf("expected dsn application_name kept, got %q", cc.RuntimeParams["application_name"])
	}
}

func TestParsePostgresConfig_ErrorHidesDSN(t *testing.T) {
	_, err := parsePostgresConfig("postgres://dialer:hunter2@db:notaport/journal", PostgresOptions{})
	if err == nil {
		t.Fatalf("expected parse error")
	}
	if strings.Contains(err.Error(), "hunter2") {
		t.Fatalf("error leaks the password: %v", err)
	}
}

type failingBeginner struct{ err error }

func (f failingBeginner) BeginTx(context.Context, *sql.TxOptions) (*sql.Tx, error) {
	return nil, f.err
}

func TestWithTx_BeginErrorSkipsFn(t *testing.T) {
	want := errors.New("no connection")
	called := false
	err := WithTx(context.Background(), failingBeginner{err: want}, nil, func(context.Context, *sql.Tx) error {
		called = true
		return nil
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected begin error, got %v", err)
	}
	if called {
		t.Fatalf("fn must not run without a transaction")
	}
}
