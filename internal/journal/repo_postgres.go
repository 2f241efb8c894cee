package journal

import (
	"context"
	"database/sql"
	"fmt"

	"dialer-realtime/pkg/utils"
)

const schema = `
CREATE TABLE IF NOT EXISTS call_event_journal (
	id          UUID PRIMARY KEY,
	user_id     TEXT NOT NULL,
	session_id  TEXT NOT NULL DEFAULT '',
	kind        TEXT NOT NULL,
	entity_id   TEXT NOT NULL DEFAULT '',
	outcome     TEXT NOT NULL,
	server_time DOUBLE PRECISION,
	payload     JSONB,
	created_at  TIMESTAMPTZ NOT NULL
)`

const schemaIndex = `
CREATE INDEX IF NOT EXISTS call_event_journal_user_created
	ON call_event_journal (user_id, created_at DESC)`

// PostgresRepo stores entries through database/sql with the pgx driver.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

// EnsureSchema creates the journal table and index if missing.
func (r *PostgresRepo) EnsureSchema(ctx context.Context) error {
	return utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, schema); err != nil {
			return fmt.Errorf("create journal table: %w", err)
		}
		if _, err := tx.ExecContext(ctx, schemaIndex); err != nil {
			return fmt.Errorf("create journal index: %w", err)
		}
		return nil
	})
}

func (r *PostgresRepo) Append(ctx context.Context, e Entry) error {
	var payload any
	if e.Payload != "" {
		payload = e.Payload
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO call_event_journal
			(id, user_id, session_id, kind, entity_id, outcome, server_time, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.UserID, e.SessionID, e.Kind, e.EntityID, e.Outcome, e.ServerTime, payload, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert journal entry: %w", err)
	}
	return nil
}

// Recent returns up to limit entries for userID, newest first.
func (r *PostgresRepo) Recent(ctx context.Context, userID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, session_id, kind, entity_id, outcome, server_time, COALESCE(payload::text, ''), created_at
		FROM call_event_journal
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var st sql.NullFloat64
		if err := rows.Scan(&e.ID, &e.UserID, &e.SessionID, &e.Kind, &e.EntityID, &e.Outcome, &st, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		if st.Valid {
			v := st.Float64
			e.ServerTime = &v
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
