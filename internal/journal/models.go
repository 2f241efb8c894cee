package journal

import "time"

// Entry is an immutable, append-only record of one reconciled call event.
//
// Invariants:
// - Entries are never updated or deleted.
// - user_id and kind are required.
// - Journaling is best-effort; the realtime path never waits on a failed write.
//
// Storage (Postgres): table call_event_journal, INSERT-only, indexed by
// (user_id, created_at).
type Entry struct {
	ID     string `json:"id" db:"id"`
	UserID string `json:"user_id" db:"user_id"`

	// SessionID is the call session id known when the event was reconciled.
	SessionID string `json:"session_id,omitempty" db:"session_id"`

	Kind string `json:"kind" db:"kind"`
	// EntityID is the session id or outbound call id the event targeted.
	EntityID string `json:"entity_id,omitempty" db:"entity_id"`
	// Outcome is accepted, stale or relayed.
	Outcome string `json:"outcome" db:"outcome"`

	// ServerTime is the ordering value, when the message carried one.
	ServerTime *float64 `json:"server_time,omitempty" db:"server_time"`

	// Payload is the event in wire form, as JSON.
	Payload string `json:"payload,omitempty" db:"payload"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
