package journal

import (
	"context"
	"sync"
)

// MemoryRepo is a simple in-memory append-only repository for tests and
// runs without a database.
type MemoryRepo struct {
	mu      sync.Mutex
	entries []Entry
	// Err, when set, fails every Append.
	Err error
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Append(ctx context.Context, e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.entries = append(r.entries, e)
	return nil
}

// Recent returns up to limit entries for userID, newest first.
func (r *MemoryRepo) Recent(ctx context.Context, userID string, limit int) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Entry
	for i := len(r.entries) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if r.entries[i].UserID == userID {
			out = append(out, r.entries[i])
		}
	}
	return out, nil
}

func (r *MemoryRepo) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}
