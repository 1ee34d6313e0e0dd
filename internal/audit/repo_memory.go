package audit

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"inventory-platform/internal/db"
	"inventory-platform/internal/schema"
)

// MemoryStore is a simple in-memory append-only store useful for tests.
// It ignores the session, so entries survive a rollback.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string][]Entry
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{entries: map[string][]Entry{}} }

func (m *MemoryStore) Append(_ context.Context, _ *db.Session, log *schema.Entity, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		e.ID = id
	}
	m.entries[log.Table] = append(m.entries[log.Table], *e)
	return nil
}

func (m *MemoryStore) List(_ context.Context, _ *db.Session, log *schema.Entity, parentID string) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Entry
	all := m.entries[log.Table]
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].ParentID == parentID {
			out = append(out, all[i])
		}
	}
	return out, nil
}

// Entries returns every entry appended to table, oldest first.
func (m *MemoryStore) Entries(table string) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries[table]))
	copy(out, m.entries[table])
	return out
}
