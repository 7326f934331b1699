package memory

import (
	"context"
	"sync"
	"time"

	"github.com/loyalty/fraud-service/internal/domain"
)

// AuditLog is an append-only in-memory audit sink
type AuditLog struct {
	mu      sync.RWMutex
	entries []domain.AuditEntry
	now     func() time.Time
}

// NewAuditLog creates an empty audit log
func NewAuditLog() *AuditLog {
	return &AuditLog{now: time.Now}
}

// Record appends an entry, assigning its id and timestamp
func (l *AuditLog) Record(_ context.Context, entry domain.AuditEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry.ID = int64(len(l.entries) + 1)
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = l.now()
	}
	l.entries = append(l.entries, entry)
	return nil
}

// Entries returns a copy of every entry in append order
func (l *AuditLog) Entries() []domain.AuditEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.AuditEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// ByAction returns the entries with the given action code
func (l *AuditLog) ByAction(action domain.AuditAction) []domain.AuditEntry {
	var out []domain.AuditEntry
	for _, e := range l.Entries() {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}
