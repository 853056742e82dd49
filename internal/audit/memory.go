package audit

import (
	"context"
	"sync"

	"pass-provisioning/internal/models"
)

// MemorySink keeps entries in process. Tests use it to assert on outcomes.
type MemorySink struct {
	mu      sync.Mutex
	entries []*models.AuditEntry
	err     error
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// FailWith makes subsequent writes return err. nil restores normal writes.
func (m *MemorySink) FailWith(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func (m *MemorySink) Record(ctx context.Context, entry *models.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	c := *entry
	m.entries = append(m.entries, &c)
	return nil
}

func (m *MemorySink) Entries() []*models.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.AuditEntry, len(m.entries))
	copy(out, m.entries)
	return out
}

// ForEvent returns the entries recorded for one event id.
func (m *MemorySink) ForEvent(eventID string) []*models.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.AuditEntry
	for _, e := range m.entries {
		if e.EventID == eventID {
			out = append(out, e)
		}
	}
	return out
}

// CountOutcome counts entries with the given outcome.
func (m *MemorySink) CountOutcome(outcome models.AuditOutcome) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if e.Outcome == outcome {
			n++
		}
	}
	return n
}
