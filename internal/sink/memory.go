package sink

import (
	"sync"

	"github.com/coffersTech/logrelay/internal/model"
)

// Memory keeps every record it receives. It backs the "memory" sink kind and
// is used by tests to observe what the pipeline forwarded.
type Memory struct {
	mu      sync.Mutex
	records []model.LogRecord
	closed  bool
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Log(entity string, text TextLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.records = append(m.records, model.LogRecord{
		Source:  entity,
		Message: text.Message,
		Level:   text.Level,
	})
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Records returns a copy of everything logged so far.
func (m *Memory) Records() []model.LogRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.LogRecord, len(m.records))
	copy(out, m.records)
	return out
}

// Len returns the number of records logged so far.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}
