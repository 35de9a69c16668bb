package journal

import (
	"context"
	"iter"
	"sync"
)

var _ Store = (*Memory)(nil)

// Memory is an in-memory Store. Records are kept encoded so the Memory and
// Badger stores round-trip values the same way.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Put(_ context.Context, r Record) error {
	b, err := encode(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data[r.ID] = b
	m.mu.Unlock()
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (Record, error) {
	m.mu.RLock()
	b, ok := m.data[id]
	m.mu.RUnlock()
	if !ok {
		return Record{}, ErrNotFound
	}
	return decode(b)
}

func (m *Memory) List(_ context.Context) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		m.mu.RLock()
		records := make([]Record, 0, len(m.data))
		var decodeErr error
		for _, b := range m.data {
			r, err := decode(b)
			if err != nil {
				decodeErr = err
				break
			}
			records = append(records, r)
		}
		m.mu.RUnlock()
		if decodeErr != nil {
			yield(Record{}, decodeErr)
			return
		}
		newestFirst(records)
		for _, r := range records {
			if !yield(r, nil) {
				return
			}
		}
	}
}

func (m *Memory) Close() error {
	return nil
}
