package docstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "realtime_chat/pkg/errors"
	"realtime_chat/pkg/logger"
)

// MemoryStore keeps documents in process memory. It backs tests and
// single-node development setups; SetReachable simulates losing the store.
type MemoryStore struct {
	*DocStore
	mem *memoryBackend
}

func NewMemory(feed Feed, log logger.Logger) *MemoryStore {
	mem := &memoryBackend{
		collections: make(map[string]map[string]*Document),
		reachable:   true,
		now:         time.Now,
	}
	return &MemoryStore{DocStore: newDocStore(mem, feed, log), mem: mem}
}

// SetReachable toggles whether operations succeed. While unreachable every
// read and write fails with ErrUnreachable.
func (s *MemoryStore) SetReachable(reachable bool) {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	s.mem.reachable = reachable
}

type memoryBackend struct {
	mu          sync.RWMutex
	collections map[string]map[string]*Document
	reachable   bool
	seq         int64
	last        time.Time
	now         func() time.Time
}

func (m *memoryBackend) check() error {
	if !m.reachable {
		return fmt.Errorf("%w: memory store offline", apperrors.ErrUnreachable)
	}
	return nil
}

func (m *memoryBackend) query(ctx context.Context, q Query) ([]*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrUnreachable, err)
	}
	conds, err := normalizeConditions(q.Where)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(); err != nil {
		return nil, err
	}

	docs := make([]*Document, 0)
	for _, d := range m.collections[q.Collection] {
		if matches(d, conds) {
			docs = append(docs, cloneDocument(d))
		}
	}
	sortDocuments(docs, q)
	if q.Limit > 0 && len(docs) > q.Limit {
		docs = docs[:q.Limit]
	}
	return docs, nil
}

func (m *memoryBackend) getByID(ctx context.Context, collection, id string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrUnreachable, err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(); err != nil {
		return nil, err
	}

	d, ok := m.collections[collection][id]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", apperrors.ErrNotFound, collection, id)
	}
	return cloneDocument(d), nil
}

// tick returns a strictly increasing server time and commit sequence.
func (m *memoryBackend) tick() (time.Time, int64) {
	now := m.now().UTC()
	if !now.After(m.last) {
		now = m.last.Add(time.Microsecond)
	}
	m.last = now
	m.seq++
	return now, m.seq
}

func (m *memoryBackend) commit(ctx context.Context, writes []Write) ([]*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrUnreachable, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return nil, err
	}

	// Stage every write first so a failing one leaves the store untouched.
	type key struct{ collection, id string }
	staged := make(map[key]*Document)
	deleted := make(map[key]bool)
	lookup := func(k key) (*Document, bool) {
		if deleted[k] {
			return nil, false
		}
		if d, ok := staged[k]; ok {
			return d, true
		}
		d, ok := m.collections[k.collection][k.id]
		return d, ok
	}

	results := make([]*Document, len(writes))
	order := make([]key, 0, len(writes))
	for i, w := range writes {
		k := key{w.Collection, w.ID}
		data, err := normalizeData(w.Data)
		if err != nil {
			return nil, err
		}
		existing, exists := lookup(k)

		switch w.Kind {
		case WriteCreate:
			if exists {
				return nil, fmt.Errorf("%w: %s/%s already exists", apperrors.ErrConflict, w.Collection, w.ID)
			}
			now, seq := m.tick()
			staged[k] = &Document{ID: w.ID, Collection: w.Collection, Data: data, Version: 1, Seq: seq, CreatedAt: now, UpdatedAt: now}
		case WriteSet:
			now, seq := m.tick()
			if exists {
				next := cloneDocument(existing)
				next.Data = data
				next.Version++
				next.UpdatedAt = now
				staged[k] = next
			} else {
				staged[k] = &Document{ID: w.ID, Collection: w.Collection, Data: data, Version: 1, Seq: seq, CreatedAt: now, UpdatedAt: now}
			}
		case WriteUpdate:
			if !exists {
				return nil, fmt.Errorf("%w: %s/%s", apperrors.ErrNotFound, w.Collection, w.ID)
			}
			now, _ := m.tick()
			next := cloneDocument(existing)
			for field, v := range data {
				next.Data[field] = v
			}
			next.Version++
			next.UpdatedAt = now
			staged[k] = next
		case WriteDelete:
			delete(staged, k)
			deleted[k] = true
			order = append(order, k)
			continue
		}
		delete(deleted, k)
		order = append(order, k)
		results[i] = cloneDocument(staged[k])
	}

	for _, k := range order {
		if deleted[k] {
			delete(m.collections[k.collection], k.id)
			continue
		}
		if m.collections[k.collection] == nil {
			m.collections[k.collection] = make(map[string]*Document)
		}
		m.collections[k.collection][k.id] = staged[k]
	}
	return results, nil
}

func (m *memoryBackend) ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrUnreachable, err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.check()
}

func (m *memoryBackend) close() error {
	return nil
}
