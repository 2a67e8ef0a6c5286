package checkpoint

import (
	"context"
	"sync"

	"github.com/haasonsaas/nexus/internal/metrics"
)

// MemStore is an in-memory Store for tests and local runs. It follows the
// same mutex+map+clone-on-read convention the teacher uses for its session
// store: every read returns a defensive copy so callers can't mutate shared
// state through a returned Entry.
type MemStore struct {
	mu     sync.Mutex
	chains map[string][]Entry // threadID -> entries in ascending sequence order
}

// NewMemStore creates an empty in-memory checkpoint store.
func NewMemStore() *MemStore {
	return &MemStore{chains: make(map[string][]Entry)}
}

func (m *MemStore) Put(_ context.Context, threadID string, parentSequence *int64, payload []byte) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	chain := m.chains[threadID]

	var currentLatest *int64
	if len(chain) > 0 {
		seq := chain[len(chain)-1].Sequence
		currentLatest = &seq
	}

	if !sameParent(currentLatest, parentSequence) {
		metrics.CheckpointWritesTotal.WithLabelValues("memory", "stale_parent").Inc()
		return 0, ErrStaleParent
	}

	next := int64(1)
	if currentLatest != nil {
		next = *currentLatest + 1
	}

	entry := Entry{
		ThreadID:       threadID,
		Sequence:       next,
		Payload:        cloneBytes(payload),
		ParentSequence: parentSequence,
	}
	m.chains[threadID] = append(chain, entry)
	metrics.CheckpointWritesTotal.WithLabelValues("memory", "ok").Inc()
	return next, nil
}

func (m *MemStore) Latest(_ context.Context, threadID string) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	chain := m.chains[threadID]
	if len(chain) == 0 {
		return Entry{}, ErrNotFound
	}
	return cloneEntry(chain[len(chain)-1]), nil
}

func (m *MemStore) List(_ context.Context, threadID string) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	chain := m.chains[threadID]
	out := make([]Entry, len(chain))
	for i, e := range chain {
		out[i] = cloneEntry(e)
	}
	return out, nil
}

func (m *MemStore) Reset(_ context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.chains, threadID)
	return nil
}

func (m *MemStore) Close() error { return nil }

func sameParent(current, given *int64) bool {
	if current == nil && given == nil {
		return true
	}
	if current == nil || given == nil {
		return false
	}
	return *current == *given
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func cloneEntry(e Entry) Entry {
	clone := e
	clone.Payload = cloneBytes(e.Payload)
	if e.ParentSequence != nil {
		seq := *e.ParentSequence
		clone.ParentSequence = &seq
	}
	return clone
}
