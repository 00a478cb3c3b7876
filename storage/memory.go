package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/opd-ai/otter/identity"
	"github.com/opd-ai/otter/trust"
)

// MemoryBackend keeps everything in process memory. Nothing survives a
// restart.
type MemoryBackend struct {
	mu       sync.RWMutex
	records  map[identity.PeerID]*trust.Record
	identity []byte
}

// NewMemoryBackend creates an empty backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: make(map[identity.PeerID]*trust.Record)}
}

// SaveRecord stores a copy of r.
func (m *MemoryBackend) SaveRecord(_ context.Context, r *trust.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[r.PeerID] = r.Clone()
	return nil
}

// LoadRecords returns copies of all records ordered by PeerID.
func (m *MemoryBackend) LoadRecords(context.Context) ([]*trust.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*trust.Record, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeerID.Less(out[j].PeerID) })
	return out, nil
}

func (m *MemoryBackend) SaveIdentity(_ context.Context, sealed []byte) error {
	m.mu.Lock()
	m.identity = append([]byte(nil), sealed...)
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) LoadIdentity(context.Context) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.identity == nil {
		return nil, ErrNotFound
	}
	return append([]byte(nil), m.identity...), nil
}

func (m *MemoryBackend) Close() error { return nil }
