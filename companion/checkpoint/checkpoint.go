// Package checkpoint persists conversation state between runs.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/companion-graph/companion/workflow"
)

// ErrVersionConflict is returned by Save when the stored version moved since Load.
var ErrVersionConflict = errors.New("checkpoint version conflict")

// Checkpoint is a versioned snapshot of one thread's state.
type Checkpoint struct {
	ThreadID  string
	State     workflow.State
	Version   int64
	UpdatedAt time.Time
}

// Store loads and saves checkpoints keyed by thread id.
//
// Load reports found=false with a nil error for an unknown thread so the caller
// can take the first-turn path. Save writes version expect+1 and fails with
// ErrVersionConflict when the stored version is not expect (0 means "not stored yet").
type Store interface {
	Load(ctx context.Context, threadID string) (cp Checkpoint, found bool, err error)
	Save(ctx context.Context, threadID string, st workflow.State, expect int64) (version int64, err error)
}

type memoryEntry struct {
	data      []byte
	version   int64
	updatedAt time.Time
}

// MemoryStore keeps checkpoints in process. States are stored encoded so callers
// never share slices with the store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry), now: time.Now}
}

func (m *MemoryStore) Load(ctx context.Context, threadID string) (Checkpoint, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[threadID]
	m.mu.RUnlock()
	if !ok {
		return Checkpoint{ThreadID: threadID}, false, nil
	}
	st, err := decodeState(e.data)
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("decode checkpoint %s: %w", threadID, err)
	}
	return Checkpoint{ThreadID: threadID, State: st, Version: e.version, UpdatedAt: e.updatedAt}, true, nil
}

func (m *MemoryStore) Save(ctx context.Context, threadID string, st workflow.State, expect int64) (int64, error) {
	data, err := encodeState(st)
	if err != nil {
		return 0, fmt.Errorf("encode checkpoint %s: %w", threadID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if cur := m.entries[threadID].version; cur != expect {
		return 0, fmt.Errorf("%w: %s at version %d, expected %d", ErrVersionConflict, threadID, cur, expect)
	}
	next := expect + 1
	m.entries[threadID] = memoryEntry{data: data, version: next, updatedAt: m.now()}
	return next, nil
}

func encodeState(st workflow.State) ([]byte, error) { return json.Marshal(st) }

func decodeState(data []byte) (workflow.State, error) {
	var st workflow.State
	err := json.Unmarshal(data, &st)
	return st, err
}

var _ Store = (*MemoryStore)(nil)
