package storage

import (
	"context"
	"sync"

	"github.com/mkrelic/questline/pkg/quest"
	"github.com/mkrelic/questline/pkg/state"
)

type progressKeyT struct {
	player state.PlayerID
	quest  quest.QuestID
}

// MockStore is an in-memory ProgressStore for testing.
type MockStore struct {
	mu        sync.RWMutex
	records   map[progressKeyT]state.QuestProgress
	pingError error
	getError  error
	casError  error
}

// Ensure MockStore implements ProgressStore interface
var _ ProgressStore = (*MockStore)(nil)

// NewMockStore creates a new mock progress store.
func NewMockStore() *MockStore {
	return &MockStore{
		records: make(map[progressKeyT]state.QuestProgress),
	}
}

// SetPingError configures the mock to fail on ping with the given error
func (m *MockStore) SetPingError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingError = err
}

// SetGetError configures GetProgress to fail with the given error
func (m *MockStore) SetGetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getError = err
}

// SetCASError configures CompareAndSet to fail with the given error
func (m *MockStore) SetCASError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.casError = err
}

func (m *MockStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pingError
}

func (m *MockStore) Close() error {
	return nil
}

func (m *MockStore) GetProgress(ctx context.Context, player state.PlayerID, questID quest.QuestID) (state.QuestProgress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.getError != nil {
		return state.QuestProgress{}, m.getError
	}
	if p, ok := m.records[progressKeyT{player, questID}]; ok {
		return p, nil
	}
	return state.Unstarted(), nil
}

func (m *MockStore) CompareAndSet(ctx context.Context, player state.PlayerID, questID quest.QuestID, expected quest.StageToken, next state.QuestProgress) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.casError != nil {
		return false, m.casError
	}
	key := progressKeyT{player, questID}
	current := quest.StageUnstarted
	if p, ok := m.records[key]; ok {
		current = p.Stage
	}
	if current != expected {
		return false, nil
	}
	m.records[key] = next
	return true, nil
}

// Seed sets a progress record directly, bypassing CAS. Tests only.
func (m *MockStore) Seed(player state.PlayerID, questID quest.QuestID, p state.QuestProgress) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[progressKeyT{player, questID}] = p
}
