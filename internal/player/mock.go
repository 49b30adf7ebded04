package player

import (
	"context"
	"fmt"
	"sync"

	"github.com/mkrelic/questline/pkg/quest"
	"github.com/mkrelic/questline/pkg/state"
)

// MockPlayers is an in-memory player service for testing. It records warps
// and supports per-item failure injection to exercise rollback paths.
type MockPlayers struct {
	mu    sync.Mutex
	items map[state.PlayerID]map[quest.ItemID]int
	attrs map[state.PlayerID]state.PlayerAttributes
	warps []quest.MapID

	slots      int
	addItemErr map[quest.ItemID]error
	warpErr    error
}

var (
	_ Inventory  = (*MockPlayers)(nil)
	_ Attributes = (*MockPlayers)(nil)
	_ World      = (*MockPlayers)(nil)
)

// NewMockPlayers creates an empty mock player service.
func NewMockPlayers() *MockPlayers {
	return &MockPlayers{
		items:      make(map[state.PlayerID]map[quest.ItemID]int),
		attrs:      make(map[state.PlayerID]state.PlayerAttributes),
		slots:      slotsPerTab,
		addItemErr: make(map[quest.ItemID]error),
	}
}

// Services returns the collaborator bundle backed by this mock.
func (m *MockPlayers) Services() Services {
	return Services{Inventory: m, Attributes: m, World: m}
}

// SetAttributes seeds a player's attribute record.
func (m *MockPlayers) SetAttributes(player state.PlayerID, attrs state.PlayerAttributes) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attrs[player] = attrs
}

// SetItem seeds an inventory count.
func (m *MockPlayers) SetItem(player state.PlayerID, item quest.ItemID, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.items[player] == nil {
		m.items[player] = make(map[quest.ItemID]int)
	}
	m.items[player][item] = count
}

// SetSlots overrides the per-tab slot count.
func (m *MockPlayers) SetSlots(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots = n
}

// FailAddItem makes AddItem fail for the given item.
func (m *MockPlayers) FailAddItem(item quest.ItemID, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addItemErr[item] = err
}

// SetWarpError makes Warp fail with the given error.
func (m *MockPlayers) SetWarpError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warpErr = err
}

// Warps returns the maps the mock was asked to warp players to.
func (m *MockPlayers) Warps() []quest.MapID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]quest.MapID(nil), m.warps...)
}

// Inventory

func (m *MockPlayers) ItemCount(ctx context.Context, player state.PlayerID, item quest.ItemID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[player][item], nil
}

func (m *MockPlayers) Items(ctx context.Context, player state.PlayerID) (map[quest.ItemID]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[quest.ItemID]int, len(m.items[player]))
	for id, count := range m.items[player] {
		if count > 0 {
			out[id] = count
		}
	}
	return out, nil
}

func (m *MockPlayers) AddItem(ctx context.Context, player state.PlayerID, item quest.ItemID, qty int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.addItemErr[item]; err != nil {
		return err
	}
	if m.items[player] == nil {
		m.items[player] = make(map[quest.ItemID]int)
	}
	m.items[player][item] += qty
	return nil
}

func (m *MockPlayers) RemoveItem(ctx context.Context, player state.PlayerID, item quest.ItemID, qty int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.items[player][item] < qty {
		return fmt.Errorf("player %s holds too few of item %d", player, item)
	}
	m.items[player][item] -= qty
	if m.items[player][item] == 0 {
		delete(m.items[player], item)
	}
	return nil
}

func (m *MockPlayers) FreeCapacity(ctx context.Context, player state.PlayerID, tab string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	used := 0
	for id, count := range m.items[player] {
		if count > 0 && state.ItemTab(id) == tab {
			used++
		}
	}
	free := m.slots - used
	if free < 0 {
		free = 0
	}
	return free, nil
}

// Attributes

func (m *MockPlayers) Get(ctx context.Context, player state.PlayerID) (state.PlayerAttributes, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attrs[player], nil
}

func (m *MockPlayers) AdjustExp(ctx context.Context, player state.PlayerID, delta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.attrs[player]
	if a.Exp+delta < 0 {
		return fmt.Errorf("player %s has insufficient exp", player)
	}
	a.Exp += delta
	m.attrs[player] = a
	return nil
}

func (m *MockPlayers) AdjustMesos(ctx context.Context, player state.PlayerID, delta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.attrs[player]
	if a.Mesos+delta < 0 {
		return fmt.Errorf("player %s has insufficient mesos", player)
	}
	a.Mesos += delta
	m.attrs[player] = a
	return nil
}

func (m *MockPlayers) AdjustFame(ctx context.Context, player state.PlayerID, delta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.attrs[player]
	a.Fame += delta
	m.attrs[player] = a
	return nil
}

// World

func (m *MockPlayers) Warp(ctx context.Context, player state.PlayerID, mapID quest.MapID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.warpErr != nil {
		return m.warpErr
	}
	m.warps = append(m.warps, mapID)
	return nil
}
