package player

import (
	"context"

	"github.com/mkrelic/questline/pkg/quest"
	"github.com/mkrelic/questline/pkg/state"
)

// Inventory is the inventory service the engine consumes. The engine only
// needs counts, adds, removes and capacity checks; storage layout belongs to
// the implementation.
type Inventory interface {
	ItemCount(ctx context.Context, player state.PlayerID, item quest.ItemID) (int, error)
	// Items returns the player's full item counts for snapshotting.
	Items(ctx context.Context, player state.PlayerID) (map[quest.ItemID]int, error)
	AddItem(ctx context.Context, player state.PlayerID, item quest.ItemID, qty int) error
	RemoveItem(ctx context.Context, player state.PlayerID, item quest.ItemID, qty int) error
	FreeCapacity(ctx context.Context, player state.PlayerID, tab string) (int, error)
}

// Attributes is the player attribute service. Reads feed guard evaluation;
// writes happen only through transition effects, as signed adjustments so
// compensating rollbacks reuse the same operations.
type Attributes interface {
	Get(ctx context.Context, player state.PlayerID) (state.PlayerAttributes, error)
	AdjustExp(ctx context.Context, player state.PlayerID, delta int) error
	AdjustMesos(ctx context.Context, player state.PlayerID, delta int) error
	AdjustFame(ctx context.Context, player state.PlayerID, delta int) error
}

// World is the map service. Warp is fire-and-forget: a warp is never rolled
// back, since map transitions are not transactional with inventory.
type World interface {
	Warp(ctx context.Context, player state.PlayerID, mapID quest.MapID) error
}

// Services bundles the collaborators a transition engine needs.
type Services struct {
	Inventory  Inventory
	Attributes Attributes
	World      World
}
