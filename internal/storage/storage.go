package storage

import (
	"context"

	"github.com/mkrelic/questline/pkg/quest"
	"github.com/mkrelic/questline/pkg/state"
)

// ProgressStore is the durable per-player quest progress store. Progress is
// keyed by (player, quest) and linearized through CompareAndSet: only one
// concurrent transition from a given stage can win.
type ProgressStore interface {
	// Health and lifecycle
	Ping(ctx context.Context) error
	Close() error

	// GetProgress returns the player's progress for a quest, or the
	// unstarted record if none exists. It never fails for a valid player.
	GetProgress(ctx context.Context, player state.PlayerID, questID quest.QuestID) (state.QuestProgress, error)

	// CompareAndSet atomically replaces the progress record iff the current
	// stage equals expected. It returns false on a stage mismatch rather
	// than an error; the caller reloads its snapshot and retries once.
	// Once CompareAndSet returns true the new record is durable.
	CompareAndSet(ctx context.Context, player state.PlayerID, questID quest.QuestID, expected quest.StageToken, next state.QuestProgress) (bool, error)
}
