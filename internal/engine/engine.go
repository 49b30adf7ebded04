package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mkrelic/questline/internal/player"
	"github.com/mkrelic/questline/internal/storage"
	"github.com/mkrelic/questline/pkg/quest"
	"github.com/mkrelic/questline/pkg/state"
)

// inventoryTabs are the tabs a snapshot reports free capacity for.
var inventoryTabs = []string{"equip", "use", "setup", "etc", "cash"}

// IntegrityLog receives partial-failure incidents for offline audit. A nil
// log is allowed; incidents are then only written to the logger.
type IntegrityLog interface {
	PartialFailure(ctx context.Context, playerID state.PlayerID, questID quest.QuestID, detail string)
}

// Engine is the transition engine: it resolves which transition applies for
// a player's current stage and applies its effects atomically. Resolve is a
// pure computation over an already-fetched snapshot; Apply re-fetches,
// re-validates and linearizes through the store's compare-and-set.
type Engine struct {
	catalog   *quest.Catalog
	store     storage.ProgressStore
	players   player.Services
	integrity IntegrityLog
	logger    *slog.Logger
}

// New creates a transition engine. integrity may be nil.
func New(catalog *quest.Catalog, store storage.ProgressStore, players player.Services, integrity IntegrityLog, logger *slog.Logger) *Engine {
	return &Engine{
		catalog:   catalog,
		store:     store,
		players:   players,
		integrity: integrity,
		logger:    logger,
	}
}

// Catalog returns the engine's quest catalog.
func (e *Engine) Catalog() *quest.Catalog {
	return e.catalog
}

// Snapshot builds an immutable view of the player for guard evaluation:
// attributes, inventory counts, tab capacity, and the stages of the given
// quests plus every quest they reference.
func (e *Engine) Snapshot(ctx context.Context, playerID state.PlayerID, questIDs ...quest.QuestID) (*state.PlayerSnapshot, error) {
	attrs, err := e.players.Attributes.Get(ctx, playerID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	items, err := e.players.Inventory.Items(ctx, playerID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	freeSlots := make(map[string]int, len(inventoryTabs))
	for _, tab := range inventoryTabs {
		free, err := e.players.Inventory.FreeCapacity(ctx, playerID, tab)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		freeSlots[tab] = free
	}

	quests := make(map[quest.QuestID]quest.StageToken)
	for _, id := range questIDs {
		for _, ref := range e.catalog.ReferencedQuests(id) {
			if _, done := quests[ref]; done {
				continue
			}
			prog, err := e.store.GetProgress(ctx, playerID, ref)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
			}
			quests[ref] = prog.Stage
		}
	}

	return &state.PlayerSnapshot{
		PlayerID:   playerID,
		Attributes: attrs,
		Items:      items,
		FreeSlots:  freeSlots,
		Quests:     quests,
		TakenAt:    time.Now(),
	}, nil
}

// Resolve scans the quest's transitions from the snapshot's current stage in
// declaration order and returns the first whose guard holds, or nil if none
// does. When content allows two guards to hold at once, declaration order
// wins; cmd/validate flags such content. Terminal stages never resolve.
func (e *Engine) Resolve(questID quest.QuestID, snap *state.PlayerSnapshot) (*quest.Transition, error) {
	def := e.catalog.Get(questID)
	if def == nil {
		return nil, fmt.Errorf("%w: %d", ErrUnknownQuest, questID)
	}

	stage := snap.GetQuestStage(questID)
	if def.IsTerminal(stage) {
		return nil, nil
	}

	for _, t := range def.TransitionsFrom(stage) {
		if quest.Evaluate(t.Guard, snap, e.catalog, questID) {
			match := t
			return &match, nil
		}
	}
	return nil, nil
}

// Apply runs one transition for the player:
//
//  1. re-fetch a fresh snapshot (state may have changed since resolve),
//  2. re-validate the stage and guard, failing with
//     ErrGuardNoLongerSatisfied before any mutation,
//  3. apply the effect list all-or-nothing,
//  4. compare-and-set the progress record to the transition's target stage.
//
// A lost compare-and-set compensates the applied effects and returns
// ErrConcurrentModification; the caller may retry once from a fresh
// snapshot.
func (e *Engine) Apply(ctx context.Context, playerID state.PlayerID, questID quest.QuestID, t quest.Transition) (state.QuestProgress, error) {
	def := e.catalog.Get(questID)
	if def == nil {
		return state.QuestProgress{}, fmt.Errorf("%w: %d", ErrUnknownQuest, questID)
	}

	snap, err := e.Snapshot(ctx, playerID, questID)
	if err != nil {
		return state.QuestProgress{}, err
	}

	if snap.GetQuestStage(questID) != t.From || !quest.Evaluate(t.Guard, snap, e.catalog, questID) {
		return state.QuestProgress{}, ErrGuardNoLongerSatisfied
	}

	prev, err := e.store.GetProgress(ctx, playerID, questID)
	if err != nil {
		return state.QuestProgress{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	rollback, err := e.applyEffects(ctx, playerID, questID, snap, t.Effects)
	if err != nil {
		return state.QuestProgress{}, err
	}

	next := nextProgress(def, prev, t)
	ok, casErr := e.store.CompareAndSet(ctx, playerID, questID, t.From, next)
	if casErr != nil || !ok {
		if rbErr := rollback(ctx); rbErr != nil {
			e.reportPartialFailure(ctx, playerID, questID, rbErr)
			return state.QuestProgress{}, fmt.Errorf("%w: %v", ErrPartialFailure, rbErr)
		}
		if casErr != nil {
			return state.QuestProgress{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, casErr)
		}
		return state.QuestProgress{}, ErrConcurrentModification
	}

	e.logger.Info("Quest transition applied",
		"player", playerID,
		"quest", questID,
		"from", t.From,
		"to", t.To)
	return next, nil
}

// nextProgress builds the record written by a successful transition. The
// start timestamp is set on the first transition out of the unstarted stage
// and preserved afterward; the completion timestamp is set when the target
// stage is terminal.
func nextProgress(def *quest.Definition, prev state.QuestProgress, t quest.Transition) state.QuestProgress {
	now := time.Now()
	next := state.QuestProgress{
		Stage:     t.To,
		StartedAt: prev.StartedAt,
	}
	if t.From == quest.StageUnstarted {
		next.StartedAt = now
	}
	if def.IsTerminal(t.To) {
		next.CompletedAt = &now
	}
	return next
}

func (e *Engine) reportPartialFailure(ctx context.Context, playerID state.PlayerID, questID quest.QuestID, cause error) {
	e.logger.Error("Transition rollback incomplete",
		"player", playerID,
		"quest", questID,
		"error", cause)
	if e.integrity != nil {
		e.integrity.PartialFailure(ctx, playerID, questID, cause.Error())
	}
}
