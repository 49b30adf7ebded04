package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/mkrelic/questline/pkg/quest"
	"github.com/mkrelic/questline/pkg/state"
)

// Effect application is all-or-nothing: every consume is pre-validated
// against the snapshot and every grant against remaining capacity before
// anything mutates. If a mid-list step still fails (concurrent interference
// on the live records), already-applied effects are compensated in reverse
// order before the error surfaces, and the quest stage is never advanced.
//
// Warp is the documented exception: it is fire-and-forget, never rolled
// back, and a warp failure does not abort the list.

// rollbackFunc undoes the applied portion of an effect list. It returns an
// error only when compensation itself failed, which is surfaced as a
// partial failure.
type rollbackFunc func(ctx context.Context) error

var noRollback rollbackFunc = func(ctx context.Context) error { return nil }

// preValidate checks the whole effect list against the snapshot without
// mutating anything.
func (e *Engine) preValidate(snap *state.PlayerSnapshot, effects []quest.Effect) error {
	consumed := make(map[quest.ItemID]int)
	newSlots := make(map[string]int)
	granted := make(map[quest.ItemID]bool)
	mesosSpent := 0

	for _, eff := range effects {
		switch eff.Type {
		case quest.EffectConsumeItem:
			consumed[eff.Item] += eff.Qty
			if snap.GetItemCount(eff.Item) < consumed[eff.Item] {
				return fmt.Errorf("%w: item %d (have %d, need %d)",
					ErrInsufficientResources, eff.Item, snap.GetItemCount(eff.Item), consumed[eff.Item])
			}
		case quest.EffectGrantItem:
			// A grant only needs a fresh slot when the player holds none of
			// the item and the list hasn't granted it already.
			if snap.GetItemCount(eff.Item) == 0 && !granted[eff.Item] {
				tab := state.ItemTab(eff.Item)
				newSlots[tab]++
				if newSlots[tab] > snap.FreeCapacity(tab) {
					return fmt.Errorf("%w: no free %s slot for item %d", ErrInventoryFull, tab, eff.Item)
				}
			}
			granted[eff.Item] = true
		case quest.EffectConsumeMesos:
			mesosSpent += eff.Amount
			if snap.GetMesos() < mesosSpent {
				return fmt.Errorf("%w: mesos (have %d, need %d)",
					ErrInsufficientResources, snap.GetMesos(), mesosSpent)
			}
		}
	}
	return nil
}

// applyEffects pre-validates and applies the effect list in declared order,
// returning a rollback covering everything applied. A mid-list failure is
// compensated here and reported as ErrPartialFailure.
func (e *Engine) applyEffects(ctx context.Context, playerID state.PlayerID, questID quest.QuestID, snap *state.PlayerSnapshot, effects []quest.Effect) (rollbackFunc, error) {
	if err := e.preValidate(snap, effects); err != nil {
		return noRollback, err
	}

	var undo []rollbackFunc
	rollback := func(ctx context.Context) error {
		var errs []error
		for i := len(undo) - 1; i >= 0; i-- {
			if err := undo[i](ctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	for _, eff := range effects {
		step, err := e.applyEffect(ctx, playerID, snap, eff)
		if err != nil {
			detail := fmt.Errorf("effect %s: %v", eff, err)
			if rbErr := rollback(ctx); rbErr != nil {
				detail = fmt.Errorf("%v; rollback: %v", detail, rbErr)
			}
			e.reportPartialFailure(ctx, playerID, questID, detail)
			return noRollback, fmt.Errorf("%w: %v", ErrPartialFailure, detail)
		}
		if step != nil {
			undo = append(undo, step)
		}
	}
	return rollback, nil
}

// applyEffect applies a single effect and returns its compensator, or nil
// for effects that are not rolled back.
func (e *Engine) applyEffect(ctx context.Context, playerID state.PlayerID, snap *state.PlayerSnapshot, eff quest.Effect) (rollbackFunc, error) {
	inv := e.players.Inventory
	attrs := e.players.Attributes

	switch eff.Type {
	case quest.EffectGrantItem:
		if err := inv.AddItem(ctx, playerID, eff.Item, eff.Qty); err != nil {
			return nil, err
		}
		return func(ctx context.Context) error {
			return inv.RemoveItem(ctx, playerID, eff.Item, eff.Qty)
		}, nil

	case quest.EffectConsumeItem:
		if err := inv.RemoveItem(ctx, playerID, eff.Item, eff.Qty); err != nil {
			return nil, err
		}
		return func(ctx context.Context) error {
			return inv.AddItem(ctx, playerID, eff.Item, eff.Qty)
		}, nil

	case quest.EffectGrantExp:
		if err := attrs.AdjustExp(ctx, playerID, eff.Amount); err != nil {
			return nil, err
		}
		return func(ctx context.Context) error {
			return attrs.AdjustExp(ctx, playerID, -eff.Amount)
		}, nil

	case quest.EffectGrantMesos:
		if err := attrs.AdjustMesos(ctx, playerID, eff.Amount); err != nil {
			return nil, err
		}
		return func(ctx context.Context) error {
			return attrs.AdjustMesos(ctx, playerID, -eff.Amount)
		}, nil

	case quest.EffectConsumeMesos:
		if err := attrs.AdjustMesos(ctx, playerID, -eff.Amount); err != nil {
			return nil, err
		}
		return func(ctx context.Context) error {
			return attrs.AdjustMesos(ctx, playerID, eff.Amount)
		}, nil

	case quest.EffectGrantFame:
		if err := attrs.AdjustFame(ctx, playerID, eff.Amount); err != nil {
			return nil, err
		}
		return func(ctx context.Context) error {
			return attrs.AdjustFame(ctx, playerID, -eff.Amount)
		}, nil

	case quest.EffectSetStage:
		return e.applySetStage(ctx, playerID, snap, eff)

	case quest.EffectWarp:
		if err := e.players.World.Warp(ctx, playerID, eff.Map); err != nil {
			// Fire-and-forget: a lost warp never aborts the transition.
			e.logger.Warn("Warp effect failed", "player", playerID, "map", eff.Map, "error", err)
		}
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown effect type %q", eff.Type)
	}
}

// applySetStage moves another quest's progress record, CAS-guarded against
// the snapshot's view of that quest. The compensator moves it back.
func (e *Engine) applySetStage(ctx context.Context, playerID state.PlayerID, snap *state.PlayerSnapshot, eff quest.Effect) (rollbackFunc, error) {
	target := e.catalog.Get(eff.Quest)
	if target == nil {
		return nil, fmt.Errorf("%w: set_stage target %d", ErrUnknownQuest, eff.Quest)
	}

	prev, err := e.store.GetProgress(ctx, playerID, eff.Quest)
	if err != nil {
		return nil, err
	}
	if prev.Stage != snap.GetQuestStage(eff.Quest) {
		return nil, fmt.Errorf("quest %d moved since snapshot", eff.Quest)
	}

	next := nextProgress(target, prev, quest.Transition{From: prev.Stage, To: eff.Stage})
	ok, err := e.store.CompareAndSet(ctx, playerID, eff.Quest, prev.Stage, next)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("quest %d moved since snapshot", eff.Quest)
	}

	return func(ctx context.Context) error {
		ok, err := e.store.CompareAndSet(ctx, playerID, eff.Quest, eff.Stage, prev)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("could not restore quest %d to stage %q", eff.Quest, prev.Stage)
		}
		return nil
	}, nil
}
