package engine

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/mkrelic/questline/internal/player"
	"github.com/mkrelic/questline/internal/storage"
	"github.com/mkrelic/questline/pkg/quest"
	"github.com/mkrelic/questline/pkg/state"
)

func intPtr(n int) *int { return &n }

// flowerBasketDef is the exchange quest: start, gather 10 flowers, trade
// them for 30 threads and 300 exp.
func flowerBasketDef() *quest.Definition {
	return &quest.Definition{
		ID:       5500,
		Name:     "Flower Basket",
		NPCs:     []int32{1012103},
		Terminal: []quest.StageToken{"2"},
		Transitions: []quest.Transition{
			{From: quest.StageUnstarted, To: "1", Narrative: "start"},
			{
				From:  "1",
				To:    "2",
				Guard: &quest.Predicate{Items: []quest.ItemThreshold{{Item: 4031025, Min: intPtr(10)}}},
				Effects: []quest.Effect{
					{Type: quest.EffectConsumeItem, Item: 4031025, Qty: 10},
					{Type: quest.EffectGrantItem, Item: 4003000, Qty: 30},
					{Type: quest.EffectGrantExp, Amount: 300},
				},
				Narrative: "complete",
			},
			{
				From:      "1",
				To:        "1",
				Guard:     &quest.Predicate{Items: []quest.ItemThreshold{{Item: 4031025, Max: intPtr(9)}}},
				Narrative: "gathering",
			},
		},
	}
}

func ticketDef() *quest.Definition {
	return &quest.Definition{
		ID:       5100,
		Name:     "Ticket",
		Terminal: []quest.StageToken{"done"},
		Transitions: []quest.Transition{
			{
				From:  quest.StageUnstarted,
				To:    "done",
				Guard: &quest.Predicate{},
				Effects: []quest.Effect{
					{Type: quest.EffectConsumeMesos, Amount: 999},
				},
			},
		},
	}
}

type capturedIntegrity struct {
	events []string
}

func (c *capturedIntegrity) PartialFailure(ctx context.Context, playerID state.PlayerID, questID quest.QuestID, detail string) {
	c.events = append(c.events, detail)
}

func testEngine(t *testing.T, defs ...*quest.Definition) (*Engine, *storage.MockStore, *player.MockPlayers, *capturedIntegrity) {
	t.Helper()

	catalog := quest.NewCatalog()
	for _, def := range defs {
		if err := catalog.Add(def); err != nil {
			t.Fatalf("Failed to add quest %d: %v", def.ID, err)
		}
	}

	store := storage.NewMockStore()
	players := player.NewMockPlayers()
	integrity := &capturedIntegrity{}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	return New(catalog, store, players.Services(), integrity, logger), store, players, integrity
}

func TestResolve_FirstDeclaredWins(t *testing.T) {
	eng, store, players, _ := testEngine(t, flowerBasketDef())
	ctx := context.Background()
	pid := state.PlayerID("char-1")

	store.Seed(pid, 5500, state.QuestProgress{Stage: "1"})
	players.SetItem(pid, 4031025, 10)

	snap, err := eng.Snapshot(ctx, pid, 5500)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	transition, err := eng.Resolve(5500, snap)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if transition == nil {
		t.Fatal("Expected a transition")
	}
	if transition.To != "2" {
		t.Errorf("Expected the completion transition, got to=%q", transition.To)
	}
}

func TestResolve_SelfLoopStability(t *testing.T) {
	eng, store, players, _ := testEngine(t, flowerBasketDef())
	ctx := context.Background()
	pid := state.PlayerID("char-1")

	store.Seed(pid, 5500, state.QuestProgress{Stage: "1"})
	players.SetItem(pid, 4031025, 3)

	// Below the threshold the player gets the same "still gathering"
	// self-loop on every resolve; the stage never changes.
	for i := 0; i < 3; i++ {
		snap, err := eng.Snapshot(ctx, pid, 5500)
		if err != nil {
			t.Fatalf("Snapshot failed: %v", err)
		}
		transition, err := eng.Resolve(5500, snap)
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if transition == nil || !transition.IsSelfLoop() {
			t.Fatalf("Resolve %d: expected the gathering self-loop, got %+v", i, transition)
		}
		if transition.Narrative != "gathering" {
			t.Errorf("Resolve %d: expected gathering narrative, got %q", i, transition.Narrative)
		}
	}

	prog, err := store.GetProgress(ctx, pid, 5500)
	if err != nil {
		t.Fatalf("GetProgress failed: %v", err)
	}
	if prog.Stage != "1" {
		t.Errorf("Stage must not move on resolve, got %q", prog.Stage)
	}
}

func TestResolve_NoneWhenNoGuardHolds(t *testing.T) {
	def := flowerBasketDef()
	// Drop the self-loop so an under-threshold player has no transition.
	def.Transitions = def.Transitions[:2]
	eng, store, players, _ := testEngine(t, def)
	ctx := context.Background()
	pid := state.PlayerID("char-1")

	store.Seed(pid, 5500, state.QuestProgress{Stage: "1"})
	players.SetItem(pid, 4031025, 3)

	snap, err := eng.Snapshot(ctx, pid, 5500)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	transition, err := eng.Resolve(5500, snap)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if transition != nil {
		t.Errorf("Expected no transition, got %+v", transition)
	}
}

func TestResolve_TerminalStageHasNoTransitions(t *testing.T) {
	eng, store, _, _ := testEngine(t, flowerBasketDef())
	ctx := context.Background()
	pid := state.PlayerID("char-1")

	store.Seed(pid, 5500, state.QuestProgress{Stage: "2"})

	snap, err := eng.Snapshot(ctx, pid, 5500)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	transition, err := eng.Resolve(5500, snap)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if transition != nil {
		t.Errorf("Terminal stage must not resolve, got %+v", transition)
	}
}

func TestResolve_UnknownQuest(t *testing.T) {
	eng, _, _, _ := testEngine(t, flowerBasketDef())
	snap := &state.PlayerSnapshot{}
	if _, err := eng.Resolve(9999, snap); !errors.Is(err, ErrUnknownQuest) {
		t.Errorf("Expected ErrUnknownQuest, got %v", err)
	}
}

// The round trip from the exchange quest: resolve at stage 1 with ten
// flowers, apply, and verify every effect landed exactly once.
func TestApply_RoundTrip(t *testing.T) {
	eng, store, players, _ := testEngine(t, flowerBasketDef())
	ctx := context.Background()
	pid := state.PlayerID("char-1")

	store.Seed(pid, 5500, state.QuestProgress{Stage: "1"})
	players.SetAttributes(pid, state.PlayerAttributes{Level: 20})
	players.SetItem(pid, 4031025, 10)

	snap, err := eng.Snapshot(ctx, pid, 5500)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	transition, err := eng.Resolve(5500, snap)
	if err != nil || transition == nil {
		t.Fatalf("Resolve failed: t=%v err=%v", transition, err)
	}

	prog, err := eng.Apply(ctx, pid, 5500, *transition)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if prog.Stage != "2" {
		t.Errorf("Expected stage 2, got %q", prog.Stage)
	}
	if prog.CompletedAt == nil {
		t.Error("Expected completion timestamp on a terminal stage")
	}

	flowers, _ := players.ItemCount(ctx, pid, 4031025)
	if flowers != 0 {
		t.Errorf("Expected flowers consumed, have %d", flowers)
	}
	threads, _ := players.ItemCount(ctx, pid, 4003000)
	if threads != 30 {
		t.Errorf("Expected 30 threads granted, have %d", threads)
	}
	attrs, _ := players.Get(ctx, pid)
	if attrs.Exp != 300 {
		t.Errorf("Expected 300 exp granted, have %d", attrs.Exp)
	}

	// A second apply with the same pre-fetched transition must fail
	// without double-granting: the stage moved and the items are gone.
	if _, err := eng.Apply(ctx, pid, 5500, *transition); !errors.Is(err, ErrGuardNoLongerSatisfied) {
		t.Fatalf("Expected ErrGuardNoLongerSatisfied, got %v", err)
	}
	threads, _ = players.ItemCount(ctx, pid, 4003000)
	if threads != 30 {
		t.Errorf("Second apply double-granted: have %d threads", threads)
	}
	attrs, _ = players.Get(ctx, pid)
	if attrs.Exp != 300 {
		t.Errorf("Second apply double-granted exp: %d", attrs.Exp)
	}
}

func TestApply_GuardRevalidation(t *testing.T) {
	eng, store, players, _ := testEngine(t, flowerBasketDef())
	ctx := context.Background()
	pid := state.PlayerID("char-1")

	store.Seed(pid, 5500, state.QuestProgress{Stage: "1"})
	players.SetItem(pid, 4031025, 10)

	snap, err := eng.Snapshot(ctx, pid, 5500)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	transition, err := eng.Resolve(5500, snap)
	if err != nil || transition == nil {
		t.Fatalf("Resolve failed: t=%v err=%v", transition, err)
	}

	// The flowers vanish between resolve and apply (say, dropped or
	// traded through another NPC).
	if err := players.RemoveItem(ctx, pid, 4031025, 5); err != nil {
		t.Fatalf("RemoveItem failed: %v", err)
	}

	before, _ := store.GetProgress(ctx, pid, 5500)
	if _, err := eng.Apply(ctx, pid, 5500, *transition); !errors.Is(err, ErrGuardNoLongerSatisfied) {
		t.Fatalf("Expected ErrGuardNoLongerSatisfied, got %v", err)
	}
	after, _ := store.GetProgress(ctx, pid, 5500)
	if after != before {
		t.Errorf("Failed apply mutated progress: %+v -> %+v", before, after)
	}
	flowers, _ := players.ItemCount(ctx, pid, 4031025)
	if flowers != 5 {
		t.Errorf("Failed apply mutated inventory: %d", flowers)
	}
}

func TestApply_InsufficientFunds(t *testing.T) {
	eng, store, players, _ := testEngine(t, ticketDef())
	ctx := context.Background()
	pid := state.PlayerID("char-1")

	players.SetAttributes(pid, state.PlayerAttributes{Level: 10, Mesos: 500})

	snap, err := eng.Snapshot(ctx, pid, 5100)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	transition, err := eng.Resolve(5100, snap)
	if err != nil || transition == nil {
		t.Fatalf("Resolve failed: t=%v err=%v", transition, err)
	}

	if _, err := eng.Apply(ctx, pid, 5100, *transition); !errors.Is(err, ErrInsufficientResources) {
		t.Fatalf("Expected ErrInsufficientResources, got %v", err)
	}

	attrs, _ := players.Get(ctx, pid)
	if attrs.Mesos != 500 {
		t.Errorf("Failed apply changed the balance: %d", attrs.Mesos)
	}
	prog, _ := store.GetProgress(ctx, pid, 5100)
	if !prog.IsUnstarted() {
		t.Errorf("Failed apply advanced the stage: %q", prog.Stage)
	}
}

// At-most-one-winner: two goroutines race the same start transition; the
// loser's compare-and-set fails, its effects are compensated, and the
// reward lands exactly once.
func TestApply_AtMostOneWinnerUnderRace(t *testing.T) {
	def := &quest.Definition{
		ID:       600,
		Name:     "Welcome Gift",
		Terminal: []quest.StageToken{"done"},
		Transitions: []quest.Transition{
			{
				From:    quest.StageUnstarted,
				To:      "done",
				Effects: []quest.Effect{{Type: quest.EffectGrantExp, Amount: 100}},
			},
		},
	}
	eng, store, players, _ := testEngine(t, def)
	ctx := context.Background()
	pid := state.PlayerID("char-1")
	transition := def.Transitions[0]

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := eng.Apply(ctx, pid, 600, transition)
			results <- err
		}()
	}

	var wins, conflicts int
	for i := 0; i < 2; i++ {
		err := <-results
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrConcurrentModification), errors.Is(err, ErrGuardNoLongerSatisfied):
			conflicts++
		default:
			t.Fatalf("Unexpected error: %v", err)
		}
	}
	if wins != 1 || conflicts != 1 {
		t.Fatalf("Expected exactly one winner, got wins=%d conflicts=%d", wins, conflicts)
	}

	attrs, _ := players.Get(ctx, pid)
	if attrs.Exp != 100 {
		t.Errorf("Reward must land exactly once, have %d exp", attrs.Exp)
	}
	prog, _ := store.GetProgress(ctx, pid, 600)
	if prog.Stage != "done" {
		t.Errorf("Expected stage done, got %q", prog.Stage)
	}
}

func TestApply_StoreUnavailable(t *testing.T) {
	eng, store, players, _ := testEngine(t, flowerBasketDef())
	ctx := context.Background()
	pid := state.PlayerID("char-1")

	players.SetItem(pid, 4031025, 10)
	store.SetGetError(errors.New("connection refused"))

	transition := flowerBasketDef().Transitions[0]
	if _, err := eng.Apply(ctx, pid, 5500, transition); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("Expected ErrStoreUnavailable, got %v", err)
	}
}

func TestApply_StartSetsTimestamps(t *testing.T) {
	eng, _, players, _ := testEngine(t, flowerBasketDef())
	ctx := context.Background()
	pid := state.PlayerID("char-1")
	players.SetAttributes(pid, state.PlayerAttributes{Level: 5})

	start := flowerBasketDef().Transitions[0]
	prog, err := eng.Apply(ctx, pid, 5500, start)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if prog.Stage != "1" {
		t.Errorf("Expected stage 1, got %q", prog.Stage)
	}
	if prog.StartedAt.IsZero() {
		t.Error("Expected start timestamp on the first transition")
	}
	if prog.CompletedAt != nil {
		t.Error("Non-terminal stage must not be completed")
	}
}
