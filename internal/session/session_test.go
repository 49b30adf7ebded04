package session

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mkrelic/questline/internal/engine"
	"github.com/mkrelic/questline/internal/player"
	"github.com/mkrelic/questline/internal/storage"
	"github.com/mkrelic/questline/pkg/quest"
	"github.com/mkrelic/questline/pkg/state"
)

const testNPC int32 = 1012103

func intPtr(n int) *int { return &n }

func flowerBasketDef() *quest.Definition {
	return &quest.Definition{
		ID:                5500,
		Name:              "Flower Basket",
		NPCs:              []int32{testNPC},
		Terminal:          []quest.StageToken{"2"},
		FallbackNarrative: "nothing_to_do",
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

func testManager(t *testing.T, defs ...*quest.Definition) (*Manager, *storage.MockStore, *player.MockPlayers) {
	t.Helper()

	catalog := quest.NewCatalog()
	for _, def := range defs {
		if err := catalog.Add(def); err != nil {
			t.Fatalf("Failed to add quest %d: %v", def.ID, err)
		}
	}

	store := storage.NewMockStore()
	players := player.NewMockPlayers()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	eng := engine.New(catalog, store, players.Services(), nil, logger)
	return NewManager(eng, logger), store, players
}

func TestBeginGetEnd(t *testing.T) {
	mgr, _, _ := testManager(t, flowerBasketDef())
	ctx := context.Background()

	s, err := mgr.Begin(ctx, "char-1", testNPC)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if s.NPCID != testNPC {
		t.Errorf("Expected NPC %d, got %d", testNPC, s.NPCID)
	}
	if len(s.Quests) != 1 || s.Quests[0] != 5500 {
		t.Errorf("Expected the NPC's quest list, got %v", s.Quests)
	}
	if s.Snapshot == nil {
		t.Fatal("Expected a snapshot")
	}

	got, err := mgr.Get(s.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ID != s.ID {
		t.Errorf("Get returned a different session")
	}

	mgr.End(s.ID)
	if _, err := mgr.Get(s.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound after End, got %v", err)
	}
}

func TestGet_UnknownAndExpired(t *testing.T) {
	mgr, _, _ := testManager(t, flowerBasketDef())
	ctx := context.Background()

	if _, err := mgr.Get(uuid.New()); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound for an unknown id, got %v", err)
	}

	s, err := mgr.Begin(ctx, "char-1", testNPC)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	s.StartedAt = time.Now().Add(-sessionTTL - time.Minute)
	if _, err := mgr.Get(s.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound for an expired session, got %v", err)
	}
}

func TestResolve_AvailableTransition(t *testing.T) {
	mgr, store, players := testManager(t, flowerBasketDef())
	ctx := context.Background()

	store.Seed("char-1", 5500, state.QuestProgress{Stage: "1"})
	players.SetItem("char-1", 4031025, 10)

	s, err := mgr.Begin(ctx, "char-1", testNPC)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	res, err := mgr.Resolve(s, 5500)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Stage != "1" || res.Completed {
		t.Errorf("Unexpected resolution state: %+v", res)
	}
	if res.Available == nil || res.Available.Narrative != "complete" {
		t.Errorf("Expected the completion transition, got %+v", res.Available)
	}
	if res.Narrative != "" {
		t.Errorf("Fallback narrative must be empty when a transition is available, got %q", res.Narrative)
	}
}

func TestResolve_FallbackNarrative(t *testing.T) {
	def := flowerBasketDef()
	// No self-loop: an under-threshold player has no transition at all.
	def.Transitions = def.Transitions[:2]
	mgr, store, players := testManager(t, def)
	ctx := context.Background()

	store.Seed("char-1", 5500, state.QuestProgress{Stage: "1"})
	players.SetItem("char-1", 4031025, 3)

	s, err := mgr.Begin(ctx, "char-1", testNPC)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	res, err := mgr.Resolve(s, 5500)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Available != nil {
		t.Errorf("Expected no transition, got %+v", res.Available)
	}
	if res.Narrative != "nothing_to_do" {
		t.Errorf("Expected the fallback narrative, got %q", res.Narrative)
	}
}

func TestResolve_CompletedQuest(t *testing.T) {
	mgr, store, _ := testManager(t, flowerBasketDef())
	ctx := context.Background()

	done := time.Now()
	store.Seed("char-1", 5500, state.QuestProgress{Stage: "2", CompletedAt: &done})

	s, err := mgr.Begin(ctx, "char-1", testNPC)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	res, err := mgr.Resolve(s, 5500)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !res.Completed {
		t.Error("Expected the quest to report completed")
	}
	if res.Available != nil {
		t.Errorf("Terminal stages never offer transitions, got %+v", res.Available)
	}
}

func TestApply_AdvancesAndRefreshesSnapshot(t *testing.T) {
	mgr, store, players := testManager(t, flowerBasketDef())
	ctx := context.Background()

	store.Seed("char-1", 5500, state.QuestProgress{Stage: "1"})
	players.SetItem("char-1", 4031025, 10)

	s, err := mgr.Begin(ctx, "char-1", testNPC)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	prog, err := mgr.Apply(ctx, s, 5500)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if prog.Stage != "2" {
		t.Errorf("Expected stage 2, got %q", prog.Stage)
	}

	// The session snapshot was refreshed; the rest of the conversation
	// sees the new stage without a new session.
	if got := s.Snapshot.GetQuestStage(5500); got != "2" {
		t.Errorf("Expected the refreshed snapshot to see stage 2, got %q", got)
	}
}

func TestApply_NotEligible(t *testing.T) {
	def := flowerBasketDef()
	def.Transitions = def.Transitions[:2]
	mgr, store, players := testManager(t, def)
	ctx := context.Background()

	store.Seed("char-1", 5500, state.QuestProgress{Stage: "1"})
	players.SetItem("char-1", 4031025, 3)

	s, err := mgr.Begin(ctx, "char-1", testNPC)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	if _, err := mgr.Apply(ctx, s, 5500); !errors.Is(err, ErrNotEligible) {
		t.Errorf("Expected ErrNotEligible, got %v", err)
	}
}

func TestApply_UnknownQuest(t *testing.T) {
	mgr, _, _ := testManager(t, flowerBasketDef())
	ctx := context.Background()

	s, err := mgr.Begin(ctx, "char-1", testNPC)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if _, err := mgr.Apply(ctx, s, 9999); !errors.Is(err, engine.ErrUnknownQuest) {
		t.Errorf("Expected ErrUnknownQuest, got %v", err)
	}
}

// Two sessions racing the same transition: the reward lands exactly once.
// The session layer's single retry resolves from a fresh snapshot, so the
// loser lands on ErrNotEligible or a guard failure rather than a spurious
// conflict.
func TestApply_RaceGrantsOnce(t *testing.T) {
	def := &quest.Definition{
		ID:       600,
		Name:     "Welcome Gift",
		NPCs:     []int32{testNPC},
		Terminal: []quest.StageToken{"done"},
		Transitions: []quest.Transition{
			{
				From:    quest.StageUnstarted,
				To:      "done",
				Effects: []quest.Effect{{Type: quest.EffectGrantExp, Amount: 100}},
			},
		},
	}
	mgr, store, players := testManager(t, def)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		s, err := mgr.Begin(ctx, "char-1", testNPC)
		if err != nil {
			t.Fatalf("Begin failed: %v", err)
		}
		wg.Add(1)
		go func(i int, s *Session) {
			defer wg.Done()
			_, errs[i] = mgr.Apply(ctx, s, 600)
		}(i, s)
	}
	wg.Wait()

	var wins int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrNotEligible),
			errors.Is(err, engine.ErrGuardNoLongerSatisfied),
			errors.Is(err, engine.ErrConcurrentModification):
		default:
			t.Fatalf("Unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("Expected exactly one winner, got %d (errs=%v)", wins, errs)
	}

	attrs, err := players.Get(ctx, "char-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if attrs.Exp != 100 {
		t.Errorf("Reward must land exactly once, have %d exp", attrs.Exp)
	}
	prog, _ := store.GetProgress(ctx, "char-1", 600)
	if prog.Stage != "done" {
		t.Errorf("Expected stage done, got %q", prog.Stage)
	}
}

func TestBegin_EvictsExpiredSessions(t *testing.T) {
	mgr, _, _ := testManager(t, flowerBasketDef())
	ctx := context.Background()

	old, err := mgr.Begin(ctx, "char-1", testNPC)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	old.StartedAt = time.Now().Add(-sessionTTL - time.Minute)

	if _, err := mgr.Begin(ctx, "char-2", testNPC); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	mgr.mu.Lock()
	_, stillThere := mgr.sessions[old.ID]
	mgr.mu.Unlock()
	if stillThere {
		t.Error("Expected the expired session to be evicted on Begin")
	}
}
