package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mkrelic/questline/internal/engine"
	"github.com/mkrelic/questline/pkg/quest"
	"github.com/mkrelic/questline/pkg/state"
)

// Session-level errors, layered on top of the engine taxonomy.
var (
	// ErrSessionNotFound means the interaction id is unknown or expired.
	ErrSessionNotFound = errors.New("interaction session not found")

	// ErrNotEligible means no transition is currently available for the
	// quest; the dialogue layer shows the fallback narrative instead.
	ErrNotEligible = errors.New("no transition available")
)

// sessionTTL bounds how long an abandoned conversation is kept. An
// abandoned session holds only a discarded snapshot; nothing was mutated.
const sessionTTL = 10 * time.Minute

// Session is one NPC conversation: a player, the NPC's quests, and the
// snapshot guards are evaluated against until the session refreshes.
type Session struct {
	ID        uuid.UUID
	PlayerID  state.PlayerID
	NPCID     int32
	Quests    []quest.QuestID
	Snapshot  *state.PlayerSnapshot
	StartedAt time.Time
}

// TransitionSummary describes the available transition for rendering menu
// text; the narrative key is what the dialogue layer maps to lines.
type TransitionSummary struct {
	To        quest.StageToken `json:"to"`
	Narrative string           `json:"narrative,omitempty"`
}

// Resolution is the narrative state of one quest within a session.
type Resolution struct {
	QuestID   quest.QuestID      `json:"quest_id"`
	Stage     quest.StageToken   `json:"stage"`
	Completed bool               `json:"completed"`
	Available *TransitionSummary `json:"available,omitempty"`
	// Narrative is the fallback key when no transition is available.
	Narrative string `json:"narrative,omitempty"`
}

// Manager orchestrates interaction sessions over the transition engine.
// One player is in at most one session per NPC at a time from the server's
// point of view, but quest state may still move underneath a session; the
// engine's re-validation handles that.
type Manager struct {
	engine *engine.Engine
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
}

// NewManager creates a session manager.
func NewManager(eng *engine.Engine, logger *slog.Logger) *Manager {
	return &Manager{
		engine:   eng,
		logger:   logger,
		sessions: make(map[uuid.UUID]*Session),
	}
}

// Begin starts an interaction with an NPC and returns the session with a
// fresh snapshot scoped to the NPC's quests.
func (m *Manager) Begin(ctx context.Context, playerID state.PlayerID, npcID int32) (*Session, error) {
	quests := m.engine.Catalog().QuestsForNPC(npcID)
	snap, err := m.engine.Snapshot(ctx, playerID, quests...)
	if err != nil {
		return nil, err
	}

	s := &Session{
		ID:        uuid.New(),
		PlayerID:  playerID,
		NPCID:     npcID,
		Quests:    quests,
		Snapshot:  snap,
		StartedAt: time.Now(),
	}

	m.mu.Lock()
	m.evictExpiredLocked()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.logger.Debug("Interaction started", "session", s.ID, "player", playerID, "npc", npcID, "quests", len(quests))
	return s, nil
}

// Get returns an active session by id.
func (m *Manager) Get(id uuid.UUID) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || time.Since(s.StartedAt) > sessionTTL {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// End abandons a session. Nothing is mutated: all session reads were
// snapshot-based and are simply discarded.
func (m *Manager) End(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// Resolve reports the narrative state of a quest against the session's
// snapshot: the current stage and the available transition, if any.
func (m *Manager) Resolve(s *Session, questID quest.QuestID) (Resolution, error) {
	def := m.engine.Catalog().Get(questID)
	if def == nil {
		return Resolution{}, fmt.Errorf("%w: %d", engine.ErrUnknownQuest, questID)
	}

	stage := s.Snapshot.GetQuestStage(questID)
	res := Resolution{
		QuestID:   questID,
		Stage:     stage,
		Completed: def.IsTerminal(stage),
	}

	t, err := m.engine.Resolve(questID, s.Snapshot)
	if err != nil {
		return Resolution{}, err
	}
	if t == nil {
		res.Narrative = def.FallbackNarrative
		return res, nil
	}

	res.Available = &TransitionSummary{To: t.To, Narrative: t.Narrative}
	return res, nil
}

// Apply resolves and applies the available transition for a quest. A lost
// compare-and-set is retried once from a fresh snapshot; a second conflict
// surfaces as ErrConcurrentModification for the dialogue layer to report as
// a transient error. After any outcome the session snapshot is refreshed so
// the rest of the conversation sees current state.
func (m *Manager) Apply(ctx context.Context, s *Session, questID quest.QuestID) (state.QuestProgress, error) {
	prog, err := m.applyOnce(ctx, s, questID)
	if errors.Is(err, engine.ErrConcurrentModification) {
		m.logger.Debug("Transition lost the race, retrying once", "session", s.ID, "quest", questID)
		prog, err = m.applyOnce(ctx, s, questID)
	}

	if refreshErr := m.refresh(ctx, s); refreshErr != nil {
		m.logger.Warn("Failed to refresh session snapshot", "session", s.ID, "error", refreshErr)
	}
	return prog, err
}

func (m *Manager) applyOnce(ctx context.Context, s *Session, questID quest.QuestID) (state.QuestProgress, error) {
	snap, err := m.engine.Snapshot(ctx, s.PlayerID, questID)
	if err != nil {
		return state.QuestProgress{}, err
	}

	t, err := m.engine.Resolve(questID, snap)
	if err != nil {
		return state.QuestProgress{}, err
	}
	if t == nil {
		return state.QuestProgress{}, ErrNotEligible
	}

	return m.engine.Apply(ctx, s.PlayerID, questID, *t)
}

func (m *Manager) refresh(ctx context.Context, s *Session) error {
	snap, err := m.engine.Snapshot(ctx, s.PlayerID, s.Quests...)
	if err != nil {
		return err
	}
	s.Snapshot = snap
	return nil
}

func (m *Manager) evictExpiredLocked() {
	for id, s := range m.sessions {
		if time.Since(s.StartedAt) > sessionTTL {
			delete(m.sessions, id)
		}
	}
}
