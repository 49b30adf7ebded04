package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/mkrelic/questline/internal/engine"
	"github.com/mkrelic/questline/internal/session"
	"github.com/mkrelic/questline/pkg/quest"
	"github.com/mkrelic/questline/pkg/state"
)

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// InteractionHandler exposes NPC conversations to the dialogue layer.
type InteractionHandler struct {
	sessions *session.Manager
	logger   *slog.Logger
}

func NewInteractionHandler(sessions *session.Manager, logger *slog.Logger) *InteractionHandler {
	return &InteractionHandler{
		sessions: sessions,
		logger:   logger,
	}
}

// BeginInteractionRequest starts a conversation between a player and an NPC.
type BeginInteractionRequest struct {
	PlayerID state.PlayerID `json:"player_id"`
	NPCID    int32          `json:"npc_id"`
}

// InteractionResponse is the session view the dialogue layer renders from.
type InteractionResponse struct {
	SessionID uuid.UUID            `json:"session_id"`
	PlayerID  state.PlayerID       `json:"player_id"`
	NPCID     int32                `json:"npc_id"`
	Quests    []session.Resolution `json:"quests"`
}

// ApplyRequest names the quest whose available transition should fire.
type ApplyRequest struct {
	QuestID quest.QuestID `json:"quest_id"`
}

// ApplyResponse reports the post-transition state of the quest.
type ApplyResponse struct {
	QuestID  quest.QuestID       `json:"quest_id"`
	Progress state.QuestProgress `json:"progress"`
}

// ServeHTTP handles HTTP requests for interaction sessions
// Routes:
// POST /v1/interactions               - Begin an interaction
// GET /v1/interactions/{id}           - Read the session's narrative state
// POST /v1/interactions/{id}/apply    - Apply a quest's available transition
// DELETE /v1/interactions/{id}        - Abandon the interaction
func (h *InteractionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/interactions"), "/")
	parts := []string{}
	if path != "" {
		parts = strings.Split(path, "/")
	}

	switch {
	case r.Method == http.MethodPost && len(parts) == 0:
		h.handleBegin(w, r)

	case r.Method == http.MethodGet && len(parts) == 1:
		s, ok := h.session(w, parts[0])
		if !ok {
			return
		}
		h.handleRead(w, s)

	case r.Method == http.MethodPost && len(parts) == 2 && parts[1] == "apply":
		s, ok := h.session(w, parts[0])
		if !ok {
			return
		}
		h.handleApply(w, r, s)

	case r.Method == http.MethodDelete && len(parts) == 1:
		id, err := uuid.Parse(parts[0])
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid session ID format", "bad_request")
			return
		}
		h.sessions.End(id)
		w.WriteHeader(http.StatusNoContent)

	default:
		h.logger.Warn("Unsupported interaction route", "method", r.Method, "path", r.URL.Path)
		h.writeError(w, http.StatusMethodNotAllowed, "Method not allowed", "method_not_allowed")
	}
}

func (h *InteractionHandler) session(w http.ResponseWriter, idStr string) (*session.Session, bool) {
	id, err := uuid.Parse(idStr)
	if err != nil {
		h.logger.Warn("Invalid session ID", "id", idStr, "error", err)
		h.writeError(w, http.StatusBadRequest, "Invalid session ID format", "bad_request")
		return nil, false
	}
	s, err := h.sessions.Get(id)
	if err != nil {
		h.writeEngineError(w, err)
		return nil, false
	}
	return s, true
}

func (h *InteractionHandler) handleBegin(w http.ResponseWriter, r *http.Request) {
	var req BeginInteractionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body", "bad_request")
		return
	}
	if req.PlayerID == "" || req.NPCID == 0 {
		h.writeError(w, http.StatusBadRequest, "player_id and npc_id are required", "bad_request")
		return
	}

	s, err := h.sessions.Begin(r.Context(), req.PlayerID, req.NPCID)
	if err != nil {
		h.logger.Error("Failed to begin interaction", "player", req.PlayerID, "npc", req.NPCID, "error", err)
		h.writeEngineError(w, err)
		return
	}

	resp, err := h.sessionView(s)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	h.encode(w, resp)
}

func (h *InteractionHandler) handleRead(w http.ResponseWriter, s *session.Session) {
	resp, err := h.sessionView(s)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.encode(w, resp)
}

func (h *InteractionHandler) handleApply(w http.ResponseWriter, r *http.Request, s *session.Session) {
	var req ApplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body", "bad_request")
		return
	}
	if req.QuestID == 0 {
		h.writeError(w, http.StatusBadRequest, "quest_id is required", "bad_request")
		return
	}

	prog, err := h.sessions.Apply(r.Context(), s, req.QuestID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	h.encode(w, ApplyResponse{QuestID: req.QuestID, Progress: prog})
}

func (h *InteractionHandler) sessionView(s *session.Session) (*InteractionResponse, error) {
	resolutions := make([]session.Resolution, 0, len(s.Quests))
	for _, questID := range s.Quests {
		res, err := h.sessions.Resolve(s, questID)
		if err != nil {
			return nil, err
		}
		resolutions = append(resolutions, res)
	}
	return &InteractionResponse{
		SessionID: s.ID,
		PlayerID:  s.PlayerID,
		NPCID:     s.NPCID,
		Quests:    resolutions,
	}, nil
}

func (h *InteractionHandler) encode(w http.ResponseWriter, v any) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

func (h *InteractionHandler) writeError(w http.ResponseWriter, status int, msg, code string) {
	w.WriteHeader(status)
	h.encode(w, ErrorResponse{Error: msg, Code: code})
}

// writeEngineError maps the engine's error taxonomy to HTTP statuses and
// stable codes the dialogue layer turns into narrative text.
func (h *InteractionHandler) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		h.writeError(w, http.StatusNotFound, "Interaction session not found", "session_not_found")
	case errors.Is(err, engine.ErrUnknownQuest):
		h.writeError(w, http.StatusNotFound, "Unknown quest", "unknown_quest")
	case errors.Is(err, session.ErrNotEligible):
		h.writeError(w, http.StatusConflict, "No transition is currently available", "not_eligible")
	case errors.Is(err, engine.ErrGuardNoLongerSatisfied):
		h.writeError(w, http.StatusConflict, "Conditions changed; resolve again", "guard_not_satisfied")
	case errors.Is(err, engine.ErrConcurrentModification):
		h.writeError(w, http.StatusConflict, "Quest state changed concurrently; try again", "try_again")
	case errors.Is(err, engine.ErrInsufficientResources):
		h.writeError(w, http.StatusUnprocessableEntity, "Missing required items or currency", "insufficient_resources")
	case errors.Is(err, engine.ErrInventoryFull):
		h.writeError(w, http.StatusUnprocessableEntity, "Not enough inventory space", "inventory_full")
	case errors.Is(err, engine.ErrStoreUnavailable):
		h.writeError(w, http.StatusServiceUnavailable, "Service unavailable", "service_unavailable")
	default:
		// PartialFailure lands here on purpose: the player sees a generic
		// failure while the incident goes to the integrity queue.
		h.writeError(w, http.StatusInternalServerError, "Something went wrong", "internal_error")
	}
}

// parseQuestID parses a quest id path segment.
func parseQuestID(s string) (quest.QuestID, error) {
	id, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	return quest.QuestID(id), nil
}
