package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mkrelic/questline/pkg/quest"
)

// QuestHandler serves read-only catalog metadata.
type QuestHandler struct {
	catalog *quest.Catalog
	logger  *slog.Logger
}

func NewQuestHandler(catalog *quest.Catalog, logger *slog.Logger) *QuestHandler {
	return &QuestHandler{
		catalog: catalog,
		logger:  logger,
	}
}

// QuestSummary is one row of the catalog listing.
type QuestSummary struct {
	ID   quest.QuestID `json:"id"`
	Name string        `json:"name"`
	NPCs []int32       `json:"npcs,omitempty"`
}

// ServeHTTP handles HTTP requests for the quest catalog
// Routes:
// GET /v1/quests       - List quest summaries
// GET /v1/quests/{id}  - Read a quest definition
func (h *QuestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		h.logger.Warn("Method not allowed for quest endpoint", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		h.encode(w, ErrorResponse{Error: "Method not allowed. Supported methods: GET"})
		return
	}

	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/quests"), "/")
	if path == "" {
		h.handleList(w)
		return
	}

	id, err := parseQuestID(path)
	if err != nil {
		h.logger.Warn("Invalid quest ID", "id", path, "error", err)
		w.WriteHeader(http.StatusBadRequest)
		h.encode(w, ErrorResponse{Error: "Invalid quest ID format", Code: "bad_request"})
		return
	}
	h.handleRead(w, id)
}

func (h *QuestHandler) handleList(w http.ResponseWriter) {
	summaries := make([]QuestSummary, 0, h.catalog.Len())
	for _, id := range h.catalog.IDs() {
		def := h.catalog.Get(id)
		summaries = append(summaries, QuestSummary{
			ID:   def.ID,
			Name: def.Name,
			NPCs: def.NPCs,
		})
	}
	h.encode(w, summaries)
}

func (h *QuestHandler) handleRead(w http.ResponseWriter, id quest.QuestID) {
	def := h.catalog.Get(id)
	if def == nil {
		w.WriteHeader(http.StatusNotFound)
		h.encode(w, ErrorResponse{Error: "Unknown quest", Code: "unknown_quest"})
		return
	}
	h.encode(w, def)
}

func (h *QuestHandler) encode(w http.ResponseWriter, v any) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}
