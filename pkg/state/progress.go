package state

import (
	"time"

	"github.com/mkrelic/questline/pkg/quest"
)

// QuestProgress is the durable record of one player's progress through one
// quest. It is owned by the state store and mutated only by the transition
// engine; there is at most one record per (player, quest) pair and it is
// never deleted once the quest completes.
type QuestProgress struct {
	Stage       quest.StageToken `json:"stage"`
	StartedAt   time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// Unstarted returns the record for a quest the player has never touched.
func Unstarted() QuestProgress {
	return QuestProgress{Stage: quest.StageUnstarted}
}

// IsUnstarted reports whether the player has not yet started the quest.
func (p QuestProgress) IsUnstarted() bool {
	return p.Stage == quest.StageUnstarted
}
