package state

import (
	"time"

	"github.com/mkrelic/questline/pkg/quest"
)

// PlayerID is an opaque, stable player identifier.
type PlayerID string

// PlayerAttributes is the read-only attribute record the snapshot is built
// from: level, job class, gender, balances. Mutations go through the effect
// applicator, never through this struct.
type PlayerAttributes struct {
	Level  int `json:"level"`
	Job    int `json:"job"`
	Gender int `json:"gender"`
	Mesos  int `json:"mesos"`
	Exp    int `json:"exp"`
	Fame   int `json:"fame"`
}

// PlayerSnapshot is an immutable view of player state taken at the start of
// an interaction and used for guard evaluation. It is never written back;
// all mutation happens through compare-and-set on the live records.
type PlayerSnapshot struct {
	PlayerID   PlayerID                           `json:"player_id"`
	Attributes PlayerAttributes                   `json:"attributes"`
	Items      map[quest.ItemID]int               `json:"items,omitempty"`
	FreeSlots  map[string]int                     `json:"free_slots,omitempty"` // inventory tab -> open slots
	Quests     map[quest.QuestID]quest.StageToken `json:"quests,omitempty"`
	TakenAt    time.Time                          `json:"taken_at"`
}

// PlayerSnapshot satisfies quest.SnapshotView for guard evaluation.
var _ quest.SnapshotView = (*PlayerSnapshot)(nil)

func (s *PlayerSnapshot) GetLevel() int  { return s.Attributes.Level }
func (s *PlayerSnapshot) GetJob() int    { return s.Attributes.Job }
func (s *PlayerSnapshot) GetGender() int { return s.Attributes.Gender }
func (s *PlayerSnapshot) GetMesos() int  { return s.Attributes.Mesos }

func (s *PlayerSnapshot) GetItemCount(item quest.ItemID) int {
	return s.Items[item]
}

// GetQuestStage returns the snapshot's stage for the quest, or the unstarted
// token when the quest was outside the snapshot's scope.
func (s *PlayerSnapshot) GetQuestStage(q quest.QuestID) quest.StageToken {
	return s.Quests[q]
}

// FreeCapacity returns the open slot count for an inventory tab.
func (s *PlayerSnapshot) FreeCapacity(tab string) int {
	return s.FreeSlots[tab]
}

// ItemTab maps an item id to its inventory tab, following the reference
// numbering where the leading digit of the id selects the tab.
func ItemTab(item quest.ItemID) string {
	switch item / 1000000 {
	case 1:
		return "equip"
	case 2:
		return "use"
	case 3:
		return "setup"
	case 4:
		return "etc"
	case 5:
		return "cash"
	default:
		return "etc"
	}
}
