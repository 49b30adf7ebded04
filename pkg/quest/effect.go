package quest

import "fmt"

// EffectType discriminates the Effect variants.
type EffectType string

const (
	EffectGrantItem    EffectType = "grant_item"
	EffectConsumeItem  EffectType = "consume_item"
	EffectGrantExp     EffectType = "grant_exp"
	EffectGrantMesos   EffectType = "grant_mesos"
	EffectConsumeMesos EffectType = "consume_mesos"
	EffectGrantFame    EffectType = "grant_fame"
	EffectSetStage     EffectType = "set_stage"
	EffectWarp         EffectType = "warp"
)

// Effect is one state mutation applied as part of a transition. Which fields
// are meaningful depends on Type:
//
//	grant_item, consume_item  -> Item, Qty
//	grant_exp, grant_mesos,
//	consume_mesos, grant_fame -> Amount
//	set_stage                 -> Quest, Stage
//	warp                      -> Map
//
// Warp is fire-and-forget: map transitions are not transactional with
// inventory, so a warp is never rolled back.
type Effect struct {
	Type   EffectType `json:"type"`
	Item   ItemID     `json:"item,omitempty"`
	Qty    int        `json:"qty,omitempty"`
	Amount int        `json:"amount,omitempty"`
	Quest  QuestID    `json:"quest,omitempty"`
	Stage  StageToken `json:"stage,omitempty"`
	Map    MapID      `json:"map,omitempty"`
}

// Validate checks that the effect's fields are consistent with its type.
func (e Effect) Validate() error {
	switch e.Type {
	case EffectGrantItem, EffectConsumeItem:
		if e.Item == 0 {
			return fmt.Errorf("%s effect requires an item id", e.Type)
		}
		if e.Qty <= 0 {
			return fmt.Errorf("%s effect requires a positive qty, got %d", e.Type, e.Qty)
		}
	case EffectGrantExp, EffectGrantMesos, EffectConsumeMesos, EffectGrantFame:
		if e.Amount <= 0 {
			return fmt.Errorf("%s effect requires a positive amount, got %d", e.Type, e.Amount)
		}
	case EffectSetStage:
		if e.Quest == 0 {
			return fmt.Errorf("set_stage effect requires a quest id")
		}
		if e.Stage == StageUnstarted {
			return fmt.Errorf("set_stage effect may not reset quest %d to unstarted", e.Quest)
		}
	case EffectWarp:
		if e.Map == 0 {
			return fmt.Errorf("warp effect requires a map id")
		}
	case "":
		return fmt.Errorf("effect is missing a type")
	default:
		return fmt.Errorf("unknown effect type %q", e.Type)
	}
	return nil
}

func (e Effect) String() string {
	switch e.Type {
	case EffectGrantItem, EffectConsumeItem:
		return fmt.Sprintf("%s(%d x%d)", e.Type, e.Item, e.Qty)
	case EffectSetStage:
		return fmt.Sprintf("set_stage(%d -> %q)", e.Quest, e.Stage)
	case EffectWarp:
		return fmt.Sprintf("warp(%d)", e.Map)
	default:
		return fmt.Sprintf("%s(%d)", e.Type, e.Amount)
	}
}
