package quest

import (
	"fmt"
	"sort"
)

// Catalog is the static registry of quest definitions. It is populated once
// at process start and read-only afterward, so lookups need no locking.
type Catalog struct {
	quests map[QuestID]*Definition
	byNPC  map[int32][]QuestID
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		quests: make(map[QuestID]*Definition),
		byNPC:  make(map[int32][]QuestID),
	}
}

// Add registers a definition. It fails on a duplicate quest id or an invalid
// definition; the catalog is meant to be fully built before serving traffic.
func (c *Catalog) Add(def *Definition) error {
	if def == nil {
		return fmt.Errorf("nil quest definition")
	}
	if _, exists := c.quests[def.ID]; exists {
		return fmt.Errorf("duplicate quest id %d", def.ID)
	}
	if err := ValidateDefinition(def); err != nil {
		return fmt.Errorf("quest %d: %w", def.ID, err)
	}
	c.quests[def.ID] = def
	for _, npc := range def.NPCs {
		c.byNPC[npc] = append(c.byNPC[npc], def.ID)
	}
	return nil
}

// Get returns the definition for id, or nil if unknown.
func (c *Catalog) Get(id QuestID) *Definition {
	return c.quests[id]
}

// QuestsForNPC returns the ids of quests the given NPC converses about,
// sorted for stable menu ordering.
func (c *Catalog) QuestsForNPC(npc int32) []QuestID {
	ids := append([]QuestID(nil), c.byNPC[npc]...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// IDs returns every registered quest id, sorted.
func (c *Catalog) IDs() []QuestID {
	ids := make([]QuestID, 0, len(c.quests))
	for id := range c.quests {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len returns the number of registered quests.
func (c *Catalog) Len() int {
	return len(c.quests)
}

// ReferencedQuests returns the ids of all quests whose progress the given
// quest reads or writes: the quest itself, plus quests named by guards
// (completed/stage checks) and set_stage effects. The session uses this to
// bound the snapshot.
func (c *Catalog) ReferencedQuests(id QuestID) []QuestID {
	def := c.Get(id)
	if def == nil {
		return nil
	}
	seen := map[QuestID]bool{id: true}
	out := []QuestID{id}
	add := func(q QuestID) {
		if q != 0 && !seen[q] {
			seen[q] = true
			out = append(out, q)
		}
	}
	var walk func(p *Predicate)
	walk = func(p *Predicate) {
		if p == nil {
			return
		}
		for _, q := range p.Completed {
			add(q)
		}
		for _, sc := range p.Stages {
			add(sc.Quest)
		}
		for i := range p.AnyOf {
			walk(&p.AnyOf[i])
		}
		for i := range p.AllOf {
			walk(&p.AllOf[i])
		}
		walk(p.Not)
	}
	for _, t := range def.Transitions {
		walk(t.Guard)
		for _, e := range t.Effects {
			if e.Type == EffectSetStage {
				add(e.Quest)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
