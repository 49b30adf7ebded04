package quest

// QuestID identifies a quest definition in the catalog.
type QuestID int32

// StageToken is an opaque marker for a point in a quest's progress graph.
// The empty token always means "not started". Tokens are content-defined
// strings ("m1", "end", ...) and carry no meaning outside their quest.
type StageToken string

// StageUnstarted is the implicit start node of every quest graph.
const StageUnstarted StageToken = ""

// ItemID identifies an inventory item.
type ItemID int32

// MapID identifies a world map for warp effects.
type MapID int32

// Transition is a single edge in a quest's stage graph. The guard is
// evaluated against a player snapshot; effects are applied as one atomic
// unit when the transition fires.
type Transition struct {
	From    StageToken `json:"from"`
	To      StageToken `json:"to"`
	Guard   *Predicate `json:"guard,omitempty"`   // nil means always eligible
	Effects []Effect   `json:"effects,omitempty"` // applied in declared order
	// Narrative is an opaque key the rendering layer maps to dialogue text.
	// The engine never interprets it.
	Narrative string `json:"narrative,omitempty"`
}

// IsSelfLoop reports whether the transition stays on its own stage.
// Self-loops model "still gathering" reminders and are exempt from the
// acyclicity check.
func (t Transition) IsSelfLoop() bool {
	return t.From == t.To
}

// Definition is an immutable quest loaded from the catalog. Transitions are
// kept in declaration order; when two guards from the same stage both hold,
// the first declared wins.
type Definition struct {
	ID          QuestID      `json:"id"`
	Name        string       `json:"name"`
	NPCs        []int32      `json:"npcs,omitempty"` // NPCs that converse about this quest
	Transitions []Transition `json:"transitions"`
	Terminal    []StageToken `json:"terminal"` // completed stages, never left
	// FallbackNarrative names the dialogue state shown when no transition
	// is currently available from the player's stage.
	FallbackNarrative string `json:"fallback_narrative,omitempty"`
}

// TransitionsFrom returns the transitions leaving stage, in declaration order.
func (d *Definition) TransitionsFrom(stage StageToken) []Transition {
	var out []Transition
	for _, t := range d.Transitions {
		if t.From == stage {
			out = append(out, t)
		}
	}
	return out
}

// IsTerminal reports whether stage is a completed stage for this quest.
func (d *Definition) IsTerminal(stage StageToken) bool {
	for _, s := range d.Terminal {
		if s == stage {
			return true
		}
	}
	return false
}

// Stages returns every stage token referenced by the graph, including the
// implicit unstarted stage.
func (d *Definition) Stages() []StageToken {
	seen := map[StageToken]bool{StageUnstarted: true}
	out := []StageToken{StageUnstarted}
	add := func(s StageToken) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, t := range d.Transitions {
		add(t.From)
		add(t.To)
	}
	for _, s := range d.Terminal {
		add(s)
	}
	return out
}
