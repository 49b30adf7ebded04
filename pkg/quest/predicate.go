package quest

// SnapshotView provides the minimal interface needed to evaluate predicates.
// This avoids an import cycle with the state package.
type SnapshotView interface {
	GetLevel() int
	GetJob() int
	GetGender() int
	GetMesos() int
	GetItemCount(item ItemID) int
	GetQuestStage(quest QuestID) StageToken
}

// ItemThreshold gates on an inventory count. Min is "holding at least n";
// Max is "holding at most n" (Max 0 reads as "missing the item"), which the
// reference content uses for reminder branches.
type ItemThreshold struct {
	Item ItemID `json:"item"`
	Min  *int   `json:"min,omitempty"`
	Max  *int   `json:"max,omitempty"`
}

// StageCheck gates on another quest's (or, when Quest is zero, this quest's)
// progress being at one of the listed tokens.
type StageCheck struct {
	Quest QuestID      `json:"quest,omitempty"`
	In    []StageToken `json:"in"`
}

// Predicate is a boolean expression over a player snapshot. All set fields
// must hold (conjunction); AnyOf/AllOf/Not nest further expressions.
// Evaluation is pure: no side effects, deterministic for a given snapshot.
type Predicate struct {
	MinLevel  *int            `json:"min_level,omitempty"`
	MinMesos  *int            `json:"min_mesos,omitempty"`
	Job       *int            `json:"job,omitempty"`
	Gender    *int            `json:"gender,omitempty"`
	Items     []ItemThreshold `json:"items,omitempty"`
	Completed []QuestID       `json:"completed,omitempty"` // quests at a terminal stage
	Stages    []StageCheck    `json:"stages,omitempty"`

	AnyOf []Predicate `json:"any_of,omitempty"`
	AllOf []Predicate `json:"all_of,omitempty"`
	Not   *Predicate  `json:"not,omitempty"`
}

// Evaluate checks all conditions in the predicate against the snapshot.
// Conjunctions and disjunctions short-circuit left to right. A nil predicate
// always holds.
func Evaluate(p *Predicate, view SnapshotView, catalog *Catalog, self QuestID) bool {
	if p == nil {
		return true
	}

	if p.MinLevel != nil && view.GetLevel() < *p.MinLevel {
		return false
	}
	if p.MinMesos != nil && view.GetMesos() < *p.MinMesos {
		return false
	}
	if p.Job != nil && view.GetJob() != *p.Job {
		return false
	}
	if p.Gender != nil && view.GetGender() != *p.Gender {
		return false
	}

	for _, it := range p.Items {
		count := view.GetItemCount(it.Item)
		if it.Min != nil && count < *it.Min {
			return false
		}
		if it.Max != nil && count > *it.Max {
			return false
		}
	}

	for _, q := range p.Completed {
		def := catalog.Get(q)
		if def == nil || !def.IsTerminal(view.GetQuestStage(q)) {
			return false
		}
	}

	for _, sc := range p.Stages {
		target := sc.Quest
		if target == 0 {
			target = self
		}
		current := view.GetQuestStage(target)
		match := false
		for _, tok := range sc.In {
			if current == tok {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}

	if len(p.AnyOf) > 0 {
		satisfied := false
		for _, sub := range p.AnyOf {
			if Evaluate(&sub, view, catalog, self) {
				satisfied = true
				break
			}
		}
		if !satisfied {
			return false
		}
	}

	for _, sub := range p.AllOf {
		if !Evaluate(&sub, view, catalog, self) {
			return false
		}
	}

	if p.Not != nil && Evaluate(p.Not, view, catalog, self) {
		return false
	}

	return true
}
