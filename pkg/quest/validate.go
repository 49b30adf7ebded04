package quest

import "fmt"

// ValidateDefinition checks the structural invariants of a quest definition:
// a usable id, at least one transition out of the unstarted stage, at least
// one terminal stage, no transitions leaving a terminal stage, and a graph
// that is acyclic apart from deliberate self-loops.
func ValidateDefinition(def *Definition) error {
	if def.ID == 0 {
		return fmt.Errorf("quest id is required")
	}
	if len(def.Transitions) == 0 {
		return fmt.Errorf("quest has no transitions")
	}
	if len(def.Terminal) == 0 {
		return fmt.Errorf("quest has no terminal stage")
	}

	for _, s := range def.Terminal {
		if s == StageUnstarted {
			return fmt.Errorf("the unstarted stage cannot be terminal")
		}
	}

	hasStart := false
	for i, t := range def.Transitions {
		if t.From == StageUnstarted {
			hasStart = true
		}
		if t.To == StageUnstarted {
			return fmt.Errorf("transition %d returns to the unstarted stage", i)
		}
		if def.IsTerminal(t.From) {
			return fmt.Errorf("transition %d leaves terminal stage %q", i, t.From)
		}
		for j, e := range t.Effects {
			if err := e.Validate(); err != nil {
				return fmt.Errorf("transition %d effect %d: %w", i, j, err)
			}
			if e.Type == EffectSetStage && e.Quest == def.ID {
				return fmt.Errorf("transition %d effect %d: set_stage may not target its own quest; use the transition's to stage", i, j)
			}
		}
	}
	if !hasStart {
		return fmt.Errorf("quest has no start transition from the unstarted stage")
	}

	if cycle := findCycle(def); cycle != "" {
		return fmt.Errorf("stage graph has a cycle through %q", cycle)
	}
	return nil
}

// findCycle runs a DFS over the stage graph ignoring self-loops and returns
// a stage on a cycle, or "" if the graph is acyclic.
func findCycle(def *Definition) StageToken {
	edges := make(map[StageToken][]StageToken)
	for _, t := range def.Transitions {
		if t.IsSelfLoop() {
			continue
		}
		edges[t.From] = append(edges[t.From], t.To)
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	mark := make(map[StageToken]int)
	var found StageToken
	var visit func(s StageToken) bool
	visit = func(s StageToken) bool {
		switch mark[s] {
		case visiting:
			found = s
			return true
		case done:
			return false
		}
		mark[s] = visiting
		for _, next := range edges[s] {
			if visit(next) {
				return true
			}
		}
		mark[s] = done
		return false
	}
	for s := range edges {
		if visit(s) {
			return found
		}
	}
	return ""
}

// AmbiguityWarning flags two transitions from the same stage whose guards
// could hold for the same player snapshot. This is a content-authoring
// defect, not a runtime error: at runtime the first declared transition wins.
type AmbiguityWarning struct {
	Quest  QuestID
	Stage  StageToken
	First  int // transition indexes into Definition.Transitions
	Second int
}

func (w AmbiguityWarning) String() string {
	return fmt.Sprintf("quest %d stage %q: transitions %d and %d have guards that may both hold (first declared wins)",
		w.Quest, w.Stage, w.First, w.Second)
}

// LintAmbiguousGuards reports pairs of same-stage transitions that are not
// provably mutually exclusive. The check is conservative: it only proves
// exclusivity through disjoint job, gender, stage-membership, or item
// thresholds, so some warnings may be false positives worth an author's look.
func LintAmbiguousGuards(def *Definition) []AmbiguityWarning {
	var warnings []AmbiguityWarning
	for i := 0; i < len(def.Transitions); i++ {
		for j := i + 1; j < len(def.Transitions); j++ {
			a, b := def.Transitions[i], def.Transitions[j]
			if a.From != b.From {
				continue
			}
			if guardsExclusive(a.Guard, b.Guard) {
				continue
			}
			warnings = append(warnings, AmbiguityWarning{
				Quest:  def.ID,
				Stage:  a.From,
				First:  i,
				Second: j,
			})
		}
	}
	return warnings
}

// guardsExclusive reports whether the two guards can be proven to never hold
// simultaneously. A nil guard holds for every snapshot.
func guardsExclusive(a, b *Predicate) bool {
	if a == nil || b == nil {
		return false
	}
	if a.Job != nil && b.Job != nil && *a.Job != *b.Job {
		return true
	}
	if a.Gender != nil && b.Gender != nil && *a.Gender != *b.Gender {
		return true
	}
	if stageChecksDisjoint(a.Stages, b.Stages) {
		return true
	}
	if itemThresholdsDisjoint(a.Items, b.Items) {
		return true
	}
	return false
}

func stageChecksDisjoint(as, bs []StageCheck) bool {
	for _, sa := range as {
		for _, sb := range bs {
			if sa.Quest != sb.Quest {
				continue
			}
			if !tokensIntersect(sa.In, sb.In) {
				return true
			}
		}
	}
	return false
}

func tokensIntersect(as, bs []StageToken) bool {
	for _, a := range as {
		for _, b := range bs {
			if a == b {
				return true
			}
		}
	}
	return false
}

// itemThresholdsDisjoint finds an item where one guard requires at least n
// and the other at most m with m < n.
func itemThresholdsDisjoint(as, bs []ItemThreshold) bool {
	for _, ia := range as {
		for _, ib := range bs {
			if ia.Item != ib.Item {
				continue
			}
			if ia.Min != nil && ib.Max != nil && *ib.Max < *ia.Min {
				return true
			}
			if ib.Min != nil && ia.Max != nil && *ia.Max < *ib.Min {
				return true
			}
		}
	}
	return false
}
