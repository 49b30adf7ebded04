package engine

import "errors"

// Error taxonomy for transition application. All failures are typed values
// the dialogue layer turns into player-facing text; the engine never fails
// silently.
var (
	// ErrUnknownQuest means the quest id is not in the catalog.
	ErrUnknownQuest = errors.New("unknown quest")

	// ErrGuardNoLongerSatisfied means the guard that held at resolve time
	// failed the re-check inside Apply. Nothing was mutated; the caller
	// re-resolves from a fresh snapshot.
	ErrGuardNoLongerSatisfied = errors.New("guard no longer satisfied")

	// ErrConcurrentModification means another interaction won the
	// compare-and-set. Effects were compensated; the caller may retry once
	// from a fresh snapshot.
	ErrConcurrentModification = errors.New("concurrent quest modification")

	// ErrInsufficientResources means a consume effect failed pre-validation.
	// Nothing was mutated.
	ErrInsufficientResources = errors.New("insufficient resources")

	// ErrInventoryFull means a grant effect failed the capacity pre-check.
	// Nothing was mutated.
	ErrInventoryFull = errors.New("inventory full")

	// ErrPartialFailure means effects were applied and then rolled back
	// after mid-list interference. Logged as an integrity event.
	ErrPartialFailure = errors.New("transition effects rolled back")

	// ErrStoreUnavailable means state store I/O failed. Fatal for the
	// current interaction; the engine does not retry.
	ErrStoreUnavailable = errors.New("state store unavailable")
)
