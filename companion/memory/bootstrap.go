package memory

import "github.com/ZanzyTHEbar/companion-graph/companion/workflow"

// DefaultShortWindow is the number of history messages a fresh checkpoint is
// seeded with.
const DefaultShortWindow = 400

// seedCycle wraps the derived turn counter of long histories so the side-effect
// thresholds stay reachable.
const seedCycle = 80

// Seed is the initial short memory of a conversation that has no checkpoint.
type Seed struct {
	ShortMemory []workflow.Message
	TurnCount   int
}

// Bootstrap builds the first-turn state from the persisted history. prior is the
// history logged before the new human message.
//
//   - no prior history: the character's first line followed by the human message
//   - at most window messages: everything, turn count len/2 - 4 (never negative)
//   - more than window: the newest window messages, turn count (len/2) mod 80
func Bootstrap(prior []workflow.Message, firstLine string, human workflow.Message, window int) Seed {
	if window <= 0 {
		window = DefaultShortWindow
	}
	if len(prior) == 0 {
		return Seed{ShortMemory: []workflow.Message{workflow.Agent(firstLine), human}}
	}

	all := make([]workflow.Message, 0, len(prior)+1)
	all = append(all, prior...)
	all = append(all, human)

	if len(all) <= window {
		return Seed{ShortMemory: all, TurnCount: max(len(all)/2-4, 0)}
	}
	tail := make([]workflow.Message, window)
	copy(tail, all[len(all)-window:])
	return Seed{ShortMemory: tail, TurnCount: (len(all) / 2) % seedCycle}
}
