// Package phase holds the closed set of simulation phases and the per
// activation contexts that capture side effects while a phase runs.
package phase

import "fmt"

// Phase tags a category of simulation activity.
type Phase uint8

const (
	Idle Phase = iota
	TickSimulation
	ScheduledTick
	ProcessInput
	RuleEvaluation
	GenerateContent
	Unwind
	Unknown

	numPhases
)

// Behavior is the static description of a Phase.
type Behavior struct {
	Name string
	// DeferSideEffects keeps captures queued until the context completes.
	// Phases that do not defer have captures materialized right after the
	// transition that produced them commits.
	DeferSideEffects bool
	// TracksOwner makes the context record notifier/owner attribution and
	// stamp it on captured side effects.
	TracksOwner bool
	// Enterable is false for phases the tracker manages itself.
	Enterable bool
}

var behaviors = [numPhases]Behavior{
	Idle:            {Name: "idle"},
	TickSimulation:  {Name: "tick_simulation", DeferSideEffects: true, Enterable: true},
	ScheduledTick:   {Name: "scheduled_tick", DeferSideEffects: true, TracksOwner: true, Enterable: true},
	ProcessInput:    {Name: "process_input", DeferSideEffects: true, TracksOwner: true, Enterable: true},
	RuleEvaluation:  {Name: "rule_evaluation", DeferSideEffects: true, TracksOwner: true, Enterable: true},
	GenerateContent: {Name: "generate_content", Enterable: true},
	Unwind:          {Name: "unwind", DeferSideEffects: true, TracksOwner: true},
	Unknown:         {Name: "unknown", DeferSideEffects: true, Enterable: true},
}

// Behavior returns the static behavior of p. Out-of-range values behave as
// Unknown.
func (p Phase) Behavior() Behavior {
	if p >= numPhases {
		return behaviors[Unknown]
	}
	return behaviors[p]
}

func (p Phase) String() string {
	if p >= numPhases {
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
	return behaviors[p].Name
}

// All lists every phase in declaration order.
func All() []Phase {
	out := make([]Phase, 0, numPhases)
	for p := Idle; p < numPhases; p++ {
		out = append(out, p)
	}
	return out
}

// Parse returns the phase named name.
func Parse(name string) (Phase, error) {
	for p := Idle; p < numPhases; p++ {
		if behaviors[p].Name == name {
			return p, nil
		}
	}
	return Unknown, fmt.Errorf("unknown phase %q", name)
}
