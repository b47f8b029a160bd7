package event

import (
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/l1jgo/phasetrack/internal/core/capture"
	"github.com/l1jgo/phasetrack/internal/core/cause"
	"github.com/l1jgo/phasetrack/internal/core/phase"
	"github.com/l1jgo/phasetrack/internal/world"
)

// SideEffect is fired once per captured side effect when it materializes.
// Cause is the one active when the side effect was emitted.
type SideEffect struct {
	capture.SideEffect
	Phase   phase.Phase
	Context ulid.ULID
}

// TransitionCommitted is queued at phase completion for every transition that
// was still committed when its context completed.
type TransitionCommitted struct {
	Context ulid.ULID
	Phase   phase.Phase
	Seq     int
	Kind    string
	Target  world.Target
	Prior   world.Value
	Final   world.Value
	NoOp    bool
	Effects []string
	Cause   cause.Cause
	At      time.Time
}
