package tracker

import (
	"errors"
	"fmt"

	"github.com/l1jgo/phasetrack/internal/core/phase"
)

var (
	ErrPhaseCorruption = errors.New("phase corruption")
	ErrRunawayPhase    = errors.New("runaway phase")
	ErrAsyncAccess     = errors.New("phase tracker used off its owning goroutine")
)

// CorruptionError describes a phase stack discipline violation the tracker
// recovered from. It matches ErrPhaseCorruption with errors.Is.
type CorruptionError struct {
	Op    string
	Top   phase.Phase // true top of stack when it happened
	Found phase.Phase // phase of the offending context
	Dump  string
	Err   error
}

func (e *CorruptionError) Error() string {
	msg := fmt.Sprintf("%s: %s (top %s, got %s)", e.Op, ErrPhaseCorruption, e.Top, e.Found)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CorruptionError) Is(target error) bool { return target == ErrPhaseCorruption }

func (e *CorruptionError) Unwrap() error { return e.Err }
