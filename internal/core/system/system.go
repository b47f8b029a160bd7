package system

import "time"

// Stage defines execution ordering within a single tick.
type Stage int

const (
	StageInput      Stage = iota // 0: drain command queues
	StagePreUpdate               // 1: process last tick's events
	StageUpdate                  // 2: scheduled block ticks
	StagePostUpdate              // 3: flush replies
	StagePersist                 // 4: journal flush
	StageCleanup                 // 5: destroy queued entities
)

func (s Stage) String() string {
	switch s {
	case StageInput:
		return "input"
	case StagePreUpdate:
		return "pre_update"
	case StageUpdate:
		return "update"
	case StagePostUpdate:
		return "post_update"
	case StagePersist:
		return "persist"
	case StageCleanup:
		return "cleanup"
	default:
		return "unknown"
	}
}

// System is the interface every simulation system implements.
type System interface {
	Stage() Stage
	Update(dt time.Duration)
}
