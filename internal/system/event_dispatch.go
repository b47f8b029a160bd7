package system

import (
	"time"

	"go.uber.org/zap"

	"github.com/l1jgo/phasetrack/internal/core/event"
	coresys "github.com/l1jgo/phasetrack/internal/core/system"
)

// EventDispatchSystem delivers the events queued during the previous tick.
// Stage 1 (PreUpdate).
type EventDispatchSystem struct {
	bus *event.Bus
	log *zap.Logger
}

func NewEventDispatchSystem(bus *event.Bus, log *zap.Logger) *EventDispatchSystem {
	return &EventDispatchSystem{bus: bus, log: log}
}

func (s *EventDispatchSystem) Stage() coresys.Stage { return coresys.StagePreUpdate }

func (s *EventDispatchSystem) Update(_ time.Duration) {
	s.bus.SwapBuffers()
	if n := s.bus.DispatchAll(); n > 0 {
		s.log.Debug("events dispatched", zap.Int("count", n))
	}
}
