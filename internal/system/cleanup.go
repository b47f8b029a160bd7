package system

import (
	"time"

	"go.uber.org/zap"

	coresys "github.com/l1jgo/phasetrack/internal/core/system"
	"github.com/l1jgo/phasetrack/internal/world"
)

// CleanupSystem flushes the deferred entity destruction queue at tick end.
// Stage 5 (Cleanup).
type CleanupSystem struct {
	world *world.State
	log   *zap.Logger
}

func NewCleanupSystem(ws *world.State, log *zap.Logger) *CleanupSystem {
	return &CleanupSystem{world: ws, log: log}
}

func (s *CleanupSystem) Stage() coresys.Stage { return coresys.StageCleanup }

func (s *CleanupSystem) Update(_ time.Duration) {
	if n := s.world.FlushDespawned(); n > 0 {
		s.log.Debug("entities destroyed", zap.Int("count", n))
	}
}
