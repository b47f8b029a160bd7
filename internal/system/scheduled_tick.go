package system

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/l1jgo/phasetrack/internal/core/cause"
	"github.com/l1jgo/phasetrack/internal/core/phase"
	"github.com/l1jgo/phasetrack/internal/core/pipeline"
	coresys "github.com/l1jgo/phasetrack/internal/core/system"
	"github.com/l1jgo/phasetrack/internal/core/tracker"
	"github.com/l1jgo/phasetrack/internal/scripting"
	"github.com/l1jgo/phasetrack/internal/world"
)

// TickRule evaluates a block rule at a position.
type TickRule interface {
	EvaluateTick(fn string, view world.View, p world.Pos) []scripting.Change
}

// Reactivity reports which block types take scheduled ticks.
type Reactivity interface {
	IsReactive(typ string) bool
}

// BlockTick is the cause participant of a scheduled block tick.
type BlockTick struct {
	Pos world.Pos
}

func (b BlockTick) String() string { return fmt.Sprintf("block_tick%s", b.Pos) }

// ScheduledTickSystem re-evaluates blocks whose ticks are due, each in its own
// ScheduledTick phase, and applies the rule's changes through the set_block
// pipeline. Stage 2 (Update).
type ScheduledTickSystem struct {
	tracker  *tracker.Tracker
	world    *world.State
	rule     TickRule
	ruleFunc string
	reactive Reactivity
	delay    uint64
	now      uint64
	log      *zap.Logger
}

func NewScheduledTickSystem(t *tracker.Tracker, ws *world.State, rule TickRule, ruleFunc string, reactive Reactivity, delay uint64, log *zap.Logger) *ScheduledTickSystem {
	if delay == 0 {
		delay = 1
	}
	return &ScheduledTickSystem{
		tracker:  t,
		world:    ws,
		rule:     rule,
		ruleFunc: ruleFunc,
		reactive: reactive,
		delay:    delay,
		log:      log,
	}
}

func (s *ScheduledTickSystem) Stage() coresys.Stage { return coresys.StageUpdate }

// Now returns the current simulation tick number.
func (s *ScheduledTickSystem) Now() uint64 { return s.now }

// Wake schedules a re-evaluation of target, and of source, when their blocks
// are reactive. It is the tracker's neighbor notification hook.
func (s *ScheduledTickSystem) Wake(target, source world.Pos) {
	for _, p := range [2]world.Pos{target, source} {
		if s.reactive.IsReactive(s.world.Get(world.Block(p)).Type) {
			s.world.ScheduleTick(p, s.now+s.delay)
		}
	}
}

func (s *ScheduledTickSystem) Update(_ time.Duration) {
	s.now++
	for _, p := range s.world.PopDueTicks(s.now) {
		s.tickBlock(p)
	}
}

func (s *ScheduledTickSystem) tickBlock(p world.Pos) {
	source := cause.Of(BlockTick{Pos: p}).With(cause.KeyTick, s.now)
	err := s.tracker.Do(phase.ScheduledTick, source, func(*phase.Context) error {
		for _, c := range s.rule.EvaluateTick(s.ruleFunc, s.world, p) {
			proposal := pipeline.Propose(world.Block(c.Pos), c.Value)
			proposal.Flags |= pipeline.SkipDrops // moved blocks keep their material
			out, err := s.tracker.Run(pipeline.SetBlock, proposal)
			if err != nil {
				return err
			}
			if out.Cancelled() {
				s.log.Debug("block tick change cancelled",
					zap.Stringer("pos", c.Pos),
					zap.String("reason", out.Reason),
				)
			}
		}
		return nil
	})
	if err != nil {
		s.log.Warn("block tick failed", zap.Stringer("pos", p), zap.Error(err))
	}
}
