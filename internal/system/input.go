package system

import (
	"time"

	"go.uber.org/zap"

	"github.com/l1jgo/phasetrack/internal/core/cause"
	"github.com/l1jgo/phasetrack/internal/core/phase"
	coresys "github.com/l1jgo/phasetrack/internal/core/system"
	"github.com/l1jgo/phasetrack/internal/core/tracker"
	"github.com/l1jgo/phasetrack/internal/net"
	"github.com/l1jgo/phasetrack/internal/net/packet"
)

// SessionSource hands over newly accepted sessions.
type SessionSource interface {
	NewSessions() <-chan *net.Session
}

// InputSystem drains command queues from all sessions and dispatches them
// through the packet registry, one ProcessInput phase per command.
// Stage 0 (Input).
type InputSystem struct {
	source     SessionSource
	registry   *packet.Registry
	store      *net.SessionStore
	tracker    *tracker.Tracker
	maxPerTick int
	log        *zap.Logger
}

func NewInputSystem(source SessionSource, registry *packet.Registry, store *net.SessionStore, t *tracker.Tracker, maxPerTick int, log *zap.Logger) *InputSystem {
	if maxPerTick <= 0 {
		maxPerTick = 32
	}
	return &InputSystem{
		source:     source,
		registry:   registry,
		store:      store,
		tracker:    t,
		maxPerTick: maxPerTick,
		log:        log,
	}
}

func (s *InputSystem) Stage() coresys.Stage { return coresys.StageInput }

func (s *InputSystem) Update(_ time.Duration) {
	if s.source != nil {
	accept:
		for {
			select {
			case sess := <-s.source.NewSessions():
				s.store.Add(sess)
			default:
				break accept
			}
		}
	}

	s.store.Each(func(sess *net.Session) {
		closed := sess.IsClosed()
		s.drain(sess)
		if closed {
			// commands queued before the disconnect have been applied
			s.log.Info("session removed", zap.Stringer("session", sess))
			s.store.Remove(sess.ID)
		}
	})
}

// drain dispatches up to maxPerTick queued commands of sess.
func (s *InputSystem) drain(sess *net.Session) {
	for i := 0; i < s.maxPerTick; i++ {
		select {
		case data := <-sess.InQueue:
			s.dispatch(sess, data)
		default:
			return
		}
	}
}

func (s *InputSystem) dispatch(sess *net.Session, data []byte) {
	source := cause.Of(sess).With(cause.KeySession, sess.ID)
	state := sess.CommandState()
	err := s.tracker.Do(phase.ProcessInput, source, func(ctx *phase.Context) error {
		ctx.SetOwner(sess)
		ctx.SetNotifier(sess)
		return s.registry.Dispatch(sess, state, data)
	})
	if err != nil {
		s.log.Debug("command dispatch error",
			zap.Uint64("session", sess.ID),
			zap.Error(err),
		)
	}
}
