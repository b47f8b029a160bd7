package system

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/l1jgo/phasetrack/internal/core/event"
	coresys "github.com/l1jgo/phasetrack/internal/core/system"
	"github.com/l1jgo/phasetrack/internal/persist"
)

// JournalWriter stores a batch of committed transitions atomically.
type JournalWriter interface {
	Write(ctx context.Context, entries []persist.JournalEntry) error
}

// PersistenceSystem collects committed transitions from the event bus and
// writes them to the journal in batches. Stage 4 (Persist).
type PersistenceSystem struct {
	writer  JournalWriter
	batch   int
	maxHeld int
	pending []persist.JournalEntry
	log     *zap.Logger
}

func NewPersistenceSystem(bus *event.Bus, writer JournalWriter, batch int, log *zap.Logger) *PersistenceSystem {
	if batch <= 0 {
		batch = 256
	}
	s := &PersistenceSystem{
		writer:  writer,
		batch:   batch,
		maxHeld: batch * 64,
		log:     log,
	}
	event.Subscribe(bus, s.collect)
	return s
}

func (s *PersistenceSystem) Stage() coresys.Stage { return coresys.StagePersist }

// Pending returns the number of entries not yet written.
func (s *PersistenceSystem) Pending() int { return len(s.pending) }

func (s *PersistenceSystem) collect(ev event.TransitionCommitted) {
	s.pending = append(s.pending, JournalEntryOf(ev))
	if over := len(s.pending) - s.maxHeld; over > 0 {
		s.log.Warn("journal backlog full, dropping oldest entries", zap.Int("dropped", over))
		s.pending = append(s.pending[:0], s.pending[over:]...)
	}
}

func (s *PersistenceSystem) Update(_ time.Duration) {
	s.Flush()
}

// Flush writes pending entries batch by batch. A failed batch stays pending
// and is retried on the next call.
func (s *PersistenceSystem) Flush() {
	written := 0
	for len(s.pending) > 0 {
		n := min(s.batch, len(s.pending))
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := s.writer.Write(ctx, s.pending[:n])
		cancel()
		if err != nil {
			s.log.Error("journal write failed", zap.Int("pending", len(s.pending)), zap.Error(err))
			break
		}
		s.pending = s.pending[n:]
		written += n
	}
	if len(s.pending) == 0 {
		s.pending = nil
	}
	if written > 0 {
		s.log.Debug("journal flushed", zap.Int("entries", written))
	}
}

// JournalEntryOf converts a committed transition event into a journal row.
func JournalEntryOf(ev event.TransitionCommitted) persist.JournalEntry {
	return persist.JournalEntry{
		ContextID:   ev.Context.String(),
		Phase:       ev.Phase.String(),
		Seq:         ev.Seq,
		Kind:        ev.Kind,
		TargetKind:  ev.Target.Kind.String(),
		X:           ev.Target.Pos.X,
		Y:           ev.Target.Pos.Y,
		Z:           ev.Target.Pos.Z,
		Slot:        ev.Target.Slot,
		PriorType:   ev.Prior.Type,
		PriorMeta:   ev.Prior.Meta,
		PriorCount:  ev.Prior.Count,
		FinalType:   ev.Final.Type,
		FinalMeta:   ev.Final.Meta,
		FinalCount:  ev.Final.Count,
		NoOp:        ev.NoOp,
		Effects:     ev.Effects,
		Cause:       ev.Cause.String(),
		CommittedAt: ev.At,
	}
}
