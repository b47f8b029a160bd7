package system

import (
	"time"

	coresys "github.com/l1jgo/phasetrack/internal/core/system"
	"github.com/l1jgo/phasetrack/internal/net"
)

// OutputSystem hands every session's buffered replies to its writer
// goroutine. Stage 3 (PostUpdate).
type OutputSystem struct {
	store *net.SessionStore
}

func NewOutputSystem(store *net.SessionStore) *OutputSystem {
	return &OutputSystem{store: store}
}

func (s *OutputSystem) Stage() coresys.Stage { return coresys.StagePostUpdate }

func (s *OutputSystem) Update(_ time.Duration) {
	s.store.Each(func(sess *net.Session) {
		sess.FlushOutput()
	})
}
