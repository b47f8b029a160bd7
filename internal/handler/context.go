package handler

import (
	"go.uber.org/zap"

	"github.com/l1jgo/phasetrack/internal/config"
	"github.com/l1jgo/phasetrack/internal/core/tracker"
	"github.com/l1jgo/phasetrack/internal/net"
	"github.com/l1jgo/phasetrack/internal/net/packet"
	"github.com/l1jgo/phasetrack/internal/world"
)

// Deps holds shared dependencies injected into all packet handlers.
type Deps struct {
	Config  *config.Config
	Log     *zap.Logger
	Tracker *tracker.Tracker
	World   *world.State
	Charset packet.Charset
	Layers  []world.Layer // flat generator layers, nil for the default
}

// RegisterAll registers all packet handlers into the registry. Handlers run
// on the simulation goroutine inside the ProcessInput phase opened for the
// command by the input system.
func RegisterAll(reg *packet.Registry, deps *Deps) {
	reg.Register(packet.C_OPCODE_AUTH,
		[]packet.SessionState{packet.StateHandshake},
		func(sess any, r *packet.Reader) {
			HandleAuth(sess.(*net.Session), r, deps)
		},
	)

	worldStates := []packet.SessionState{packet.StateAuthenticated}

	reg.Register(packet.C_OPCODE_SET_BLOCK, worldStates,
		func(sess any, r *packet.Reader) {
			HandleSetBlock(sess.(*net.Session), r, deps)
		},
	)
	reg.Register(packet.C_OPCODE_BREAK_BLOCK, worldStates,
		func(sess any, r *packet.Reader) {
			HandleBreakBlock(sess.(*net.Session), r, deps)
		},
	)
	reg.Register(packet.C_OPCODE_EXPLODE, worldStates,
		func(sess any, r *packet.Reader) {
			HandleExplode(sess.(*net.Session), r, deps)
		},
	)
	reg.Register(packet.C_OPCODE_CONTAINER_PUT, worldStates,
		func(sess any, r *packet.Reader) {
			HandleContainerPut(sess.(*net.Session), r, deps)
		},
	)
	reg.Register(packet.C_OPCODE_GENERATE, worldStates,
		func(sess any, r *packet.Reader) {
			HandleGenerate(sess.(*net.Session), r, deps)
		},
	)
	reg.Register(packet.C_OPCODE_DUMP, worldStates,
		func(sess any, r *packet.Reader) {
			HandleDump(sess.(*net.Session), r, deps)
		},
	)
	reg.Register(packet.C_OPCODE_QUIT,
		[]packet.SessionState{packet.StateHandshake, packet.StateAuthenticated},
		func(sess any, r *packet.Reader) {
			HandleQuit(sess.(*net.Session), r, deps)
		},
	)
}
