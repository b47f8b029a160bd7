package handler

import (
	"go.uber.org/zap"

	"github.com/l1jgo/phasetrack/internal/core/pipeline"
	"github.com/l1jgo/phasetrack/internal/net"
	"github.com/l1jgo/phasetrack/internal/net/packet"
	"github.com/l1jgo/phasetrack/internal/world"
)

func readPos(r *packet.Reader) world.Pos {
	return world.Pos{X: r.ReadD(), Y: r.ReadD(), Z: r.ReadD()}
}

// HandleSetBlock processes C_SET_BLOCK: [opcode][x][y][z][type\0][meta].
func HandleSetBlock(sess *net.Session, r *packet.Reader, deps *Deps) {
	p := readPos(r)
	v := world.Value{Type: r.ReadS(), Meta: r.ReadD()}
	if malformed(sess, r, deps) {
		return
	}
	if v.Type == "" {
		v = world.Air
	}
	runCommand(sess, deps, pipeline.SetBlock, pipeline.Propose(world.Block(p), v))
}

// HandleBreakBlock processes C_BREAK_BLOCK: [opcode][x][y][z].
func HandleBreakBlock(sess *net.Session, r *packet.Reader, deps *Deps) {
	p := readPos(r)
	if malformed(sess, r, deps) {
		return
	}
	runCommand(sess, deps, pipeline.BreakBlock, pipeline.Propose(world.Block(p), world.Air))
}

// HandleExplode processes C_EXPLODE: [opcode][x][y][z]. The center becomes air
// and the explode pipeline queues the surrounding changes.
func HandleExplode(sess *net.Session, r *packet.Reader, deps *Deps) {
	p := readPos(r)
	if malformed(sess, r, deps) {
		return
	}
	runCommand(sess, deps, pipeline.Explode, pipeline.Propose(world.Block(p), world.Air))
}

// HandleContainerPut processes C_CONTAINER_PUT:
// [opcode][x][y][z][slot][item\0][count]. An empty item clears the slot.
func HandleContainerPut(sess *net.Session, r *packet.Reader, deps *Deps) {
	p := readPos(r)
	slot := r.ReadD()
	v := world.Value{Type: r.ReadS(), Count: r.ReadD()}
	if malformed(sess, r, deps) {
		return
	}
	if v.Type == "" {
		v = world.Value{}
	}
	runCommand(sess, deps, pipeline.ContainerPut, pipeline.Propose(world.Slot(p, slot), v))
}

// runCommand runs one proposal with the command pushed onto the cause stack
// and replies with the outcome.
func runCommand(sess *net.Session, deps *Deps, kind pipeline.Kind, proposal pipeline.Transition) {
	frame := deps.Tracker.Causes().PushFrame()
	defer func() {
		if err := frame.Release(); err != nil {
			deps.Log.Error("command cause frame", zap.Error(err))
		}
	}()
	if err := frame.Push(kind); err != nil {
		deps.Log.Warn("command cause", zap.Error(err))
	}

	out, err := deps.Tracker.Run(kind, proposal)
	if err != nil {
		deps.Log.Warn("command failed",
			zap.Stringer("session", sess),
			zap.String("kind", string(kind)),
			zap.Stringer("target", proposal.Target),
			zap.Error(err),
		)
		sendMessage(sess, deps, "command failed: "+err.Error())
		return
	}
	sendOutcome(sess, deps, out)
}
