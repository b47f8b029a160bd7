package handler

import (
	gonet "net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/l1jgo/phasetrack/internal/config"
	"github.com/l1jgo/phasetrack/internal/core/cause"
	"github.com/l1jgo/phasetrack/internal/core/phase"
	"github.com/l1jgo/phasetrack/internal/core/pipeline"
	"github.com/l1jgo/phasetrack/internal/core/tracker"
	"github.com/l1jgo/phasetrack/internal/net"
	"github.com/l1jgo/phasetrack/internal/net/packet"
	"github.com/l1jgo/phasetrack/internal/world"
)

type env struct {
	deps *Deps
	reg  *packet.Registry
	sess *net.Session
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ws := world.NewState(0)
	pipes := pipeline.NewRegistry(pipeline.CancelFirst)
	require.NoError(t, pipes.Register(pipeline.SetBlock, pipeline.Noop()))
	require.NoError(t, pipes.Register(pipeline.ContainerPut, pipeline.AlwaysCancel("full")))
	require.NoError(t, pipes.Register(pipeline.Explode, pipeline.ExplodeRadius(1, pipeline.SetBlock)))
	require.NoError(t, pipes.Register(pipeline.Generate))

	deps := &Deps{
		Config:  config.Default(),
		Log:     zap.NewNop(),
		Tracker: tracker.New(config.TrackerConfig{MaxPhaseDepth: 16}, ws, pipes, zap.NewNop()),
		World:   ws,
		Charset: packet.UTF8,
	}
	reg := packet.NewRegistry(packet.UTF8, zap.NewNop())
	RegisterAll(reg, deps)

	server, client := gonet.Pipe()
	t.Cleanup(func() { client.Close() })
	sess := net.NewSession(server, 1, net.SessionOptions{InQueueSize: 4, OutQueueSize: 16}, zap.NewNop())
	return &env{deps: deps, reg: reg, sess: sess}
}

// send dispatches one command the way the input system does.
func (e *env) send(t *testing.T, w *packet.Writer) {
	t.Helper()
	err := e.deps.Tracker.Do(phase.ProcessInput, cause.Of(e.sess), func(ctx *phase.Context) error {
		ctx.SetOwner(e.sess)
		return e.reg.Dispatch(e.sess, e.sess.State(), w.Bytes())
	})
	require.NoError(t, err)
}

// reply returns the next packet the session would send.
func (e *env) reply(t *testing.T) *packet.Reader {
	t.Helper()
	e.sess.FlushOutput()
	select {
	case b := <-e.sess.OutQueue:
		return packet.NewReader(b)
	default:
		t.Fatal("no reply")
		return nil
	}
}

func (e *env) login(t *testing.T, name, password string) byte {
	t.Helper()
	w := packet.NewWriterWithOpcode(packet.C_OPCODE_AUTH)
	w.WriteS(name)
	w.WriteS(password)
	e.send(t, w)
	r := e.reply(t)
	require.Equal(t, packet.S_OPCODE_AUTH_RESULT, r.Opcode())
	return r.ReadC()
}

func blockCmd(op byte, p world.Pos) *packet.Writer {
	w := packet.NewWriterWithOpcode(op)
	w.WriteD(p.X)
	w.WriteD(p.Y)
	w.WriteD(p.Z)
	return w
}

type outcome struct {
	kind   string
	status byte
	noop   bool
	reason string
	value  world.Value
}

func readOutcome(t *testing.T, r *packet.Reader) outcome {
	t.Helper()
	require.Equal(t, packet.S_OPCODE_OUTCOME, r.Opcode())
	return outcome{
		kind:   r.ReadS(),
		status: r.ReadC(),
		noop:   r.ReadC() == 1,
		reason: r.ReadS(),
		value:  world.Value{Type: r.ReadS(), Meta: r.ReadD(), Count: r.ReadD()},
	}
}

func TestAuth(t *testing.T) {
	e := newEnv(t)

	w := blockCmd(packet.C_OPCODE_SET_BLOCK, world.Pos{})
	err := e.reg.Dispatch(e.sess, e.sess.State(), w.Bytes())
	assert.Error(t, err, "world commands need auth")

	assert.Equal(t, authBadName, e.login(t, "  ", ""))
	assert.Equal(t, authWrongPass, e.login(t, "alice", "secret"), "no operator hash configured")
	assert.Equal(t, authOK, e.login(t, "alice", ""))
	assert.Equal(t, packet.StateAuthenticated, e.sess.State())
	assert.Equal(t, "alice", e.sess.Name)
	assert.False(t, e.sess.Operator)
}

func TestOperatorAuthAndDump(t *testing.T) {
	e := newEnv(t)
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)
	e.deps.Config.Auth.OperatorPasswordHash = string(hash)

	assert.Equal(t, authWrongPass, e.login(t, "root", "wrong"))
	assert.Equal(t, authOK, e.login(t, "root", "hunter2"))
	assert.True(t, e.sess.Operator)

	e.send(t, packet.NewWriterWithOpcode(packet.C_OPCODE_DUMP))
	r := e.reply(t)
	require.Equal(t, packet.S_OPCODE_DUMP, r.Opcode())
	dump := r.ReadS()
	assert.True(t, strings.HasPrefix(dump, "phase stack (top first):"))
	assert.Contains(t, dump, "process_input")
}

func TestDumpRefusedForPlayers(t *testing.T) {
	e := newEnv(t)
	e.login(t, "bob", "")
	e.send(t, packet.NewWriterWithOpcode(packet.C_OPCODE_DUMP))
	r := e.reply(t)
	require.Equal(t, packet.S_OPCODE_MESSAGE, r.Opcode())
	assert.Equal(t, "not permitted", r.ReadS())
}

func TestSetBlockCommits(t *testing.T) {
	e := newEnv(t)
	e.login(t, "bob", "")

	p := world.Pos{X: 1, Y: 2, Z: 3}
	w := blockCmd(packet.C_OPCODE_SET_BLOCK, p)
	w.WriteS("stone")
	w.WriteD(2)
	e.send(t, w)

	got := readOutcome(t, e.reply(t))
	assert.Equal(t, outcome{kind: "set_block", status: outcomeCommitted, value: world.Value{Type: "stone", Meta: 2}}, got)
	assert.Equal(t, world.Value{Type: "stone", Meta: 2}, e.deps.World.Get(world.Block(p)))

	e.send(t, w)
	got = readOutcome(t, e.reply(t))
	assert.True(t, got.noop, "same value again is a no-op commit")
}

func TestContainerPutCancelled(t *testing.T) {
	e := newEnv(t)
	e.login(t, "bob", "")

	w := blockCmd(packet.C_OPCODE_CONTAINER_PUT, world.Pos{})
	w.WriteD(0)
	w.WriteS("flint")
	w.WriteD(3)
	e.send(t, w)

	got := readOutcome(t, e.reply(t))
	assert.Equal(t, "container_put", got.kind)
	assert.Equal(t, outcomeCancelled, got.status)
	assert.Equal(t, "full", got.reason)
}

func TestUnknownPipelineReportsFailure(t *testing.T) {
	e := newEnv(t)
	e.login(t, "bob", "")
	e.send(t, blockCmd(packet.C_OPCODE_BREAK_BLOCK, world.Pos{}))

	r := e.reply(t)
	require.Equal(t, packet.S_OPCODE_MESSAGE, r.Opcode())
	assert.Contains(t, r.ReadS(), "command failed")
}

func TestExplodeMaterializesAtPhaseEnd(t *testing.T) {
	e := newEnv(t)
	e.login(t, "bob", "")
	center := world.Pos{Y: 10}
	for _, n := range center.Neighbors() {
		e.deps.World.Set(world.Block(n), world.Value{Type: "stone"})
	}
	e.deps.World.Set(world.Block(center), world.Value{Type: "tnt"})

	e.send(t, blockCmd(packet.C_OPCODE_EXPLODE, center))
	got := readOutcome(t, e.reply(t))
	assert.Equal(t, outcomeCommitted, got.status)
	assert.Equal(t, world.Air, e.deps.World.Get(world.Block(center)))
	for _, n := range center.Neighbors() {
		assert.Equal(t, world.Air, e.deps.World.Get(world.Block(n)), "neighbor %s", n)
	}
}

func TestGenerateChunk(t *testing.T) {
	e := newEnv(t)
	e.login(t, "bob", "")

	w := packet.NewWriterWithOpcode(packet.C_OPCODE_GENERATE)
	w.WriteD(1)
	w.WriteD(-1)
	e.send(t, w)

	r := e.reply(t)
	require.Equal(t, packet.S_OPCODE_GENERATED, r.Opcode())
	assert.Equal(t, int32(1), r.ReadD())
	assert.Equal(t, int32(-1), r.ReadD())
	assert.Equal(t, int32(world.ChunkSize*world.ChunkSize*4), r.ReadD())
	assert.Equal(t, int32(0), r.ReadD())
	assert.Equal(t, "grass", e.deps.World.Get(world.Block(world.Pos{X: 16, Y: 3, Z: -16})).Type)
	assert.Equal(t, "bedrock", e.deps.World.Get(world.Block(world.Pos{X: 31, Y: 0, Z: -1})).Type)
}

func TestQuitClosesSession(t *testing.T) {
	e := newEnv(t)
	e.send(t, packet.NewWriterWithOpcode(packet.C_OPCODE_QUIT))
	assert.True(t, e.sess.IsClosed())
}

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("pw")
	require.NoError(t, err)
	assert.True(t, ValidatePassword(hash, "pw"))
	assert.False(t, ValidatePassword(hash, "other"))
}

func TestTruncatedCommandRejected(t *testing.T) {
	e := newEnv(t)
	e.login(t, "bob", "")

	w := packet.NewWriterWithOpcode(packet.C_OPCODE_SET_BLOCK)
	w.WriteD(1)
	w.WriteD(2)
	e.send(t, w)

	r := e.reply(t)
	require.Equal(t, packet.S_OPCODE_MESSAGE, r.Opcode())
	assert.Equal(t, "malformed command", r.ReadS())
	assert.Equal(t, world.Air, e.deps.World.Get(world.Block(world.Pos{X: 1, Y: 2})))
}
