package handler

import (
	"go.uber.org/zap"

	"github.com/l1jgo/phasetrack/internal/core/cause"
	"github.com/l1jgo/phasetrack/internal/core/phase"
	"github.com/l1jgo/phasetrack/internal/core/pipeline"
	"github.com/l1jgo/phasetrack/internal/net"
	"github.com/l1jgo/phasetrack/internal/net/packet"
	"github.com/l1jgo/phasetrack/internal/world"
)

// generator is the cause participant for generated content.
type generator struct {
	cx, cz int32
}

// HandleGenerate processes C_GENERATE: [opcode][cx][cz]. The chunk's flat
// layers are placed through the generate pipeline in a GenerateContent phase.
func HandleGenerate(sess *net.Session, r *packet.Reader, deps *Deps) {
	cx, cz := r.ReadD(), r.ReadD()
	if malformed(sess, r, deps) {
		return
	}

	var committed, cancelled int32
	source := cause.Of(generator{cx: cx, cz: cz}).With(cause.KeySession, sess.String())
	err := deps.Tracker.Do(phase.GenerateContent, source, func(*phase.Context) error {
		for _, pl := range world.FlatChunk(cx, cz, deps.Layers) {
			out, err := deps.Tracker.Run(pipeline.Generate, pipeline.Propose(world.Block(pl.Pos), pl.Value))
			if err != nil {
				return err
			}
			if out.Committed() {
				committed++
			} else {
				cancelled++
			}
		}
		return nil
	})
	if err != nil {
		deps.Log.Warn("generate failed", zap.Int32("cx", cx), zap.Int32("cz", cz), zap.Error(err))
		sendMessage(sess, deps, "generate failed: "+err.Error())
		return
	}

	w := packet.NewWriterCharset(packet.S_OPCODE_GENERATED, deps.Charset)
	w.WriteD(cx)
	w.WriteD(cz)
	w.WriteD(committed)
	w.WriteD(cancelled)
	sess.Send(w.Bytes())
}
