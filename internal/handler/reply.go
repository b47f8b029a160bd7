package handler

import (
	"go.uber.org/zap"

	"github.com/l1jgo/phasetrack/internal/core/pipeline"
	"github.com/l1jgo/phasetrack/internal/net"
	"github.com/l1jgo/phasetrack/internal/net/packet"
)

const (
	outcomeCommitted byte = 1
	outcomeCancelled byte = 2
)

// sendOutcome reports a pipeline outcome back to the commanding session.
func sendOutcome(sess *net.Session, deps *Deps, out pipeline.Outcome) {
	w := packet.NewWriterCharset(packet.S_OPCODE_OUTCOME, deps.Charset)
	w.WriteS(string(out.Kind))
	if out.Committed() {
		w.WriteC(outcomeCommitted)
	} else {
		w.WriteC(outcomeCancelled)
	}
	w.WriteBool(out.NoOp)
	w.WriteS(out.Reason)
	w.WriteS(out.Value.Type)
	w.WriteD(out.Value.Meta)
	w.WriteD(out.Value.Count)
	sess.Send(w.Bytes())
}

func sendMessage(sess *net.Session, deps *Deps, text string) {
	w := packet.NewWriterCharset(packet.S_OPCODE_MESSAGE, deps.Charset)
	w.WriteS(text)
	sess.Send(w.Bytes())
}

// malformed reports, and answers, a command whose fields ran past the payload.
func malformed(sess *net.Session, r *packet.Reader, deps *Deps) bool {
	if r.Err() == nil {
		return false
	}
	deps.Log.Debug("malformed command",
		zap.Stringer("session", sess),
		zap.Uint8("opcode", r.Opcode()),
	)
	sendMessage(sess, deps, "malformed command")
	return true
}
