package handler

import (
	"go.uber.org/zap"

	"github.com/l1jgo/phasetrack/internal/net"
	"github.com/l1jgo/phasetrack/internal/net/packet"
)

// HandleDump processes C_DUMP: operators receive the current phase stack dump.
func HandleDump(sess *net.Session, _ *packet.Reader, deps *Deps) {
	if !sess.Operator {
		sendMessage(sess, deps, "not permitted")
		return
	}
	dump := deps.Tracker.DumpStack()
	deps.Log.Info("phase stack dump requested", zap.Stringer("session", sess), zap.String("dump", dump))
	w := packet.NewWriterCharset(packet.S_OPCODE_DUMP, deps.Charset)
	w.WriteS(dump)
	sess.Send(w.Bytes())
}

// HandleQuit processes C_QUIT.
func HandleQuit(sess *net.Session, _ *packet.Reader, deps *Deps) {
	deps.Log.Info("session quit", zap.Stringer("session", sess))
	sess.Close()
}
