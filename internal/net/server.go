package net

import (
	"net"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/l1jgo/phasetrack/internal/net/packet"
)

// Server accepts TCP connections and creates Sessions.
// New sessions are handed to the simulation loop via a channel.
type Server struct {
	listener net.Listener
	nextID   atomic.Uint64
	newConns chan *Session
	opts     SessionOptions
	name     string
	charset  packet.Charset
	log      *zap.Logger
	closeCh  chan struct{}
}

func NewServer(bindAddr, name string, opts SessionOptions, cs packet.Charset, log *zap.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return nil, err
	}
	s := &Server{
		listener: ln,
		newConns: make(chan *Session, 64),
		opts:     opts,
		name:     name,
		charset:  cs,
		log:      log,
		closeCh:  make(chan struct{}),
	}
	return s, nil
}

// Hello builds the greeting sent to a fresh session.
func (s *Server) Hello(id uint64) []byte {
	w := packet.NewWriterCharset(packet.S_OPCODE_HELLO, s.charset)
	w.WriteD(packet.ProtocolVersion)
	w.WriteS(s.name)
	w.WriteD(int32(id))
	return w.Bytes()
}

// AcceptLoop runs in its own goroutine. It accepts connections, creates
// sessions, sends the hello packet, and pushes them onto the newConns channel.
func (s *Server) AcceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closeCh:
				return // server shutting down
			default:
			}
			s.log.Error("accept failed", zap.Error(err))
			continue
		}

		id := s.nextID.Add(1)
		sess := NewSession(conn, id, s.opts, s.log)
		sess.Start(s.Hello(id))

		s.log.Info("client connected", zap.Uint64("session", id), zap.String("ip", sess.IP))

		select {
		case s.newConns <- sess:
		default:
			s.log.Warn("connection queue full, rejecting client")
			sess.Close()
		}
	}
}

// NewSessions returns the channel of newly connected sessions.
func (s *Server) NewSessions() <-chan *Session {
	return s.newConns
}

// Shutdown stops accepting new connections.
func (s *Server) Shutdown() {
	close(s.closeCh)
	s.listener.Close()
}

// Addr returns the listener's address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}
