package net

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/l1jgo/phasetrack/internal/net/packet"
)

// Session represents a single client connection. Network I/O runs in
// dedicated goroutines; world state is touched only from the simulation loop.
type Session struct {
	ID   uint64
	conn net.Conn

	state     atomic.Int32 // packet.SessionState stored as int32
	lastState atomic.Int32 // state at the moment of Close
	mu        sync.Mutex   // protects conn writes during init

	InQueue  chan []byte // simulation loop reads packets from here
	OutQueue chan []byte // writer goroutine reads from here

	IP       string
	Name     string // set by auth
	Operator bool   // may request stack dumps

	outBuf [][]byte // buffered packets, flushed once per tick (simulation loop only)

	closeCh   chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool

	writeTimeout time.Duration
	readTimeout  time.Duration

	// Per-second packet rate limiter (readLoop goroutine only, no lock needed)
	pktPerSec  int   // max packets/sec (0 = unlimited)
	pktCount   int   // packets received this second
	pktResetAt int64 // unix second of last counter reset

	log *zap.Logger
}

// SessionOptions sizes queues and limits for new sessions.
type SessionOptions struct {
	InQueueSize  int
	OutQueueSize int
	PktPerSec    int
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
}

func NewSession(conn net.Conn, id uint64, opts SessionOptions, log *zap.Logger) *Session {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	s := &Session{
		ID:           id,
		conn:         conn,
		InQueue:      make(chan []byte, opts.InQueueSize),
		OutQueue:     make(chan []byte, opts.OutQueueSize),
		IP:           conn.RemoteAddr().String(),
		closeCh:      make(chan struct{}),
		writeTimeout: opts.WriteTimeout,
		readTimeout:  opts.ReadTimeout,
		pktPerSec:    opts.PktPerSec,
		log:          log.With(zap.Uint64("session", id)),
	}
	s.state.Store(int32(packet.StateHandshake))
	return s
}

func (s *Session) State() packet.SessionState {
	return packet.SessionState(s.state.Load())
}

func (s *Session) SetState(st packet.SessionState) {
	s.state.Store(int32(st))
}

// CommandState is the state queued commands are gated on. Once the session is
// closed it stays the state the session had before Close, so commands that
// were already queued still run.
func (s *Session) CommandState() packet.SessionState {
	if s.closed.Load() {
		return packet.SessionState(s.lastState.Load())
	}
	return s.State()
}

// String names the session in causes and dumps.
func (s *Session) String() string {
	if s.Name != "" {
		return fmt.Sprintf("session#%d(%s)", s.ID, s.Name)
	}
	return fmt.Sprintf("session#%d", s.ID)
}

// Start writes hello directly to the connection and launches the reader and
// writer goroutines.
func (s *Session) Start(hello []byte) {
	s.mu.Lock()
	s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	err := WriteFrame(s.conn, hello)
	s.mu.Unlock()
	if err != nil {
		s.log.Error("hello send failed", zap.Error(err))
		s.Close()
		return
	}

	go s.readLoop()
	go s.writeLoop()
}

// Send buffers a packet for sending. The packet is not written to TCP until
// FlushOutput is called at the end of the tick.
// Called only from the simulation goroutine, no lock needed on outBuf.
func (s *Session) Send(data []byte) {
	if s.closed.Load() {
		return
	}
	s.outBuf = append(s.outBuf, data)
}

// Pending returns the number of buffered, unflushed packets.
func (s *Session) Pending() int { return len(s.outBuf) }

// FlushOutput drains the output buffer to OutQueue for the writeLoop goroutine.
// Non-blocking: if OutQueue is full, the session is disconnected (backpressure).
func (s *Session) FlushOutput() {
	for _, data := range s.outBuf {
		select {
		case s.OutQueue <- data:
		default:
			s.log.Warn("output queue full, dropping slow connection")
			s.Close()
			s.outBuf = s.outBuf[:0]
			return
		}
	}
	s.outBuf = s.outBuf[:0]
}

// Close gracefully shuts down the session.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.lastState.Store(s.state.Load())
		s.closed.Store(true)
		s.SetState(packet.StateDisconnecting)
		close(s.closeCh)
		s.conn.Close()
	})
}

func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

// Done is closed when the session shuts down.
func (s *Session) Done() <-chan struct{} { return s.closeCh }

// readLoop runs in its own goroutine. It reads frames from the TCP connection
// and pushes them onto InQueue for the simulation loop to consume.
func (s *Session) readLoop() {
	defer s.Close()

	for {
		select {
		case <-s.closeCh:
			return
		default:
		}

		if s.readTimeout > 0 {
			s.conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		}
		payload, err := ReadFrame(s.conn)
		if err != nil {
			if !s.closed.Load() {
				s.log.Debug("read error", zap.Error(err))
			}
			return
		}

		if s.overRate(time.Now().Unix()) {
			s.log.Warn("packet rate exceeded, disconnecting", zap.Int("pps", s.pktCount))
			return
		}

		// Block until InQueue has space or the session closes. Commands are
		// never dropped; a slow simulation only stalls this client's reader.
		select {
		case s.InQueue <- payload:
		case <-s.closeCh:
			return
		}
	}
}

// overRate counts one packet received at unix second now and reports whether
// the per-second limit is exceeded.
func (s *Session) overRate(now int64) bool {
	if s.pktPerSec <= 0 {
		return false
	}
	if now != s.pktResetAt {
		s.pktCount = 0
		s.pktResetAt = now
	}
	s.pktCount++
	return s.pktCount > s.pktPerSec
}

// writeLoop runs in its own goroutine. It reads packets from OutQueue and
// writes them as framed data to the TCP connection.
func (s *Session) writeLoop() {
	defer s.Close()

	for {
		select {
		case data := <-s.OutQueue:
			if !s.writeOnePacket(data) {
				return
			}
		case <-s.closeCh:
			return
		}
	}
}

func (s *Session) writeOnePacket(data []byte) bool {
	if len(data) > 0 {
		s.log.Debug("TX",
			zap.String("op", fmt.Sprintf("0x%02X(%d)", data[0], data[0])),
			zap.Int("len", len(data)),
		)
	}

	s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	if err := WriteFrame(s.conn, data); err != nil {
		if !s.closed.Load() {
			s.log.Debug("write error", zap.Error(err))
		}
		return false
	}
	return true
}
