package packet

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var (
	ErrEmptyPacket = errors.New("empty packet")
	ErrNotAllowed  = errors.New("opcode not allowed in session state")
)

// SessionState is where a session is in the protocol.
type SessionState uint8

const (
	StateHandshake     SessionState = iota // hello sent, awaiting auth
	StateAuthenticated                     // may send world commands
	StateDisconnecting
)

func (s SessionState) String() string {
	switch s {
	case StateHandshake:
		return "handshake"
	case StateAuthenticated:
		return "authenticated"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("SessionState(%d)", uint8(s))
	}
}

func (s SessionState) bit() uint32 { return 1 << s }

// HandlerFunc handles one decoded command. sess is whatever the caller passed
// to Dispatch; the packet package does not know the session type.
type HandlerFunc func(sess any, r *Reader)

type route struct {
	fn     HandlerFunc
	states uint32
}

// Registry routes client opcodes to handlers, gated by session state.
type Registry struct {
	routes  map[byte]route
	charset Charset
	log     *zap.Logger
}

func NewRegistry(cs Charset, log *zap.Logger) *Registry {
	return &Registry{
		routes:  make(map[byte]route, len(clientOpcodeNames)),
		charset: cs,
		log:     log,
	}
}

// Charset returns the charset readers are created with.
func (reg *Registry) Charset() Charset { return reg.charset }

// Has reports whether a handler is registered for opcode.
func (reg *Registry) Has(opcode byte) bool {
	_, ok := reg.routes[opcode]
	return ok
}

// Register routes opcode to fn in the listed states. A later registration
// for the same opcode replaces the earlier one.
func (reg *Registry) Register(opcode byte, states []SessionState, fn HandlerFunc) {
	rt := route{fn: fn}
	for _, s := range states {
		rt.states |= s.bit()
	}
	reg.routes[opcode] = rt
}

// Dispatch runs the handler for data[0]. Unknown opcodes are dropped without
// error; a handler panic is recovered and returned as an error.
func (reg *Registry) Dispatch(sess any, state SessionState, data []byte) (err error) {
	if len(data) == 0 {
		return ErrEmptyPacket
	}
	op := data[0]
	rt, ok := reg.routes[op]
	if !ok {
		reg.log.Debug("unknown opcode dropped",
			zap.String("opcode", OpcodeName(op)),
			zap.Stringer("state", state),
		)
		return nil
	}
	if rt.states&state.bit() == 0 {
		reg.log.Warn("opcode refused",
			zap.String("opcode", OpcodeName(op)),
			zap.Stringer("state", state),
		)
		return fmt.Errorf("%s in %s: %w", OpcodeName(op), state, ErrNotAllowed)
	}

	defer func() {
		if rec := recover(); rec != nil {
			reg.log.Error("handler panic recovered",
				zap.String("opcode", OpcodeName(op)),
				zap.Any("panic", rec),
				zap.Stack("stack"),
			)
			err = fmt.Errorf("handler %s panicked: %v", OpcodeName(op), rec)
		}
	}()
	reg.log.Debug("dispatch",
		zap.String("opcode", OpcodeName(op)),
		zap.Int("size", len(data)),
	)
	rt.fn(sess, NewReaderCharset(data, reg.charset))
	return nil
}
