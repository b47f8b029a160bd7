package packet

import "fmt"

// Client opcodes.
const (
	C_OPCODE_AUTH          byte = 0x01 // name\0 password\0
	C_OPCODE_SET_BLOCK     byte = 0x02 // x y z type\0 meta
	C_OPCODE_BREAK_BLOCK   byte = 0x03 // x y z
	C_OPCODE_EXPLODE       byte = 0x04 // x y z
	C_OPCODE_CONTAINER_PUT byte = 0x05 // x y z slot item\0 count
	C_OPCODE_GENERATE      byte = 0x06 // cx cz
	C_OPCODE_DUMP          byte = 0x07 // operator only
	C_OPCODE_QUIT          byte = 0x08
)

// Server opcodes.
const (
	S_OPCODE_HELLO       byte = 0x80 // version server\0 session
	S_OPCODE_AUTH_RESULT byte = 0x81 // code
	S_OPCODE_OUTCOME     byte = 0x82 // kind\0 status noop reason\0 type\0 meta count
	S_OPCODE_DUMP        byte = 0x83 // text\0
	S_OPCODE_GENERATED   byte = 0x84 // cx cz committed cancelled
	S_OPCODE_MESSAGE     byte = 0x85 // text\0
)

// ProtocolVersion is sent in the hello packet.
const ProtocolVersion int32 = 1

var clientOpcodeNames = map[byte]string{
	C_OPCODE_AUTH:          "auth",
	C_OPCODE_SET_BLOCK:     "set_block",
	C_OPCODE_BREAK_BLOCK:   "break_block",
	C_OPCODE_EXPLODE:       "explode",
	C_OPCODE_CONTAINER_PUT: "container_put",
	C_OPCODE_GENERATE:      "generate",
	C_OPCODE_DUMP:          "dump",
	C_OPCODE_QUIT:          "quit",
}

// OpcodeName names a client opcode for logs.
func OpcodeName(op byte) string {
	if n, ok := clientOpcodeNames[op]; ok {
		return n
	}
	return fmt.Sprintf("0x%02x", op)
}
