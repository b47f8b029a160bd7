package packet

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// ErrShortPacket reports a read past the end of the payload.
var ErrShortPacket = errors.New("short packet")

// Reader decodes the fields that follow the opcode byte. A read past the end
// yields a zero value and marks the reader short; check Err once all fields
// are read.
type Reader struct {
	buf   []byte
	pos   int
	cs    Charset
	short bool
}

func NewReader(data []byte) *Reader {
	return NewReaderCharset(data, UTF8)
}

func NewReaderCharset(data []byte, cs Charset) *Reader {
	return &Reader{buf: data, pos: 1, cs: cs}
}

func (r *Reader) Opcode() byte {
	if len(r.buf) == 0 {
		return 0
	}
	return r.buf[0]
}

// take returns the next n bytes, or nil once the payload is exhausted.
func (r *Reader) take(n int) []byte {
	if r.pos+n > len(r.buf) {
		r.short = true
		r.pos = len(r.buf)
		return nil
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b
}

// ReadC reads one byte.
func (r *Reader) ReadC() byte {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

// ReadH reads a little-endian uint16.
func (r *Reader) ReadH() uint16 {
	if b := r.take(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

// ReadD reads a little-endian int32.
func (r *Reader) ReadD() int32 {
	if b := r.take(4); b != nil {
		return int32(binary.LittleEndian.Uint32(b))
	}
	return 0
}

// ReadS reads a NUL-terminated string in the reader's charset. A missing
// terminator consumes the rest of the payload and marks the reader short.
func (r *Reader) ReadS() string {
	if r.pos >= len(r.buf) {
		r.short = true
		return ""
	}
	rest := r.buf[r.pos:]
	end := bytes.IndexByte(rest, 0)
	if end < 0 {
		r.short = true
		r.pos = len(r.buf)
		return r.cs.Decode(rest)
	}
	r.pos += end + 1
	return r.cs.Decode(rest[:end])
}

// ReadBytes returns a copy of the next n bytes, or whatever is left when
// fewer remain.
func (r *Reader) ReadBytes(n int) []byte {
	avail := r.Remaining()
	if n > avail {
		r.short = true
		n = avail
	}
	if n <= 0 {
		return nil
	}
	out := append([]byte(nil), r.buf[r.pos:r.pos+n]...)
	r.pos += n
	return out
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	if r.pos >= len(r.buf) {
		return 0
	}
	return len(r.buf) - r.pos
}

// Err returns ErrShortPacket if any read ran past the payload.
func (r *Reader) Err() error {
	if r.short {
		return ErrShortPacket
	}
	return nil
}
