package packet

import "encoding/binary"

// Writer encodes a server packet, opcode first. Multi-byte fields are
// little-endian.
type Writer struct {
	out []byte
	cs  Charset
}

func NewWriter() *Writer {
	return &Writer{out: make([]byte, 0, 64), cs: UTF8}
}

func NewWriterWithOpcode(opcode byte) *Writer {
	return NewWriterCharset(opcode, UTF8)
}

func NewWriterCharset(opcode byte, cs Charset) *Writer {
	return &Writer{out: append(make([]byte, 0, 64), opcode), cs: cs}
}

func (w *Writer) WriteC(v byte) { w.out = append(w.out, v) }

func (w *Writer) WriteBool(v bool) {
	var b byte
	if v {
		b = 1
	}
	w.out = append(w.out, b)
}

func (w *Writer) WriteH(v uint16) { w.out = binary.LittleEndian.AppendUint16(w.out, v) }

func (w *Writer) WriteD(v int32) { w.out = binary.LittleEndian.AppendUint32(w.out, uint32(v)) }

// WriteS encodes s in the writer's charset followed by a NUL.
func (w *Writer) WriteS(s string) {
	w.out = append(w.out, w.cs.Encode(s)...)
	w.out = append(w.out, 0)
}

func (w *Writer) WriteBytes(b []byte) { w.out = append(w.out, b...) }

// Bytes returns the encoded packet. The slice aliases the writer's buffer.
func (w *Writer) Bytes() []byte { return w.out }

func (w *Writer) Len() int { return len(w.out) }
