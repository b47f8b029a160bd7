package packet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestReaderWriterRoundTrip(t *testing.T) {
	w := NewWriterWithOpcode(C_OPCODE_SET_BLOCK)
	w.WriteD(-5)
	w.WriteD(64)
	w.WriteH(300)
	w.WriteS("stone")
	w.WriteBool(true)
	w.WriteC(9)

	r := NewReader(w.Bytes())
	assert.Equal(t, C_OPCODE_SET_BLOCK, r.Opcode())
	assert.Equal(t, int32(-5), r.ReadD())
	assert.Equal(t, int32(64), r.ReadD())
	assert.Equal(t, uint16(300), r.ReadH())
	assert.Equal(t, "stone", r.ReadS())
	assert.Equal(t, byte(1), r.ReadC())
	assert.Equal(t, byte(9), r.ReadC())
	assert.Equal(t, 0, r.Remaining())
	assert.NoError(t, r.Err())

	// reads past the end yield zero values
	assert.Equal(t, int32(0), r.ReadD())
	assert.Equal(t, "", r.ReadS())
	assert.Equal(t, 0, r.Remaining())
	assert.ErrorIs(t, r.Err(), ErrShortPacket)
}

func TestReaderUnterminatedString(t *testing.T) {
	r := NewReader([]byte{C_OPCODE_AUTH, 'a', 'b'})
	assert.Equal(t, "ab", r.ReadS())
	assert.ErrorIs(t, r.Err(), ErrShortPacket)

	r = NewReader(nil)
	assert.Equal(t, byte(0), r.Opcode())
	assert.Equal(t, 0, r.Remaining())
	assert.Empty(t, r.ReadBytes(4))
}

func TestCharsetBig5(t *testing.T) {
	cs, err := LookupCharset("big5")
	require.NoError(t, err)
	assert.Equal(t, "big5", cs.Name())

	w := NewWriterCharset(S_OPCODE_MESSAGE, cs)
	w.WriteS("石頭")
	raw := w.Bytes()
	assert.NotEqual(t, append([]byte{S_OPCODE_MESSAGE}, append([]byte("石頭"), 0)...), raw)

	r := NewReaderCharset(raw, cs)
	assert.Equal(t, "石頭", r.ReadS())

	assert.Equal(t, "ascii", cs.Decode([]byte("ascii")))
}

func TestLookupCharset(t *testing.T) {
	cs, err := LookupCharset("")
	require.NoError(t, err)
	assert.Equal(t, "utf-8", cs.Name())

	cs, err = LookupCharset("UTF8")
	require.NoError(t, err)
	assert.Equal(t, "utf-8", cs.Name())

	_, err = LookupCharset("klingon")
	assert.Error(t, err)

	assert.Equal(t, "utf-8", Charset{}.Name())
	assert.Equal(t, "é", Charset{}.Decode([]byte("é")))
}

func TestRegistryDispatch(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	reg := NewRegistry(UTF8, zap.New(core))

	var got string
	reg.Register(C_OPCODE_AUTH, []SessionState{StateHandshake}, func(sess any, r *Reader) {
		got = sess.(string) + ":" + r.ReadS()
	})
	reg.Register(C_OPCODE_DUMP, []SessionState{StateAuthenticated}, func(any, *Reader) {
		panic("boom")
	})
	assert.True(t, reg.Has(C_OPCODE_AUTH))
	assert.False(t, reg.Has(C_OPCODE_QUIT))

	auth := NewWriterWithOpcode(C_OPCODE_AUTH)
	auth.WriteS("alice")
	require.NoError(t, reg.Dispatch("s1", StateHandshake, auth.Bytes()))
	assert.Equal(t, "s1:alice", got)

	assert.ErrorIs(t, reg.Dispatch("s1", StateAuthenticated, auth.Bytes()), ErrNotAllowed)
	assert.Equal(t, 1, logs.FilterMessage("opcode refused").Len())

	assert.NoError(t, reg.Dispatch("s1", StateHandshake, []byte{0xEE}), "unknown opcodes are ignored")
	assert.Equal(t, 1, logs.FilterMessage("unknown opcode dropped").Len())
	assert.ErrorIs(t, reg.Dispatch("s1", StateHandshake, nil), ErrEmptyPacket)

	err := reg.Dispatch("s1", StateAuthenticated, []byte{C_OPCODE_DUMP})
	require.Error(t, err)
	assert.Equal(t, 1, logs.FilterMessage("handler panic recovered").Len())
}

func TestOpcodeName(t *testing.T) {
	assert.Equal(t, "set_block", OpcodeName(C_OPCODE_SET_BLOCK))
	assert.Equal(t, "0xee", OpcodeName(0xEE))
	assert.Equal(t, "authenticated", StateAuthenticated.String())
}
