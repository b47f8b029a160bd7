package net

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const frameHeader = 2

// MaxPayload is the largest payload the 16-bit length prefix can describe.
const MaxPayload = 1<<16 - 1 - frameHeader

var (
	ErrEmptyFrame    = errors.New("empty frame")
	ErrOversizeFrame = errors.New("frame exceeds max payload")
)

// Frames are [uint16 LE length, header included][payload]; payload byte 0 is
// the opcode.

// ReadFrame returns the next payload from r with the length prefix stripped.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [frameHeader]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("read frame header: %w", err)
	}
	n := int(binary.LittleEndian.Uint16(hdr[:])) - frameHeader
	if err := checkPayload(n); err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read frame payload (%d bytes): %w", n, err)
	}
	return payload, nil
}

// WriteFrame prefixes data with its length and writes it in a single call.
func WriteFrame(w io.Writer, data []byte) error {
	if err := checkPayload(len(data)); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	buf := make([]byte, frameHeader+len(data))
	binary.LittleEndian.PutUint16(buf, uint16(len(buf)))
	copy(buf[frameHeader:], data)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func checkPayload(n int) error {
	switch {
	case n <= 0:
		return ErrEmptyFrame
	case n > MaxPayload:
		return ErrOversizeFrame
	}
	return nil
}
