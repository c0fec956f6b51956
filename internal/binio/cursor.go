// Package binio provides sequential big-endian readers and writers for the binary
// model files consumed by the voice model service.
package binio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

var (
	// ErrUnexpectedEOF indicates that fewer bytes remain than a read requires.
	ErrUnexpectedEOF = fmt.Errorf("binio: unexpected end of data: %w", io.ErrUnexpectedEOF)
	// ErrNoMark indicates that Reset was called without a preceding Mark.
	ErrNoMark = errors.New("binio: reset without mark")
	// ErrNegativeLength indicates a negative length was requested for a block read.
	ErrNegativeLength = errors.New("binio: negative block length")
)

const noMark = -1

// Cursor reads big-endian primitives from an in-memory byte slice. Every read either
// succeeds and advances the cursor or fails with ErrUnexpectedEOF and leaves the
// position unchanged.
type Cursor struct {
	data []byte
	pos  int
	mark int
}

// NewCursor returns a cursor positioned at the first byte of data.
func NewCursor(data []byte) *Cursor {
	return &Cursor{
		data: data,
		pos:  0,
		mark: noMark,
	}
}

// NewCursorFromReader drains r into memory and returns a cursor over its contents.
func NewCursorFromReader(reader io.Reader) (*Cursor, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("binio: failed to read source: %w", err)
	}

	return NewCursor(data), nil
}

// Pos returns the number of bytes consumed so far.
func (c *Cursor) Pos() int {
	return c.pos
}

// Remaining returns the number of unread bytes.
func (c *Cursor) Remaining() int {
	return len(c.data) - c.pos
}

// Mark remembers the current position for a later Reset.
func (c *Cursor) Mark() {
	c.mark = c.pos
}

// Reset rewinds the cursor to the position recorded by Mark. The mark is consumed.
func (c *Cursor) Reset() error {
	if c.mark == noMark {
		return ErrNoMark
	}

	c.pos = c.mark
	c.mark = noMark

	return nil
}

func (c *Cursor) take(n int) ([]byte, error) {
	if n < 0 {
		return nil, ErrNegativeLength
	}

	if c.Remaining() < n {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrUnexpectedEOF, n, c.pos, c.Remaining())
	}

	chunk := c.data[c.pos : c.pos+n]
	c.pos += n

	return chunk, nil
}

// ReadUint8 reads one unsigned byte.
func (c *Cursor) ReadUint8() (uint8, error) {
	chunk, err := c.take(1)
	if err != nil {
		return 0, err
	}

	return chunk[0], nil
}

// ReadInt8 reads one signed byte.
func (c *Cursor) ReadInt8() (int8, error) {
	value, err := c.ReadUint8()

	return int8(value), err
}

// ReadUint16 reads a big-endian unsigned 16-bit integer.
func (c *Cursor) ReadUint16() (uint16, error) {
	chunk, err := c.take(2)
	if err != nil {
		return 0, err
	}

	return binary.BigEndian.Uint16(chunk), nil
}

// ReadInt16 reads a big-endian signed 16-bit integer.
func (c *Cursor) ReadInt16() (int16, error) {
	value, err := c.ReadUint16()

	return int16(value), err
}

// ReadUint32 reads a big-endian unsigned 32-bit integer.
func (c *Cursor) ReadUint32() (uint32, error) {
	chunk, err := c.take(4)
	if err != nil {
		return 0, err
	}

	return binary.BigEndian.Uint32(chunk), nil
}

// ReadInt32 reads a big-endian signed 32-bit integer.
func (c *Cursor) ReadInt32() (int32, error) {
	value, err := c.ReadUint32()

	return int32(value), err
}

// ReadFloat32 reads a big-endian IEEE 754 single precision value.
func (c *Cursor) ReadFloat32() (float32, error) {
	bits, err := c.ReadUint32()
	if err != nil {
		return 0, err
	}

	return math.Float32frombits(bits), nil
}

// ReadBytes reads exactly n raw bytes. The returned slice is a copy.
func (c *Cursor) ReadBytes(n int) ([]byte, error) {
	chunk, err := c.take(n)
	if err != nil {
		return nil, err
	}

	out := make([]byte, n)
	copy(out, chunk)

	return out, nil
}

// ReadUTF reads a string written with Java's DataOutput.writeUTF: an unsigned 16-bit byte
// length followed by modified UTF-8.
func (c *Cursor) ReadUTF() (string, error) {
	start := c.pos

	length, err := c.ReadUint16()
	if err != nil {
		return "", err
	}

	chunk, err := c.take(int(length))
	if err != nil {
		c.pos = start

		return "", err
	}

	text, decodeErr := decodeModifiedUTF8(chunk)
	if decodeErr != nil {
		c.pos = start

		return "", fmt.Errorf("%w at offset %d", decodeErr, start)
	}

	return text, nil
}
