package binio

import (
	"bytes"
	"encoding/binary"
	"math"
)

// Writer accumulates big-endian primitives in memory. It mirrors Cursor so that model
// files can be written and read back symmetrically.
type Writer struct {
	buf bytes.Buffer
}

// NewWriter returns an empty writer.
func NewWriter() *Writer {
	return &Writer{buf: bytes.Buffer{}}
}

// Bytes returns the encoded data. The slice aliases the writer's buffer.
func (w *Writer) Bytes() []byte {
	return w.buf.Bytes()
}

// Len returns the number of bytes written.
func (w *Writer) Len() int {
	return w.buf.Len()
}

// WriteUint8 appends one byte.
func (w *Writer) WriteUint8(value uint8) {
	w.buf.WriteByte(value)
}

// WriteInt16 appends a big-endian signed 16-bit integer.
func (w *Writer) WriteInt16(value int16) {
	w.WriteUint16(uint16(value))
}

// WriteUint16 appends a big-endian unsigned 16-bit integer.
func (w *Writer) WriteUint16(value uint16) {
	var scratch [2]byte

	binary.BigEndian.PutUint16(scratch[:], value)
	w.buf.Write(scratch[:])
}

// WriteInt32 appends a big-endian signed 32-bit integer.
func (w *Writer) WriteInt32(value int32) {
	w.WriteUint32(uint32(value))
}

// WriteUint32 appends a big-endian unsigned 32-bit integer.
func (w *Writer) WriteUint32(value uint32) {
	var scratch [4]byte

	binary.BigEndian.PutUint32(scratch[:], value)
	w.buf.Write(scratch[:])
}

// WriteFloat32 appends an IEEE 754 single precision value.
func (w *Writer) WriteFloat32(value float32) {
	w.WriteUint32(math.Float32bits(value))
}

// WriteBytes appends raw bytes.
func (w *Writer) WriteBytes(data []byte) {
	w.buf.Write(data)
}

// WriteUTF appends a length-prefixed modified UTF-8 string, as Java's writeUTF does.
func (w *Writer) WriteUTF(text string) error {
	encoded, err := encodeModifiedUTF8(text)
	if err != nil {
		return err
	}

	w.WriteUint16(uint16(len(encoded)))
	w.buf.Write(encoded)

	return nil
}
