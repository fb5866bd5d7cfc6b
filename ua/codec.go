// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package ua

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"

	"github.com/imatic-tech/opcua/errors"
)

// Encoder writes the OPC UA binary wire encoding (Part 6, Sec 5.2):
// little-endian integers, i32-length-prefixed strings/byte strings with -1
// meaning null.
type Encoder struct {
	buf bytes.Buffer
}

// NewEncoder returns an empty Encoder.
func NewEncoder() *Encoder { return &Encoder{} }

// Bytes returns the encoded bytes so far.
func (e *Encoder) Bytes() []byte { return e.buf.Bytes() }

func (e *Encoder) WriteByte(v byte)     { e.buf.WriteByte(v) }
func (e *Encoder) WriteBool(v bool) {
	if v {
		e.buf.WriteByte(1)
		return
	}
	e.buf.WriteByte(0)
}

func (e *Encoder) WriteUint16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	e.buf.Write(b[:])
}

func (e *Encoder) WriteUint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	e.buf.Write(b[:])
}

func (e *Encoder) WriteUint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	e.buf.Write(b[:])
}

func (e *Encoder) WriteInt32(v int32)   { e.WriteUint32(uint32(v)) }
func (e *Encoder) WriteInt64(v int64)   { e.WriteUint64(uint64(v)) }
func (e *Encoder) WriteFloat64(v float64) {
	e.WriteUint64(math.Float64bits(v))
}

// WriteByteString writes a byte string: i32 length (-1 for null) then bytes.
func (e *Encoder) WriteByteString(b []byte) {
	if b == nil {
		e.WriteInt32(-1)
		return
	}
	e.WriteInt32(int32(len(b)))
	e.buf.Write(b)
}

// WriteString writes a UTF-8 string the same way as a byte string.
func (e *Encoder) WriteString(s string) {
	if s == "" {
		e.WriteInt32(-1)
		return
	}
	e.WriteByteString([]byte(s))
}

// WriteRaw appends raw bytes with no length prefix.
func (e *Encoder) WriteRaw(b []byte) { e.buf.Write(b) }

// Decoder reads the OPC UA binary wire encoding.
type Decoder struct {
	r   *bytes.Reader
	err error
}

// NewDecoder wraps b for decoding.
func NewDecoder(b []byte) *Decoder { return &Decoder{r: bytes.NewReader(b)} }

// Err returns the first error encountered during decoding, if any.
func (d *Decoder) Err() error { return d.err }

func (d *Decoder) fail(err error) {
	if d.err == nil {
		d.err = err
	}
}

func (d *Decoder) ReadByte() byte {
	b, err := d.r.ReadByte()
	if err != nil {
		d.fail(errors.Wrap(err, "ua: short read"))
		return 0
	}
	return b
}

func (d *Decoder) ReadBool() bool { return d.ReadByte() != 0 }

func (d *Decoder) ReadUint16() uint16 {
	var b [2]byte
	if _, err := io.ReadFull(d.r, b[:]); err != nil {
		d.fail(errors.Wrap(err, "ua: short read"))
		return 0
	}
	return binary.LittleEndian.Uint16(b[:])
}

func (d *Decoder) ReadUint32() uint32 {
	var b [4]byte
	if _, err := io.ReadFull(d.r, b[:]); err != nil {
		d.fail(errors.Wrap(err, "ua: short read"))
		return 0
	}
	return binary.LittleEndian.Uint32(b[:])
}

func (d *Decoder) ReadUint64() uint64 {
	var b [8]byte
	if _, err := io.ReadFull(d.r, b[:]); err != nil {
		d.fail(errors.Wrap(err, "ua: short read"))
		return 0
	}
	return binary.LittleEndian.Uint64(b[:])
}

func (d *Decoder) ReadInt32() int32     { return int32(d.ReadUint32()) }
func (d *Decoder) ReadInt64() int64     { return int64(d.ReadUint64()) }
func (d *Decoder) ReadFloat64() float64 { return math.Float64frombits(d.ReadUint64()) }

// ReadByteString reads a length-prefixed byte string. A length of -1 yields nil.
func (d *Decoder) ReadByteString() []byte {
	n := d.ReadInt32()
	if d.err != nil {
		return nil
	}
	if n < 0 {
		return nil
	}
	if n == 0 {
		return []byte{}
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(d.r, b); err != nil {
		d.fail(errors.Wrap(err, "ua: short read"))
		return nil
	}
	return b
}

func (d *Decoder) ReadString() string {
	b := d.ReadByteString()
	if b == nil {
		return ""
	}
	return string(b)
}

// ReadRaw reads n raw bytes with no length prefix.
func (d *Decoder) ReadRaw(n int) []byte {
	b := make([]byte, n)
	if _, err := io.ReadFull(d.r, b); err != nil {
		d.fail(errors.Wrap(err, "ua: short read"))
		return nil
	}
	return b
}

// Len returns the number of unread bytes.
func (d *Decoder) Len() int { return d.r.Len() }

// Remaining reads and returns every unread byte.
func (d *Decoder) Remaining() []byte { return d.ReadRaw(d.r.Len()) }
