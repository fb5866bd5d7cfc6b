// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

// Package uacp implements the OPC UA TCP transport framer: the Hello/
// Acknowledge/Error handshake and the chunk header that prefixes every
// message on the wire (Part 6, Sec 7).
package uacp

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"time"

	"github.com/imatic-tech/opcua/debug"
	"github.com/imatic-tech/opcua/errors"
	"github.com/imatic-tech/opcua/ua"
)

// message types, the 3-byte ASCII tag at the start of every chunk header.
const (
	msgTypeHello  = "HEL"
	msgTypeAck    = "ACK"
	msgTypeError  = "ERR"
	msgTypeOpen   = "OPN"
	msgTypeClose  = "CLO"
	msgTypeMsg    = "MSG"
)

// chunk types, the byte following the message type tag.
const (
	ChunkTypeFinal       = 'F'
	ChunkTypeIntermediate = 'C'
	ChunkTypeAbort        = 'A'
)

// header sizes (Part 6, Sec 7.1).
const hdrLen = 8

// defaults mirrored from the teacher's Hello negotiation.
const (
	DefaultMaxMessageSize  = 16 * 1024 * 1024
	DefaultMaxChunkCount   = 512
	DefaultReceiveBufSize  = 64 * 1024
	DefaultSendBufSize     = 64 * 1024
)

// Error is returned when the remote end sends an ERR message instead of the
// expected response; wraps the status code and a human-readable reason.
type Error struct {
	Code   ua.StatusCode
	Reason string
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return e.Code.Error() + ": " + e.Reason
	}
	return e.Code.Error()
}

// Hello is the client's opening handshake message (Part 6, Sec 7.1.2).
type Hello struct {
	Version        uint32
	ReceiveBufSize uint32
	SendBufSize    uint32
	MaxMessageSize uint32
	MaxChunkCount  uint32
	EndpointURL    string
}

func (h *Hello) encode() []byte {
	e := ua.NewEncoder()
	e.WriteUint32(h.Version)
	e.WriteUint32(h.ReceiveBufSize)
	e.WriteUint32(h.SendBufSize)
	e.WriteUint32(h.MaxMessageSize)
	e.WriteUint32(h.MaxChunkCount)
	e.WriteString(h.EndpointURL)
	return e.Bytes()
}

func decodeHello(d *ua.Decoder) *Hello {
	h := &Hello{}
	h.Version = d.ReadUint32()
	h.ReceiveBufSize = d.ReadUint32()
	h.SendBufSize = d.ReadUint32()
	h.MaxMessageSize = d.ReadUint32()
	h.MaxChunkCount = d.ReadUint32()
	h.EndpointURL = d.ReadString()
	return h
}

// Acknowledge is the server's handshake reply (Part 6, Sec 7.1.3).
type Acknowledge struct {
	Version        uint32
	ReceiveBufSize uint32
	SendBufSize    uint32
	MaxMessageSize uint32
	MaxChunkCount  uint32
}

func (a *Acknowledge) encode() []byte {
	e := ua.NewEncoder()
	e.WriteUint32(a.Version)
	e.WriteUint32(a.ReceiveBufSize)
	e.WriteUint32(a.SendBufSize)
	e.WriteUint32(a.MaxMessageSize)
	e.WriteUint32(a.MaxChunkCount)
	return e.Bytes()
}

func decodeAcknowledge(d *ua.Decoder) *Acknowledge {
	a := &Acknowledge{}
	a.Version = d.ReadUint32()
	a.ReceiveBufSize = d.ReadUint32()
	a.SendBufSize = d.ReadUint32()
	a.MaxMessageSize = d.ReadUint32()
	a.MaxChunkCount = d.ReadUint32()
	return a
}

func (e *Error) encode() []byte {
	en := ua.NewEncoder()
	en.WriteUint32(uint32(e.Code))
	en.WriteString(e.Reason)
	return en.Bytes()
}

func decodeError(d *ua.Decoder) *Error {
	return &Error{Code: ua.StatusCode(d.ReadUint32()), Reason: d.ReadString()}
}

// Conn wraps a net.Conn with chunk-framed read/write. Reads and writes are
// blocking: ReadChunk waits until one whole chunk has arrived (or the read
// deadline/error fires), and each write sends one whole chunk.
type Conn struct {
	net.Conn

	ReceiveBufSize uint32
	SendBufSize    uint32
	MaxMessageSize uint32
	MaxChunkCount  uint32
}

// writeChunk writes one complete chunk: 8-byte header followed by body.
func (c *Conn) writeChunk(msgType string, chunkType byte, body []byte) error {
	if len(msgType) != 3 {
		return errors.Errorf("uacp: invalid message type %q", msgType)
	}
	buf := make([]byte, hdrLen+len(body))
	copy(buf[0:3], msgType)
	buf[3] = chunkType
	binary.LittleEndian.PutUint32(buf[4:8], uint32(hdrLen+len(body)))
	copy(buf[hdrLen:], body)
	_, err := c.Conn.Write(buf)
	return err
}

// Chunk is one decoded frame read off the wire, still carrying its header.
type Chunk struct {
	MessageType string
	ChunkType   byte
	Body        []byte
}

// readChunk blocks until a complete chunk has been read, or the underlying
// connection's read deadline/error fires. It never reads past one chunk.
func readChunk(r io.Reader) (*Chunk, error) {
	hdr := make([]byte, hdrLen)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, err
	}
	msgType := string(hdr[0:3])
	chunkType := hdr[3]
	size := binary.LittleEndian.Uint32(hdr[4:8])
	if size < hdrLen {
		return nil, ua.StatusBadTCPMessageTypeInvalid
	}
	body := make([]byte, size-hdrLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return &Chunk{MessageType: msgType, ChunkType: chunkType, Body: body}, nil
}

// Dial performs the TCP connect and Hello/Acknowledge handshake, returning a
// Conn ready for OpenSecureChannel. Mirrors the teacher's uacp.Dial shape.
func Dial(ctx context.Context, endpointURL string) (*Conn, error) {
	addr, err := parseURL(endpointURL)
	if err != nil {
		return nil, err
	}

	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	c := &Conn{
		Conn:           nc,
		ReceiveBufSize: DefaultReceiveBufSize,
		SendBufSize:    DefaultSendBufSize,
		MaxMessageSize: DefaultMaxMessageSize,
		MaxChunkCount:  DefaultMaxChunkCount,
	}

	if dl, ok := ctx.Deadline(); ok {
		_ = nc.SetDeadline(dl)
		defer nc.SetDeadline(time.Time{})
	}

	hel := &Hello{
		Version:        0,
		ReceiveBufSize: c.ReceiveBufSize,
		SendBufSize:    c.SendBufSize,
		MaxMessageSize: c.MaxMessageSize,
		MaxChunkCount:  c.MaxChunkCount,
		EndpointURL:    endpointURL,
	}
	debug.Printf("uacp: sending HEL to %s", addr)
	if err := c.writeChunk(msgTypeHello, ChunkTypeFinal, hel.encode()); err != nil {
		nc.Close()
		return nil, err
	}

	chunk, err := readChunk(nc)
	if err != nil {
		nc.Close()
		return nil, err
	}
	d2 := ua.NewDecoder(chunk.Body)
	switch chunk.MessageType {
	case msgTypeAck:
		ack := decodeAcknowledge(d2)
		c.ReceiveBufSize = ack.ReceiveBufSize
		c.SendBufSize = ack.SendBufSize
		c.MaxMessageSize = ack.MaxMessageSize
		c.MaxChunkCount = ack.MaxChunkCount
		return c, nil
	case msgTypeError:
		e := decodeError(d2)
		nc.Close()
		return nil, e
	default:
		nc.Close()
		return nil, errors.Errorf("uacp: unexpected message type %q during handshake", chunk.MessageType)
	}
}

// Listener accepts inbound TCP connections and performs the server side of
// the Hello/Acknowledge handshake.
type Listener struct {
	ln net.Listener
}

func Listen(network, address string) (*Listener, error) {
	ln, err := net.Listen(network, address)
	if err != nil {
		return nil, err
	}
	return &Listener{ln: ln}, nil
}

func (l *Listener) Close() error { return l.ln.Close() }

func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Accept blocks for the next inbound connection and completes the Hello/
// Acknowledge handshake before returning.
func (l *Listener) Accept(ctx context.Context) (*Conn, *Hello, error) {
	nc, err := l.ln.Accept()
	if err != nil {
		return nil, nil, err
	}

	if dl, ok := ctx.Deadline(); ok {
		_ = nc.SetDeadline(dl)
		defer nc.SetDeadline(time.Time{})
	}

	chunk, err := readChunk(nc)
	if err != nil {
		nc.Close()
		return nil, nil, err
	}
	if chunk.MessageType != msgTypeHello {
		nc.Close()
		return nil, nil, errors.Errorf("uacp: expected HEL, got %q", chunk.MessageType)
	}
	hel := decodeHello(ua.NewDecoder(chunk.Body))

	c := &Conn{
		Conn:           nc,
		ReceiveBufSize: DefaultReceiveBufSize,
		SendBufSize:    DefaultSendBufSize,
		MaxMessageSize: DefaultMaxMessageSize,
		MaxChunkCount:  DefaultMaxChunkCount,
	}
	ack := &Acknowledge{
		Version:        0,
		ReceiveBufSize: c.ReceiveBufSize,
		SendBufSize:    c.SendBufSize,
		MaxMessageSize: c.MaxMessageSize,
		MaxChunkCount:  c.MaxChunkCount,
	}
	if err := c.writeChunk(msgTypeAck, ChunkTypeFinal, ack.encode()); err != nil {
		nc.Close()
		return nil, nil, err
	}
	return c, hel, nil
}

// WriteOpen writes an OPN chunk (always final: OPN is never split).
func (c *Conn) WriteOpen(body []byte) error { return c.writeChunk(msgTypeOpen, ChunkTypeFinal, body) }

// WriteClose writes a CLO chunk.
func (c *Conn) WriteClose(body []byte) error { return c.writeChunk(msgTypeClose, ChunkTypeFinal, body) }

// WriteMsg writes one MSG chunk with the given chunk type (F, C, or A).
func (c *Conn) WriteMsg(chunkType byte, body []byte) error {
	return c.writeChunk(msgTypeMsg, chunkType, body)
}

// WriteErr sends an ERR message, used by a server to reject a connection.
func (c *Conn) WriteErr(e *Error) error {
	return c.writeChunk(msgTypeError, ChunkTypeFinal, e.encode())
}

// ReadChunk reads the next complete chunk. The caller distinguishes OPN/CLO/
// MSG/ERR by inspecting Chunk.MessageType.
func (c *Conn) ReadChunk() (*Chunk, error) { return readChunk(c.Conn) }
