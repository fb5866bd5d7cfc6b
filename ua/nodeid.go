// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package ua

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/imatic-tech/opcua/errors"
)

// NodeIDType is the encoding variant of a NodeID (Part 6, Sec 5.2.2.9).
type NodeIDType byte

const (
	NodeIDTypeTwoByte NodeIDType = 0
	NodeIDTypeFourByte NodeIDType = 1
	NodeIDTypeNumeric NodeIDType = 2
	NodeIDTypeString  NodeIDType = 3
	NodeIDTypeGUID    NodeIDType = 4
	NodeIDTypeByteString NodeIDType = 5
)

// NodeID identifies a node, a request/response type, or a well-known value.
// Only the Numeric and String encodings are used by the core; GUID and
// opaque (ByteString) identifiers are read past on decode and their value is
// discarded, so such a NodeID keeps only its type and namespace.
type NodeID struct {
	typ       NodeIDType
	namespace uint16
	numeric   uint32
	str       string
}

// NewTwoByteNodeID returns a NodeID in the compact two-byte encoding
// (namespace 0 implied, identifier 0-255).
func NewTwoByteNodeID(id byte) *NodeID {
	return &NodeID{typ: NodeIDTypeTwoByte, numeric: uint32(id)}
}

// NewFourByteNodeID returns a NodeID in the compact four-byte encoding.
func NewFourByteNodeID(ns uint8, id uint16) *NodeID {
	return &NodeID{typ: NodeIDTypeFourByte, namespace: uint16(ns), numeric: uint32(id)}
}

// NewNumericNodeID returns a NodeID with a numeric identifier.
func NewNumericNodeID(ns uint16, id uint32) *NodeID {
	return &NodeID{typ: NodeIDTypeNumeric, namespace: ns, numeric: id}
}

// NewStringNodeID returns a NodeID with a string identifier.
func NewStringNodeID(ns uint16, id string) *NodeID {
	return &NodeID{typ: NodeIDTypeString, namespace: ns, str: id}
}

// Namespace returns the node's namespace index.
func (n *NodeID) Namespace() uint16 { return n.namespace }

// IntID returns the numeric identifier, if any.
func (n *NodeID) IntID() uint32 { return n.numeric }

// StringID returns the string identifier, if any.
func (n *NodeID) StringID() string { return n.str }

// Type returns the NodeID's wire encoding variant.
func (n *NodeID) Type() NodeIDType { return n.typ }

func (n *NodeID) String() string {
	switch n.typ {
	case NodeIDTypeTwoByte, NodeIDTypeFourByte, NodeIDTypeNumeric:
		return fmt.Sprintf("ns=%d;i=%d", n.namespace, n.numeric)
	case NodeIDTypeString:
		return fmt.Sprintf("ns=%d;s=%s", n.namespace, n.str)
	default:
		return fmt.Sprintf("ns=%d;?", n.namespace)
	}
}

// Equal reports whether two NodeIDs identify the same node.
func (n *NodeID) Equal(o *NodeID) bool {
	if n == nil || o == nil {
		return n == o
	}
	return n.namespace == o.namespace && n.numeric == o.numeric && n.str == o.str
}

// ParseNodeID parses the textual NodeID syntax "ns=<n>;i=<id>" or
// "ns=<n>;s=<id>" used by tooling and config files.
func ParseNodeID(s string) (*NodeID, error) {
	if s == "" {
		return NewTwoByteNodeID(0), nil
	}
	var ns uint16
	parts := strings.Split(s, ";")
	rest := parts
	if len(parts) > 1 && strings.HasPrefix(parts[0], "ns=") {
		n, err := strconv.ParseUint(strings.TrimPrefix(parts[0], "ns="), 10, 16)
		if err != nil {
			return nil, errors.Wrapf(err, "ua: invalid NodeID namespace in %q", s)
		}
		ns = uint16(n)
		rest = parts[1:]
	}
	if len(rest) != 1 {
		return nil, errors.Errorf("ua: invalid NodeID %q", s)
	}
	switch {
	case strings.HasPrefix(rest[0], "i="):
		id, err := strconv.ParseUint(strings.TrimPrefix(rest[0], "i="), 10, 32)
		if err != nil {
			return nil, errors.Wrapf(err, "ua: invalid NodeID identifier in %q", s)
		}
		return NewNumericNodeID(ns, uint32(id)), nil
	case strings.HasPrefix(rest[0], "s="):
		return NewStringNodeID(ns, strings.TrimPrefix(rest[0], "s=")), nil
	default:
		return nil, errors.Errorf("ua: invalid NodeID %q", s)
	}
}

// Encode writes the NodeID's binary encoding, always using the generic
// Numeric/String form (the compact two/four-byte forms are a decode-only
// convenience, matching how the core only ever transmits fully qualified ids).
func (n *NodeID) Encode(e *Encoder) {
	if n == nil {
		e.WriteByte(byte(NodeIDTypeTwoByte))
		e.WriteByte(0)
		return
	}
	switch n.typ {
	case NodeIDTypeString:
		e.WriteByte(byte(NodeIDTypeString))
		e.WriteUint16(n.namespace)
		e.WriteString(n.str)
	default:
		e.WriteByte(byte(NodeIDTypeNumeric))
		e.WriteUint16(n.namespace)
		e.WriteUint32(n.numeric)
	}
}

// DecodeNodeID reads a NodeID in any of its wire encodings.
func DecodeNodeID(d *Decoder) *NodeID {
	typ := NodeIDType(d.ReadByte())
	n := &NodeID{typ: typ}
	switch typ {
	case NodeIDTypeTwoByte:
		n.numeric = uint32(d.ReadByte())
	case NodeIDTypeFourByte:
		n.namespace = uint16(d.ReadByte())
		n.numeric = uint32(d.ReadUint16())
	case NodeIDTypeNumeric:
		n.namespace = d.ReadUint16()
		n.numeric = d.ReadUint32()
	case NodeIDTypeString:
		n.namespace = d.ReadUint16()
		n.str = d.ReadString()
	case NodeIDTypeGUID:
		n.namespace = d.ReadUint16()
		_ = d.ReadRaw(16)
	case NodeIDTypeByteString:
		n.namespace = d.ReadUint16()
		_ = d.ReadByteString()
	default:
		d.fail(errors.Errorf("ua: unknown NodeID encoding 0x%02X", byte(typ)))
	}
	return n
}
