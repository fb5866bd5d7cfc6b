// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package ua

import (
	"time"

	"github.com/imatic-tech/opcua/id"
)

// epoch is the OPC UA DateTime origin (1601-01-01), used to convert to/from
// the wire's 100ns-tick int64 (Part 6, Sec 5.2.2.5).
var epoch = time.Date(1601, 1, 1, 0, 0, 0, 0, time.UTC)

// EncodeDateTime writes t as 100ns ticks since the OPC UA epoch.
func EncodeDateTime(e *Encoder, t time.Time) {
	if t.IsZero() {
		e.WriteInt64(0)
		return
	}
	e.WriteInt64(t.Sub(epoch).Nanoseconds() / 100)
}

// DecodeDateTime reads a wire DateTime back into a time.Time.
func DecodeDateTime(d *Decoder) time.Time {
	ticks := d.ReadInt64()
	if ticks == 0 {
		return time.Time{}
	}
	return epoch.Add(time.Duration(ticks * 100))
}

// RequestHeader prefixes every service request (Part 4, Sec 7.29).
type RequestHeader struct {
	AuthenticationToken *NodeID
	Timestamp            time.Time
	RequestHandle         uint32
	ReturnDiagnostics    uint32
	AuditEntryID         string
	TimeoutHint          uint32
}

func (h *RequestHeader) Encode(e *Encoder) {
	h.AuthenticationToken.Encode(e)
	EncodeDateTime(e, h.Timestamp)
	e.WriteUint32(h.RequestHandle)
	e.WriteUint32(h.ReturnDiagnostics)
	e.WriteString(h.AuditEntryID)
	e.WriteUint32(h.TimeoutHint)
	// AdditionalHeader: null ExtensionObject.
	(&ExtensionObject{}).Encode(e)
}

func DecodeRequestHeader(d *Decoder) *RequestHeader {
	h := &RequestHeader{}
	h.AuthenticationToken = DecodeNodeID(d)
	h.Timestamp = DecodeDateTime(d)
	h.RequestHandle = d.ReadUint32()
	h.ReturnDiagnostics = d.ReadUint32()
	h.AuditEntryID = d.ReadString()
	h.TimeoutHint = d.ReadUint32()
	DecodeExtensionObject(d)
	return h
}

// ResponseHeader prefixes every service response (Part 4, Sec 7.30).
type ResponseHeader struct {
	Timestamp          time.Time
	RequestHandle       uint32
	ServiceResult       StatusCode
	StringTable         []string
}

func (h *ResponseHeader) Encode(e *Encoder) {
	EncodeDateTime(e, h.Timestamp)
	e.WriteUint32(h.RequestHandle)
	e.WriteUint32(uint32(h.ServiceResult))
	// DiagnosticInfo: null.
	e.WriteByte(0)
	e.WriteInt32(int32(len(h.StringTable)))
	for _, s := range h.StringTable {
		e.WriteString(s)
	}
	(&ExtensionObject{}).Encode(e)
}

func DecodeResponseHeader(d *Decoder) *ResponseHeader {
	h := &ResponseHeader{}
	h.Timestamp = DecodeDateTime(d)
	h.RequestHandle = d.ReadUint32()
	h.ServiceResult = StatusCode(d.ReadUint32())
	_ = d.ReadByte() // DiagnosticInfo encoding mask; 0 == absent, core never requests diagnostics.
	n := d.ReadInt32()
	for i := int32(0); i < n; i++ {
		h.StringTable = append(h.StringTable, d.ReadString())
	}
	DecodeExtensionObject(d)
	return h
}

// ExtensionObject is the generic "typed blob" envelope (Part 6, Sec 5.2.2.15).
// The core only ever needs to round-trip it, never interpret an arbitrary
// payload, since the information model is out of scope (spec.md §1).
type ExtensionObject struct {
	TypeID *NodeID
	Value  []byte
}

func (o *ExtensionObject) Encode(e *Encoder) {
	if o == nil || o.TypeID == nil {
		NewTwoByteNodeID(0).Encode(e)
		e.WriteByte(0) // encoding mask: no body
		return
	}
	o.TypeID.Encode(e)
	e.WriteByte(1) // encoding mask: byte string body
	e.WriteByteString(o.Value)
}

// IsServiceFault reports whether typeID identifies a ServiceFault, the
// generic error payload any service call can return instead of its normal
// response (Part 4, Sec 7.33).
func IsServiceFault(typeID *NodeID) bool {
	return typeID.Namespace() == 0 && typeID.IntID() == ServiceFault_Encoding_DefaultBinary
}

// ServiceFault_Encoding_DefaultBinary mirrors id.ServiceFault_Encoding_DefaultBinary
// under the ua package's own naming so callers decoding a response don't need
// to import id directly.
const ServiceFault_Encoding_DefaultBinary = uint32(id.ServiceFault_Encoding_DefaultBinary)

// DecodeServiceFault reads a ServiceFault body, which is just a ResponseHeader.
func DecodeServiceFault(d *Decoder) *ResponseHeader { return DecodeResponseHeader(d) }

func DecodeExtensionObject(d *Decoder) *ExtensionObject {
	o := &ExtensionObject{}
	o.TypeID = DecodeNodeID(d)
	mask := d.ReadByte()
	switch mask {
	case 0:
		// no body
	case 1:
		o.Value = d.ReadByteString()
	case 2:
		o.Value = d.ReadByteString() // XML body, treated as opaque
	}
	return o
}
