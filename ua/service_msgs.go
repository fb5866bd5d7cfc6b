// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package ua

import (
	"time"

	"github.com/imatic-tech/opcua/id"
)

// AttributeID identifies which attribute of a node a ReadValueID addresses
// (Part 4, Sec 7.4). Only Value is used by default (mirroring the teacher's
// Client.Read default).
type AttributeID uint32

const AttributeIDValue AttributeID = 13

// TimestampsToReturn controls which timestamps a Read response includes
// (Part 4, Sec 5.10.2.2).
type TimestampsToReturn uint32

const (
	TimestampsToReturnSource TimestampsToReturn = 0
	TimestampsToReturnServer TimestampsToReturn = 1
	TimestampsToReturnBoth    TimestampsToReturn = 2
	TimestampsToReturnNeither TimestampsToReturn = 3
)

// QualifiedName is a name scoped to a namespace (Part 3, Sec 8.3).
type QualifiedName struct {
	NamespaceIndex uint16
	Name            string
}

func (q *QualifiedName) Encode(e *Encoder) {
	if q == nil {
		e.WriteUint16(0)
		e.WriteString("")
		return
	}
	e.WriteUint16(q.NamespaceIndex)
	e.WriteString(q.Name)
}

func DecodeQualifiedName(d *Decoder) *QualifiedName {
	return &QualifiedName{NamespaceIndex: d.ReadUint16(), Name: d.ReadString()}
}

// DataValue encoding mask bits (Part 6, Sec 5.2.2.17).
const (
	DataValueValue StatusCode = 1 << 0
)

// DataValue pairs a value with its status. Source and server timestamps
// are not carried.
type DataValue struct {
	EncodingMask StatusCode
	Value         *Variant
	Status        StatusCode
}

func (v *DataValue) Encode(e *Encoder) {
	e.WriteByte(byte(v.EncodingMask))
	if v.EncodingMask&DataValueValue != 0 {
		v.Value.Encode(e)
	}
}

func DecodeDataValue(d *Decoder) *DataValue {
	v := &DataValue{}
	mask := d.ReadByte()
	v.EncodingMask = StatusCode(mask)
	if mask&0x02 != 0 { // status present
		v.Status = StatusCode(d.ReadUint32())
	}
	if mask&0x01 != 0 { // value present
		v.Value = DecodeVariant(d)
	}
	return v
}

// ReadValueID identifies one attribute to read (Part 4, Sec 7.26).
type ReadValueID struct {
	NodeID       *NodeID
	AttributeID  AttributeID
	IndexRange   string
	DataEncoding *QualifiedName
}

func (r *ReadValueID) Encode(e *Encoder) {
	r.NodeID.Encode(e)
	e.WriteUint32(uint32(r.AttributeID))
	e.WriteString(r.IndexRange)
	r.DataEncoding.Encode(e)
}

func DecodeReadValueID(d *Decoder) *ReadValueID {
	r := &ReadValueID{}
	r.NodeID = DecodeNodeID(d)
	r.AttributeID = AttributeID(d.ReadUint32())
	r.IndexRange = d.ReadString()
	r.DataEncoding = DecodeQualifiedName(d)
	return r
}

// ReadRequest reads one or more attributes (Part 4, Sec 5.10.2).
type ReadRequest struct {
	RequestHeader      *RequestHeader
	MaxAge              float64
	TimestampsToReturn TimestampsToReturn
	NodesToRead         []*ReadValueID
}

func (r *ReadRequest) Encode(e *Encoder) {
	NewFourByteNodeID(0, uint16(id.ReadRequest_Encoding_DefaultBinary)).Encode(e)
	r.RequestHeader.Encode(e)
	e.WriteFloat64(r.MaxAge)
	e.WriteUint32(uint32(r.TimestampsToReturn))
	e.WriteInt32(int32(len(r.NodesToRead)))
	for _, n := range r.NodesToRead {
		n.Encode(e)
	}
}

func DecodeReadRequest(d *Decoder) *ReadRequest {
	r := &ReadRequest{}
	r.RequestHeader = DecodeRequestHeader(d)
	r.MaxAge = d.ReadFloat64()
	r.TimestampsToReturn = TimestampsToReturn(d.ReadUint32())
	n := d.ReadInt32()
	for i := int32(0); i < n; i++ {
		r.NodesToRead = append(r.NodesToRead, DecodeReadValueID(d))
	}
	return r
}

// ReadResult is one decoded entry of a ReadResponse, pairing the attribute
// status with its value for convenience (not a wire type on its own).
type ReadResult struct {
	Status StatusCode
	Value   *Variant
}

// ReadResponse returns the requested attribute values.
type ReadResponse struct {
	ResponseHeader *ResponseHeader
	Results         []*ReadResult
}

func (r *ReadResponse) Encode(e *Encoder) {
	NewFourByteNodeID(0, uint16(id.ReadResponse_Encoding_DefaultBinary)).Encode(e)
	r.ResponseHeader.Encode(e)
	e.WriteInt32(int32(len(r.Results)))
	for _, res := range r.Results {
		dv := &DataValue{EncodingMask: DataValueValue | 2, Value: res.Value, Status: res.Status}
		e.WriteByte(byte(dv.EncodingMask))
		e.WriteUint32(uint32(dv.Status))
		dv.Value.Encode(e)
	}
	e.WriteInt32(0) // DiagnosticInfos: empty.
}

func DecodeReadResponse(d *Decoder) *ReadResponse {
	r := &ReadResponse{}
	r.ResponseHeader = DecodeResponseHeader(d)
	n := d.ReadInt32()
	for i := int32(0); i < n; i++ {
		dv := DecodeDataValue(d)
		r.Results = append(r.Results, &ReadResult{Status: dv.Status, Value: dv.Value})
	}
	d.ReadInt32() // DiagnosticInfos
	return r
}

// WriteValue pairs a node/attribute address with the value to write
// (Part 4, Sec 7.38).
type WriteValue struct {
	NodeID       *NodeID
	AttributeID  AttributeID
	IndexRange   string
	Value         *DataValue
}

func (w *WriteValue) Encode(e *Encoder) {
	w.NodeID.Encode(e)
	e.WriteUint32(uint32(w.AttributeID))
	e.WriteString(w.IndexRange)
	w.Value.Encode(e)
}

func DecodeWriteValue(d *Decoder) *WriteValue {
	w := &WriteValue{}
	w.NodeID = DecodeNodeID(d)
	w.AttributeID = AttributeID(d.ReadUint32())
	w.IndexRange = d.ReadString()
	w.Value = DecodeDataValue(d)
	return w
}

// WriteRequest writes one or more attributes (Part 4, Sec 5.10.4).
type WriteRequest struct {
	RequestHeader *RequestHeader
	NodesToWrite   []*WriteValue
}

func (r *WriteRequest) Encode(e *Encoder) {
	NewFourByteNodeID(0, uint16(id.WriteRequest_Encoding_DefaultBinary)).Encode(e)
	r.RequestHeader.Encode(e)
	e.WriteInt32(int32(len(r.NodesToWrite)))
	for _, w := range r.NodesToWrite {
		w.Encode(e)
	}
}

func DecodeWriteRequest(d *Decoder) *WriteRequest {
	r := &WriteRequest{}
	r.RequestHeader = DecodeRequestHeader(d)
	n := d.ReadInt32()
	for i := int32(0); i < n; i++ {
		r.NodesToWrite = append(r.NodesToWrite, DecodeWriteValue(d))
	}
	return r
}

// WriteResponse returns the per-value write status.
type WriteResponse struct {
	ResponseHeader *ResponseHeader
	Results         []StatusCode
}

func (r *WriteResponse) Encode(e *Encoder) {
	NewFourByteNodeID(0, uint16(id.WriteResponse_Encoding_DefaultBinary)).Encode(e)
	r.ResponseHeader.Encode(e)
	e.WriteInt32(int32(len(r.Results)))
	for _, s := range r.Results {
		e.WriteUint32(uint32(s))
	}
	e.WriteInt32(0) // DiagnosticInfos: empty.
}

func DecodeWriteResponse(d *Decoder) *WriteResponse {
	r := &WriteResponse{}
	r.ResponseHeader = DecodeResponseHeader(d)
	n := d.ReadInt32()
	for i := int32(0); i < n; i++ {
		r.Results = append(r.Results, StatusCode(d.ReadUint32()))
	}
	d.ReadInt32()
	return r
}

// BrowseDirection selects which references to return (Part 4, Sec 7.6).
type BrowseDirection uint32

const (
	BrowseDirectionForward BrowseDirection = 0
	BrowseDirectionInverse BrowseDirection = 1
	BrowseDirectionBoth     BrowseDirection = 2
)

// BrowseDescription specifies one node to browse (Part 4, Sec 7.5).
type BrowseDescription struct {
	NodeID          *NodeID
	BrowseDirection BrowseDirection
	ReferenceTypeID *NodeID
	IncludeSubtypes bool
	NodeClassMask   uint32
	ResultMask       uint32
}

func (b *BrowseDescription) Encode(e *Encoder) {
	b.NodeID.Encode(e)
	e.WriteUint32(uint32(b.BrowseDirection))
	b.ReferenceTypeID.Encode(e)
	e.WriteBool(b.IncludeSubtypes)
	e.WriteUint32(b.NodeClassMask)
	e.WriteUint32(b.ResultMask)
}

func DecodeBrowseDescription(d *Decoder) *BrowseDescription {
	b := &BrowseDescription{}
	b.NodeID = DecodeNodeID(d)
	b.BrowseDirection = BrowseDirection(d.ReadUint32())
	b.ReferenceTypeID = DecodeNodeID(d)
	b.IncludeSubtypes = d.ReadBool()
	b.NodeClassMask = d.ReadUint32()
	b.ResultMask = d.ReadUint32()
	return b
}

// ViewDescription selects a view to restrict Browse to (Part 4, Sec 7.39).
// The core only ever sends the default (no view).
type ViewDescription struct{}

func (*ViewDescription) Encode(e *Encoder) {
	NewTwoByteNodeID(0).Encode(e)
	EncodeDateTime(e, time.Time{})
	e.WriteUint32(0)
}

// BrowseRequest browses the references of one or more nodes (Part 4, Sec 5.8.2).
type BrowseRequest struct {
	RequestHeader          *RequestHeader
	RequestedMaxReferencesPerNode uint32
	NodesToBrowse            []*BrowseDescription
}

func (r *BrowseRequest) Encode(e *Encoder) {
	NewFourByteNodeID(0, uint16(id.BrowseRequest_Encoding_DefaultBinary)).Encode(e)
	r.RequestHeader.Encode(e)
	(&ViewDescription{}).Encode(e)
	e.WriteUint32(r.RequestedMaxReferencesPerNode)
	e.WriteInt32(int32(len(r.NodesToBrowse)))
	for _, n := range r.NodesToBrowse {
		n.Encode(e)
	}
}

func DecodeBrowseRequest(d *Decoder) *BrowseRequest {
	r := &BrowseRequest{}
	r.RequestHeader = DecodeRequestHeader(d)
	DecodeNodeID(d)
	d.ReadInt64()
	d.ReadUint32()
	r.RequestedMaxReferencesPerNode = d.ReadUint32()
	n := d.ReadInt32()
	for i := int32(0); i < n; i++ {
		r.NodesToBrowse = append(r.NodesToBrowse, DecodeBrowseDescription(d))
	}
	return r
}

// ReferenceDescription describes one reference found by Browse (Part 4, Sec 7.27).
type ReferenceDescription struct {
	ReferenceTypeID *NodeID
	IsForward        bool
	NodeID           *NodeID
	BrowseName       *QualifiedName
	DisplayName      string
}

func (r *ReferenceDescription) Encode(e *Encoder) {
	r.ReferenceTypeID.Encode(e)
	e.WriteBool(r.IsForward)
	r.NodeID.Encode(e)
	r.BrowseName.Encode(e)
	e.WriteUint32(0) // DisplayName locale: none.
	e.WriteString(r.DisplayName)
	e.WriteUint32(0) // NodeClass: unspecified.
	r.NodeID.Encode(e) // TypeDefinition: reuse NodeID, acceptable simplification for this core.
}

func DecodeReferenceDescription(d *Decoder) *ReferenceDescription {
	r := &ReferenceDescription{}
	r.ReferenceTypeID = DecodeNodeID(d)
	r.IsForward = d.ReadBool()
	r.NodeID = DecodeNodeID(d)
	r.BrowseName = DecodeQualifiedName(d)
	d.ReadUint32()
	r.DisplayName = d.ReadString()
	d.ReadUint32()
	DecodeNodeID(d)
	return r
}

// BrowseResult is the per-node outcome of a BrowseRequest.
type BrowseResult struct {
	StatusCode        StatusCode
	ContinuationPoint []byte
	References        []*ReferenceDescription
}

func (b *BrowseResult) Encode(e *Encoder) {
	e.WriteUint32(uint32(b.StatusCode))
	e.WriteByteString(b.ContinuationPoint)
	e.WriteInt32(int32(len(b.References)))
	for _, r := range b.References {
		r.Encode(e)
	}
}

func DecodeBrowseResult(d *Decoder) *BrowseResult {
	b := &BrowseResult{}
	b.StatusCode = StatusCode(d.ReadUint32())
	b.ContinuationPoint = d.ReadByteString()
	n := d.ReadInt32()
	for i := int32(0); i < n; i++ {
		b.References = append(b.References, DecodeReferenceDescription(d))
	}
	return b
}

// BrowseResponse returns the result of browsing each requested node.
type BrowseResponse struct {
	ResponseHeader *ResponseHeader
	Results         []*BrowseResult
}

func (r *BrowseResponse) Encode(e *Encoder) {
	NewFourByteNodeID(0, uint16(id.BrowseResponse_Encoding_DefaultBinary)).Encode(e)
	r.ResponseHeader.Encode(e)
	e.WriteInt32(int32(len(r.Results)))
	for _, res := range r.Results {
		res.Encode(e)
	}
	e.WriteInt32(0) // DiagnosticInfos: empty.
}

func DecodeBrowseResponse(d *Decoder) *BrowseResponse {
	r := &BrowseResponse{}
	r.ResponseHeader = DecodeResponseHeader(d)
	n := d.ReadInt32()
	for i := int32(0); i < n; i++ {
		r.Results = append(r.Results, DecodeBrowseResult(d))
	}
	d.ReadInt32()
	return r
}
