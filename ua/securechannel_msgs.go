// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package ua

import "github.com/imatic-tech/opcua/id"

// ChannelSecurityToken describes the token issued or renewed by
// OpenSecureChannel (Part 4, Sec 7.31). RevisedLifetime and CreatedAt are
// wire-facing mirrors of uasc.SecureChannel's monotonic bookkeeping.
type ChannelSecurityToken struct {
	ChannelID       uint32
	TokenID         uint32
	CreatedAt       uint64 // wire timestamp (100ns ticks since epoch), informational only
	RevisedLifetime uint32 // milliseconds
}

func (t *ChannelSecurityToken) Encode(e *Encoder) {
	e.WriteUint32(t.ChannelID)
	e.WriteUint32(t.TokenID)
	e.WriteInt64(int64(t.CreatedAt))
	e.WriteUint32(t.RevisedLifetime)
}

func DecodeChannelSecurityToken(d *Decoder) *ChannelSecurityToken {
	t := &ChannelSecurityToken{}
	t.ChannelID = d.ReadUint32()
	t.TokenID = d.ReadUint32()
	t.CreatedAt = uint64(d.ReadInt64())
	t.RevisedLifetime = d.ReadUint32()
	return t
}

// OpenSecureChannelRequest requests a fresh or renewed security token
// (Part 4, Sec 5.5.2).
type OpenSecureChannelRequest struct {
	RequestHeader          *RequestHeader
	ClientProtocolVersion uint32
	RequestType            SecurityTokenRequestType
	SecurityMode           MessageSecurityMode
	ClientNonce            []byte
	RequestedLifetime      uint32
}

func (r *OpenSecureChannelRequest) Encode(e *Encoder) {
	NewFourByteNodeID(0, uint16(id.OpenSecureChannelRequest_Encoding_DefaultBinary)).Encode(e)
	r.RequestHeader.Encode(e)
	e.WriteUint32(r.ClientProtocolVersion)
	e.WriteUint32(uint32(r.RequestType))
	e.WriteUint32(uint32(r.SecurityMode))
	e.WriteByteString(r.ClientNonce)
	e.WriteUint32(r.RequestedLifetime)
}

func DecodeOpenSecureChannelRequest(d *Decoder) *OpenSecureChannelRequest {
	r := &OpenSecureChannelRequest{}
	r.RequestHeader = DecodeRequestHeader(d)
	r.ClientProtocolVersion = d.ReadUint32()
	r.RequestType = SecurityTokenRequestType(d.ReadUint32())
	r.SecurityMode = MessageSecurityMode(d.ReadUint32())
	r.ClientNonce = d.ReadByteString()
	r.RequestedLifetime = d.ReadUint32()
	return r
}

// OpenSecureChannelResponse carries the issued/renewed token and server nonce.
type OpenSecureChannelResponse struct {
	ResponseHeader        *ResponseHeader
	ServerProtocolVersion uint32
	SecurityToken          *ChannelSecurityToken
	ServerNonce            []byte
}

func (r *OpenSecureChannelResponse) Encode(e *Encoder) {
	NewFourByteNodeID(0, uint16(id.OpenSecureChannelResponse_Encoding_DefaultBinary)).Encode(e)
	r.ResponseHeader.Encode(e)
	e.WriteUint32(r.ServerProtocolVersion)
	r.SecurityToken.Encode(e)
	e.WriteByteString(r.ServerNonce)
}

func DecodeOpenSecureChannelResponse(d *Decoder) *OpenSecureChannelResponse {
	r := &OpenSecureChannelResponse{}
	r.ResponseHeader = DecodeResponseHeader(d)
	r.ServerProtocolVersion = d.ReadUint32()
	r.SecurityToken = DecodeChannelSecurityToken(d)
	r.ServerNonce = d.ReadByteString()
	return r
}

// CloseSecureChannelRequest asks the server to tear down the channel. The
// server never replies to it (spec.md §4.2, matching the C reference's
// Service_CloseSecureChannel comment).
type CloseSecureChannelRequest struct {
	RequestHeader *RequestHeader
}

func (r *CloseSecureChannelRequest) Encode(e *Encoder) {
	NewFourByteNodeID(0, uint16(id.CloseSecureChannelRequest_Encoding_DefaultBinary)).Encode(e)
	r.RequestHeader.Encode(e)
}

func DecodeCloseSecureChannelRequest(d *Decoder) *CloseSecureChannelRequest {
	r := &CloseSecureChannelRequest{}
	r.RequestHeader = DecodeRequestHeader(d)
	return r
}

// AsymmetricAlgorithmSecurityHeader prefixes every OPN chunk (Part 6, Sec 6.7.2).
type AsymmetricAlgorithmSecurityHeader struct {
	SecurityPolicyURI           string
	SenderCertificate            []byte
	ReceiverCertificateThumbprint []byte
}

func (h *AsymmetricAlgorithmSecurityHeader) Encode(e *Encoder) {
	e.WriteString(h.SecurityPolicyURI)
	e.WriteByteString(h.SenderCertificate)
	e.WriteByteString(h.ReceiverCertificateThumbprint)
}

func DecodeAsymmetricAlgorithmSecurityHeader(d *Decoder) *AsymmetricAlgorithmSecurityHeader {
	h := &AsymmetricAlgorithmSecurityHeader{}
	h.SecurityPolicyURI = d.ReadString()
	h.SenderCertificate = d.ReadByteString()
	h.ReceiverCertificateThumbprint = d.ReadByteString()
	return h
}

// SymmetricAlgorithmSecurityHeader prefixes every MSG chunk (Part 6, Sec 6.7.3).
type SymmetricAlgorithmSecurityHeader struct {
	TokenID uint32
}

func (h *SymmetricAlgorithmSecurityHeader) Encode(e *Encoder) { e.WriteUint32(h.TokenID) }

func DecodeSymmetricAlgorithmSecurityHeader(d *Decoder) *SymmetricAlgorithmSecurityHeader {
	return &SymmetricAlgorithmSecurityHeader{TokenID: d.ReadUint32()}
}

// SequenceHeader carries the per-chunk sequence number and request id
// (Part 6, Sec 6.7.4).
type SequenceHeader struct {
	SequenceNumber uint32
	RequestID      uint32
}

func (h *SequenceHeader) Encode(e *Encoder) {
	e.WriteUint32(h.SequenceNumber)
	e.WriteUint32(h.RequestID)
}

func DecodeSequenceHeader(d *Decoder) *SequenceHeader {
	return &SequenceHeader{SequenceNumber: d.ReadUint32(), RequestID: d.ReadUint32()}
}
