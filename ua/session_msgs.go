// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package ua

import "github.com/imatic-tech/opcua/id"

// GetEndpointsRequest asks a server which endpoints it offers (Part 4, Sec 5.4.4).
type GetEndpointsRequest struct {
	RequestHeader   *RequestHeader
	EndpointURL     string
	LocaleIDs       []string
	ProfileURIs     []string
}

func (r *GetEndpointsRequest) Encode(e *Encoder) {
	NewFourByteNodeID(0, uint16(id.GetEndpointsRequest_Encoding_DefaultBinary)).Encode(e)
	r.RequestHeader.Encode(e)
	e.WriteString(r.EndpointURL)
	e.WriteInt32(int32(len(r.LocaleIDs)))
	for _, l := range r.LocaleIDs {
		e.WriteString(l)
	}
	e.WriteInt32(int32(len(r.ProfileURIs)))
	for _, p := range r.ProfileURIs {
		e.WriteString(p)
	}
}

func DecodeGetEndpointsRequest(d *Decoder) *GetEndpointsRequest {
	r := &GetEndpointsRequest{}
	r.RequestHeader = DecodeRequestHeader(d)
	r.EndpointURL = d.ReadString()
	if n := d.ReadInt32(); n > 0 {
		for i := int32(0); i < n; i++ {
			r.LocaleIDs = append(r.LocaleIDs, d.ReadString())
		}
	}
	if n := d.ReadInt32(); n > 0 {
		for i := int32(0); i < n; i++ {
			r.ProfileURIs = append(r.ProfileURIs, d.ReadString())
		}
	}
	return r
}

// GetEndpointsResponse returns the matching endpoint descriptions.
type GetEndpointsResponse struct {
	ResponseHeader *ResponseHeader
	Endpoints       []*EndpointDescription
}

func (r *GetEndpointsResponse) Encode(e *Encoder) {
	NewFourByteNodeID(0, uint16(id.GetEndpointsResponse_Encoding_DefaultBinary)).Encode(e)
	r.ResponseHeader.Encode(e)
	e.WriteInt32(int32(len(r.Endpoints)))
	for _, ep := range r.Endpoints {
		ep.Encode(e)
	}
}

func DecodeGetEndpointsResponse(d *Decoder) *GetEndpointsResponse {
	r := &GetEndpointsResponse{}
	r.ResponseHeader = DecodeResponseHeader(d)
	n := d.ReadInt32()
	for i := int32(0); i < n; i++ {
		r.Endpoints = append(r.Endpoints, DecodeEndpointDescription(d))
	}
	return r
}

// CreateSessionRequest opens a new (not yet activated) session (Part 4, Sec 5.6.2).
type CreateSessionRequest struct {
	RequestHeader           *RequestHeader
	ClientDescription        *ApplicationDescription
	ServerURI                string
	EndpointURL              string
	SessionName              string
	ClientNonce              []byte
	ClientCertificate        []byte
	RequestedSessionTimeout float64
	MaxResponseMessageSize  uint32
}

func (r *CreateSessionRequest) Encode(e *Encoder) {
	NewFourByteNodeID(0, uint16(id.CreateSessionRequest_Encoding_DefaultBinary)).Encode(e)
	r.RequestHeader.Encode(e)
	r.ClientDescription.Encode(e)
	e.WriteString(r.ServerURI)
	e.WriteString(r.EndpointURL)
	e.WriteString(r.SessionName)
	e.WriteByteString(r.ClientNonce)
	e.WriteByteString(r.ClientCertificate)
	e.WriteFloat64(r.RequestedSessionTimeout)
	e.WriteUint32(r.MaxResponseMessageSize)
}

func DecodeCreateSessionRequest(d *Decoder) *CreateSessionRequest {
	r := &CreateSessionRequest{}
	r.RequestHeader = DecodeRequestHeader(d)
	r.ClientDescription = DecodeApplicationDescription(d)
	r.ServerURI = d.ReadString()
	r.EndpointURL = d.ReadString()
	r.SessionName = d.ReadString()
	r.ClientNonce = d.ReadByteString()
	r.ClientCertificate = d.ReadByteString()
	r.RequestedSessionTimeout = d.ReadFloat64()
	r.MaxResponseMessageSize = d.ReadUint32()
	return r
}

// CreateSessionResponse returns the new session's identity and the
// parameters needed to activate it (Part 4, Sec 5.6.2).
type CreateSessionResponse struct {
	ResponseHeader              *ResponseHeader
	SessionID                    *NodeID
	AuthenticationToken          *NodeID
	RevisedSessionTimeout       float64
	ServerNonce                  []byte
	ServerCertificate            []byte
	ServerEndpoints              []*EndpointDescription
	ServerSignature              *SignatureData
	MaxRequestMessageSize        uint32
}

func (r *CreateSessionResponse) Encode(e *Encoder) {
	NewFourByteNodeID(0, uint16(id.CreateSessionResponse_Encoding_DefaultBinary)).Encode(e)
	r.ResponseHeader.Encode(e)
	r.SessionID.Encode(e)
	r.AuthenticationToken.Encode(e)
	e.WriteFloat64(r.RevisedSessionTimeout)
	e.WriteByteString(r.ServerNonce)
	e.WriteByteString(r.ServerCertificate)
	e.WriteInt32(int32(len(r.ServerEndpoints)))
	for _, ep := range r.ServerEndpoints {
		ep.Encode(e)
	}
	r.ServerSignature.Encode(e)
	e.WriteUint32(r.MaxRequestMessageSize)
}

func DecodeCreateSessionResponse(d *Decoder) *CreateSessionResponse {
	r := &CreateSessionResponse{}
	r.ResponseHeader = DecodeResponseHeader(d)
	r.SessionID = DecodeNodeID(d)
	r.AuthenticationToken = DecodeNodeID(d)
	r.RevisedSessionTimeout = d.ReadFloat64()
	r.ServerNonce = d.ReadByteString()
	r.ServerCertificate = d.ReadByteString()
	n := d.ReadInt32()
	for i := int32(0); i < n; i++ {
		r.ServerEndpoints = append(r.ServerEndpoints, DecodeEndpointDescription(d))
	}
	r.ServerSignature = DecodeSignatureData(d)
	r.MaxRequestMessageSize = d.ReadUint32()
	return r
}

// ActivateSessionRequest activates a session and associates identity and
// locale information with it (Part 4, Sec 5.6.3).
type ActivateSessionRequest struct {
	RequestHeader              *RequestHeader
	ClientSignature             *SignatureData
	LocaleIDs                   []string
	UserIdentityToken           *ExtensionObject
	UserTokenSignature          *SignatureData
}

func (r *ActivateSessionRequest) Encode(e *Encoder) {
	NewFourByteNodeID(0, uint16(id.ActivateSessionRequest_Encoding_DefaultBinary)).Encode(e)
	r.RequestHeader.Encode(e)
	r.ClientSignature.Encode(e)
	e.WriteInt32(0) // ClientSoftwareCertificates: always empty in this core.
	e.WriteInt32(int32(len(r.LocaleIDs)))
	for _, l := range r.LocaleIDs {
		e.WriteString(l)
	}
	r.UserIdentityToken.Encode(e)
	r.UserTokenSignature.Encode(e)
}

func DecodeActivateSessionRequest(d *Decoder) *ActivateSessionRequest {
	r := &ActivateSessionRequest{}
	r.RequestHeader = DecodeRequestHeader(d)
	r.ClientSignature = DecodeSignatureData(d)
	if n := d.ReadInt32(); n > 0 {
		for i := int32(0); i < n; i++ {
			DecodeExtensionObject(d) // ClientSoftwareCertificates: not interpreted.
		}
	}
	if n := d.ReadInt32(); n > 0 {
		for i := int32(0); i < n; i++ {
			r.LocaleIDs = append(r.LocaleIDs, d.ReadString())
		}
	}
	r.UserIdentityToken = DecodeExtensionObject(d)
	r.UserTokenSignature = DecodeSignatureData(d)
	return r
}

// ActivateSessionResponse confirms activation and provides a fresh server nonce.
type ActivateSessionResponse struct {
	ResponseHeader *ResponseHeader
	ServerNonce     []byte
	Results         []StatusCode
}

func (r *ActivateSessionResponse) Encode(e *Encoder) {
	NewFourByteNodeID(0, uint16(id.ActivateSessionResponse_Encoding_DefaultBinary)).Encode(e)
	r.ResponseHeader.Encode(e)
	e.WriteByteString(r.ServerNonce)
	e.WriteInt32(int32(len(r.Results)))
	for _, s := range r.Results {
		e.WriteUint32(uint32(s))
	}
}

func DecodeActivateSessionResponse(d *Decoder) *ActivateSessionResponse {
	r := &ActivateSessionResponse{}
	r.ResponseHeader = DecodeResponseHeader(d)
	r.ServerNonce = d.ReadByteString()
	n := d.ReadInt32()
	for i := int32(0); i < n; i++ {
		r.Results = append(r.Results, StatusCode(d.ReadUint32()))
	}
	return r
}

// CloseSessionRequest ends a session (Part 4, Sec 5.6.4).
type CloseSessionRequest struct {
	RequestHeader       *RequestHeader
	DeleteSubscriptions bool
}

func (r *CloseSessionRequest) Encode(e *Encoder) {
	NewFourByteNodeID(0, uint16(id.CloseSessionRequest_Encoding_DefaultBinary)).Encode(e)
	r.RequestHeader.Encode(e)
	e.WriteBool(r.DeleteSubscriptions)
}

func DecodeCloseSessionRequest(d *Decoder) *CloseSessionRequest {
	r := &CloseSessionRequest{}
	r.RequestHeader = DecodeRequestHeader(d)
	r.DeleteSubscriptions = d.ReadBool()
	return r
}

// CloseSessionResponse acknowledges session closure.
type CloseSessionResponse struct {
	ResponseHeader *ResponseHeader
}

func (r *CloseSessionResponse) Encode(e *Encoder) {
	NewFourByteNodeID(0, uint16(id.CloseSessionResponse_Encoding_DefaultBinary)).Encode(e)
	r.ResponseHeader.Encode(e)
}

func DecodeCloseSessionResponse(d *Decoder) *CloseSessionResponse {
	return &CloseSessionResponse{ResponseHeader: DecodeResponseHeader(d)}
}
