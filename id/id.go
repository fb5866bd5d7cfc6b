// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

// Package id holds the numeric NodeID identifiers (namespace 0) for the
// message types the core encodes and decodes. It is a small, hand-picked
// slice of the full OPC UA identifier table (which the real generated `id`
// package in the upstream project carries in full) — only the services the
// client connect engine and server channel manager actually speak.
package id

const (
	OpenSecureChannelRequest_Encoding_DefaultBinary  uint32 = 446
	OpenSecureChannelResponse_Encoding_DefaultBinary uint32 = 449
	CloseSecureChannelRequest_Encoding_DefaultBinary uint32 = 452

	GetEndpointsRequest_Encoding_DefaultBinary  uint32 = 428
	GetEndpointsResponse_Encoding_DefaultBinary uint32 = 431

	CreateSessionRequest_Encoding_DefaultBinary  uint32 = 461
	CreateSessionResponse_Encoding_DefaultBinary uint32 = 464

	ActivateSessionRequest_Encoding_DefaultBinary  uint32 = 467
	ActivateSessionResponse_Encoding_DefaultBinary uint32 = 470

	CloseSessionRequest_Encoding_DefaultBinary  uint32 = 473
	CloseSessionResponse_Encoding_DefaultBinary uint32 = 476

	ReadRequest_Encoding_DefaultBinary  uint32 = 631
	ReadResponse_Encoding_DefaultBinary uint32 = 634

	WriteRequest_Encoding_DefaultBinary  uint32 = 673
	WriteResponse_Encoding_DefaultBinary uint32 = 676

	BrowseRequest_Encoding_DefaultBinary  uint32 = 527
	BrowseResponse_Encoding_DefaultBinary uint32 = 530

	AnonymousIdentityToken_Encoding_DefaultBinary  uint32 = 321
	UserNameIdentityToken_Encoding_DefaultBinary   uint32 = 324
	X509IdentityToken_Encoding_DefaultBinary       uint32 = 327
	IssuedIdentityToken_Encoding_DefaultBinary     uint32 = 940

	ServiceFault_Encoding_DefaultBinary uint32 = 397

	Server_ServerStatus_State uint32 = 2259
)
