// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package ua

import "github.com/imatic-tech/opcua/id"

// NewExtensionObject wraps a UserIdentityToken for transmission inside
// ActivateSessionRequest. Only encoding is needed: the core never has to
// decode an identity token back out (that belongs to session/service
// dispatch, an external collaborator per spec.md §6).
func NewExtensionObject(tok UserIdentityToken) *ExtensionObject {
	e := NewEncoder()
	var typeID uint32
	switch t := tok.(type) {
	case *AnonymousIdentityToken:
		e.WriteString(t.PolicyID)
		typeID = id.AnonymousIdentityToken_Encoding_DefaultBinary
	case *UserNameIdentityToken:
		e.WriteString(t.PolicyID)
		e.WriteString(t.UserName)
		e.WriteByteString(t.Password)
		e.WriteString(t.EncryptionAlgorithm)
		typeID = id.UserNameIdentityToken_Encoding_DefaultBinary
	case *X509IdentityToken:
		e.WriteString(t.PolicyID)
		e.WriteByteString(t.CertificateData)
		typeID = id.X509IdentityToken_Encoding_DefaultBinary
	case *IssuedIdentityToken:
		e.WriteString(t.PolicyID)
		e.WriteByteString(t.TokenData)
		e.WriteString(t.EncryptionAlgorithm)
		typeID = id.IssuedIdentityToken_Encoding_DefaultBinary
	default:
		return &ExtensionObject{}
	}
	return &ExtensionObject{
		TypeID: NewFourByteNodeID(0, uint16(typeID)),
		Value:  e.Bytes(),
	}
}
