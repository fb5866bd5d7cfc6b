// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package ua

// UserTokenType enumerates the identity token kinds a server can offer and a
// client can present at ActivateSession (Part 4, Sec 7.36.2).
type UserTokenType uint32

const (
	UserTokenTypeAnonymous   UserTokenType = 0
	UserTokenTypeUserName    UserTokenType = 1
	UserTokenTypeCertificate UserTokenType = 2
	UserTokenTypeIssuedToken UserTokenType = 3
)

// UserTokenPolicy is one of the identity token choices a server endpoint
// advertises (Part 4, Sec 7.37).
type UserTokenPolicy struct {
	PolicyID          string
	TokenType         UserTokenType
	IssuedTokenType   string
	IssuerEndpointURL string
	SecurityPolicyURI string
}

func (p *UserTokenPolicy) Encode(e *Encoder) {
	e.WriteString(p.PolicyID)
	e.WriteUint32(uint32(p.TokenType))
	e.WriteString(p.IssuedTokenType)
	e.WriteString(p.IssuerEndpointURL)
	e.WriteString(p.SecurityPolicyURI)
}

func DecodeUserTokenPolicy(d *Decoder) *UserTokenPolicy {
	p := &UserTokenPolicy{}
	p.PolicyID = d.ReadString()
	p.TokenType = UserTokenType(d.ReadUint32())
	p.IssuedTokenType = d.ReadString()
	p.IssuerEndpointURL = d.ReadString()
	p.SecurityPolicyURI = d.ReadString()
	return p
}

// UserIdentityToken is implemented by each identity token kind that can be
// carried in ActivateSessionRequest.UserIdentityToken.
type UserIdentityToken interface {
	userIdentityToken()
	PolicyIDOf() string
}

// AnonymousIdentityToken authenticates as the anonymous user.
type AnonymousIdentityToken struct {
	PolicyID string
}

func (*AnonymousIdentityToken) userIdentityToken()     {}
func (t *AnonymousIdentityToken) PolicyIDOf() string   { return t.PolicyID }

// UserNameIdentityToken authenticates with a username/password pair. Password
// is populated with the (possibly encrypted) secret just before sending.
type UserNameIdentityToken struct {
	PolicyID            string
	UserName             string
	Password             []byte
	EncryptionAlgorithm string
}

func (*UserNameIdentityToken) userIdentityToken()   {}
func (t *UserNameIdentityToken) PolicyIDOf() string { return t.PolicyID }

// X509IdentityToken authenticates with a client certificate.
type X509IdentityToken struct {
	PolicyID        string
	CertificateData []byte
}

func (*X509IdentityToken) userIdentityToken()   {}
func (t *X509IdentityToken) PolicyIDOf() string { return t.PolicyID }

// IssuedIdentityToken authenticates with an externally issued token (e.g. a
// SAML or JWT assertion).
type IssuedIdentityToken struct {
	PolicyID            string
	TokenData            []byte
	EncryptionAlgorithm string
}

func (*IssuedIdentityToken) userIdentityToken()   {}
func (t *IssuedIdentityToken) PolicyIDOf() string { return t.PolicyID }

// SignatureData carries an algorithm URI and a signature (Part 4, Sec 7.32).
type SignatureData struct {
	Algorithm string
	Signature []byte
}

func (s *SignatureData) Encode(e *Encoder) {
	if s == nil {
		e.WriteString("")
		e.WriteByteString(nil)
		return
	}
	e.WriteString(s.Algorithm)
	e.WriteByteString(s.Signature)
}

func DecodeSignatureData(d *Decoder) *SignatureData {
	s := &SignatureData{}
	s.Algorithm = d.ReadString()
	s.Signature = d.ReadByteString()
	return s
}
