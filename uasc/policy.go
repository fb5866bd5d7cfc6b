// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package uasc

import (
	"crypto/rsa"
	"crypto/x509"

	"github.com/imatic-tech/opcua/ua"
)

// SecurityPolicy is the Crypto Module's policy abstraction (spec.md C2):
// it knows how to sign/verify and encrypt/decrypt for one security policy
// URI, and how to derive symmetric keys from the nonce pair exchanged in
// OpenSecureChannel.
type SecurityPolicy interface {
	URI() string

	// AsymmetricOverhead returns the signature length that a chunk using
	// this policy's asymmetric algorithm (the OPN message path) carries;
	// the expansion added by asymmetric encryption is not included.
	AsymmetricOverhead() int

	// CompareCertificateThumbprint reports whether thumbprint identifies
	// this policy's local certificate, used by a server to select the
	// policy matching an inbound AsymmetricAlgorithmSecurityHeader.
	CompareCertificateThumbprint(thumbprint []byte) bool

	// DeriveKeys derives the symmetric signing/encryption keys and IV from
	// the nonce pair (Part 6, Sec 6.7.5). Both roles pass the client's
	// nonce first and the server's second, so client and server derive the
	// same Client*/Server* halves.
	DeriveKeys(clientNonce, serverNonce []byte) (*SymmetricKeys, error)

	// SymmetricOverhead is the byte overhead (padding + signature) a
	// symmetric (MSG) chunk adds once keys are derived.
	SymmetricOverhead() int

	// SealAsymmetric signs plaintext with key and encrypts the result for
	// remoteCert's public key, for an OPN chunk's body. header is the
	// already-serialized cleartext AsymmetricAlgorithmSecurityHeader plus
	// SequenceHeader that precedes it on the wire; it is folded into the
	// signature but never itself encrypted.
	SealAsymmetric(key *rsa.PrivateKey, remoteCert *x509.Certificate, header, plaintext []byte) ([]byte, error)

	// OpenAsymmetric reverses SealAsymmetric: key decrypts, remoteCert
	// verifies the embedded signature against header+plaintext.
	OpenAsymmetric(key *rsa.PrivateKey, remoteCert *x509.Certificate, header, sealed []byte) ([]byte, error)

	// SealSymmetric encrypts and signs plaintext for an MSG chunk's body
	// using keys derived by DeriveKeys. fromClient selects which half of
	// keys is the sender's (true when the client is sending/was sent from,
	// regardless of which role calls this method).
	SealSymmetric(keys *SymmetricKeys, fromClient bool, header, plaintext []byte) ([]byte, error)

	// OpenSymmetric reverses SealSymmetric.
	OpenSymmetric(keys *SymmetricKeys, fromClient bool, header, sealed []byte) ([]byte, error)
}

// SymmetricKeys are the keys derived after a channel opens or renews,
// separate for each direction per Part 6, Sec 6.7.5.
type SymmetricKeys struct {
	ClientSigningKey    []byte
	ClientEncryptingKey []byte
	ClientIV            []byte
	ServerSigningKey    []byte
	ServerEncryptingKey []byte
	ServerIV            []byte
}

// PolicyRegistry maps a security policy URI to its implementation. A server
// uses it to pick a policy matching an inbound OpenSecureChannelRequest's
// AsymmetricAlgorithmSecurityHeader; a client uses it to look up the policy
// named by the endpoint it selected.
type PolicyRegistry struct {
	policies map[string]SecurityPolicy
}

// NewPolicyRegistry creates an empty registry.
func NewPolicyRegistry() *PolicyRegistry {
	return &PolicyRegistry{policies: map[string]SecurityPolicy{}}
}

// DefaultPolicyRegistry returns a registry seeded with every policy this
// module implements (None, Basic256Sha256).
func DefaultPolicyRegistry() *PolicyRegistry {
	r := NewPolicyRegistry()
	r.Register(NewNonePolicy())
	r.Register(NewBasic256Sha256Policy(nil, nil))
	return r
}

// Register adds or replaces a policy by its URI.
func (r *PolicyRegistry) Register(p SecurityPolicy) { r.policies[p.URI()] = p }

// Lookup returns the policy registered for uri, or an error if none matches
// (StatusBadSecurityPolicyRejected, Part 4, Sec 7.35).
func (r *PolicyRegistry) Lookup(uri string) (SecurityPolicy, error) {
	if uri == "" {
		uri = ua.SecurityPolicyURINone
	}
	p, ok := r.policies[uri]
	if !ok {
		return nil, ua.StatusBadSecurityPolicyRejected
	}
	return p, nil
}

// Match finds the policy whose URI and certificate thumbprint matches an
// inbound AsymmetricAlgorithmSecurityHeader (open62541's
// UA_Server_configSecureChannel policy-selection loop).
func (r *PolicyRegistry) Match(h *ua.AsymmetricAlgorithmSecurityHeader) (SecurityPolicy, error) {
	p, ok := r.policies[h.SecurityPolicyURI]
	if !ok {
		return nil, ua.StatusBadSecurityPolicyRejected
	}
	if !p.CompareCertificateThumbprint(h.ReceiverCertificateThumbprint) {
		return nil, ua.StatusBadSecurityChecksFailed
	}
	return p, nil
}
