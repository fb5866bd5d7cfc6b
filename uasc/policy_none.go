// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package uasc

import (
	"crypto/rsa"
	"crypto/x509"

	"github.com/imatic-tech/opcua/ua"
)

// nonePolicy implements SecurityPolicy for http://opcfoundation.org/UA/SecurityPolicy#None:
// no signing, no encryption, no keys. Mandatory per spec.md §2 (C2).
type nonePolicy struct{}

func NewNonePolicy() SecurityPolicy { return &nonePolicy{} }

func (*nonePolicy) URI() string { return ua.SecurityPolicyURINone }

func (*nonePolicy) AsymmetricOverhead() int { return 0 }

// CompareCertificateThumbprint always matches: None never carries a
// certificate to check against.
func (*nonePolicy) CompareCertificateThumbprint([]byte) bool { return true }

func (*nonePolicy) DeriveKeys(_, _ []byte) (*SymmetricKeys, error) {
	return &SymmetricKeys{}, nil
}

func (*nonePolicy) SymmetricOverhead() int { return 0 }

// None applies no cryptography at any layer: Seal/Open are pass-throughs,
// matching MessageSecurityModeNone's semantics (Part 4, Sec 7.15).

func (*nonePolicy) SealAsymmetric(_ *rsa.PrivateKey, _ *x509.Certificate, _, plaintext []byte) ([]byte, error) {
	return plaintext, nil
}

func (*nonePolicy) OpenAsymmetric(_ *rsa.PrivateKey, _ *x509.Certificate, _, sealed []byte) ([]byte, error) {
	return sealed, nil
}

func (*nonePolicy) SealSymmetric(_ *SymmetricKeys, _ bool, _, plaintext []byte) ([]byte, error) {
	return plaintext, nil
}

func (*nonePolicy) OpenSymmetric(_ *SymmetricKeys, _ bool, _, sealed []byte) ([]byte, error) {
	return sealed, nil
}
