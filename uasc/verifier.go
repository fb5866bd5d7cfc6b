// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package uasc

import (
	"crypto/x509"

	"github.com/imatic-tech/opcua/ua"
)

// CertificateVerifier decides whether a peer application certificate is
// trusted. A client's openOrRenew invokes it on the server certificate
// carried by an OpenSecureChannel response; a server's handleOPNBody invokes
// it on the client certificate carried by the request, whenever the
// negotiated policy isn't None.
type CertificateVerifier interface {
	Verify(cert *x509.Certificate) ua.StatusCode
}

// acceptAllVerifier trusts any certificate it's handed. It's the default
// Verifier: this core carries no certificate store or trust list, so a host
// application that needs real PKI validation supplies its own
// CertificateVerifier via the Verifier option.
type acceptAllVerifier struct{}

func (acceptAllVerifier) Verify(*x509.Certificate) ua.StatusCode { return ua.StatusOK }

// NewAcceptAllVerifier returns a CertificateVerifier that accepts every
// certificate.
func NewAcceptAllVerifier() CertificateVerifier { return acceptAllVerifier{} }
