// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package ua

import (
	"testing"

	"github.com/pascaldekloe/goe/verify"
)

func TestEndpointDescriptionRoundTrip(t *testing.T) {
	want := &EndpointDescription{
		EndpointURL: "opc.tcp://localhost:4840",
		Server: &ApplicationDescription{
			ApplicationURI: "urn:example:server",
			ProductURI:     "urn:example:product",
			ApplicationType: ApplicationTypeServer,
			DiscoveryURLs:   []string{"opc.tcp://localhost:4840"},
		},
		SecurityMode:      MessageSecurityModeSignAndEncrypt,
		SecurityPolicyURI: SecurityPolicyURIBasic256Sha256,
		UserIdentityTokens: []*UserTokenPolicy{
			{PolicyID: "Anonymous", TokenType: UserTokenTypeAnonymous},
		},
		TransportProfileURI: "http://opcfoundation.org/UA-Profile/Transport/uatcp-uasc-uabinary",
		SecurityLevel:       100,
	}

	e := NewEncoder()
	want.Encode(e)
	d := NewDecoder(e.Bytes())
	got := DecodeEndpointDescription(d)
	if err := d.Err(); err != nil {
		t.Fatalf("decode error: %v", err)
	}

	verify.Values(t, "endpoint", got, want)
}
